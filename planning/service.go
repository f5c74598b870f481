package planning

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-wedding-cache/cache"
	"github.com/goliatone/go-wedding-cache/querycache"
	"github.com/goliatone/go-wedding-cache/remote"
	"github.com/goliatone/go-wedding-cache/store"
)

// WeddingTag groups cached wedding reads.
const WeddingTag = "weddings"

// UserSource reports the signed in user.
type UserSource interface {
	UserID() (string, bool)
}

type Options struct {
	WeddingTTL time.Duration
	Registry   *querycache.Registry
	Reporter   querycache.Reporter
	Now        func() time.Time
	Logger     *slog.Logger
}

type Service struct {
	store    *Store
	weddings remote.Table[Wedding]
	tasks    *querycache.Resource[Task]
	expenses *querycache.Resource[Expense]
	cache    cache.CacheService
	users    UserSource

	registry   *querycache.Registry
	reporter   querycache.Reporter
	weddingTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewService(
	st *Store,
	weddings remote.Table[Wedding],
	tasks *querycache.Resource[Task],
	expenses *querycache.Resource[Expense],
	svc cache.CacheService,
	users UserSource,
	opts Options,
) *Service {
	s := &Service{
		store:      st,
		weddings:   weddings,
		tasks:      tasks,
		expenses:   expenses,
		cache:      svc,
		users:      users,
		registry:   opts.Registry,
		reporter:   opts.Reporter,
		weddingTTL: opts.WeddingTTL,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.registry == nil {
		s.registry = querycache.NewRegistry()
	}
	if s.weddingTTL <= 0 {
		s.weddingTTL = 5 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

func (s *Service) Store() *Store                            { return s.store }
func (s *Service) TaskResource() *querycache.Resource[Task] { return s.tasks }
func (s *Service) ExpenseResource() *querycache.Resource[Expense] {
	return s.expenses
}

func weddingKey(userID string) string {
	return "wedding" + cache.KeySeparator + userID
}

// LoadWedding fetches the wedding of the signed in user and keeps it in the
// store, unless a write of the wedding overlapped the read.
func (s *Service) LoadWedding(ctx context.Context) (Wedding, error) {
	userID, ok := s.users.UserID()
	if !ok {
		return Wedding{}, remote.NotAuthenticated()
	}

	w, current, err := querycache.FetchCurrent(ctx, s.cache, s.registry, weddingKey(userID), s.weddingTTL,
		func(ctx context.Context) (Wedding, error) {
			return s.weddings.Single(ctx, remote.Eq("user_id", userID))
		}, WeddingTag)
	if err != nil {
		s.logError("load wedding", err)
		return Wedding{}, err
	}
	if current {
		s.store.Wedding.Set(w)
	}
	return w, nil
}

// CreateWedding inserts the wedding of the signed in user.
func (s *Service) CreateWedding(ctx context.Context, w Wedding) (Wedding, error) {
	userID, ok := s.users.UserID()
	if !ok {
		return Wedding{}, remote.NotAuthenticated()
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.UserID = userID
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now().UTC()
	}
	if err := validation.ValidateStruct(&w,
		validation.Field(&w.Budget, validation.Min(0.0)),
		validation.Field(&w.Guests, validation.Min(0)),
	); err != nil {
		return Wedding{}, goerrors.FromOzzoValidation(err, "invalid wedding")
	}

	created, err := s.weddings.Insert(ctx, w)
	s.registry.InvalidateTag(ctx, s.cache, WeddingTag)
	if err != nil {
		s.fail("create wedding", err, "Could not create the wedding.")
		return Wedding{}, err
	}
	s.store.Wedding.Set(created)
	return created, nil
}

func (s *Service) currentWedding() (Wedding, error) {
	w, ok := s.store.Wedding.Get()
	if !ok {
		return Wedding{}, remote.MissingRelated("wedding")
	}
	return w, nil
}

// Tasks loads the checklist of the current wedding. The list key is also
// tagged with WeddingTag, so replacing the wedding drops it.
func (s *Service) Tasks(ctx context.Context) ([]Task, error) {
	w, err := s.currentWedding()
	if err != nil {
		return nil, err
	}
	ctx = querycache.WithCacheTags(ctx, WeddingTag)
	return s.tasks.Load(ctx, remote.Eq("wedding_id", w.ID), remote.Order("created_at"))
}

type NewTask struct {
	Title    string
	Category string
	DueDate  *time.Time
}

// CreateTask adds a task to the current wedding. Without a loaded wedding it
// fails locally and issues no request.
func (s *Service) CreateTask(ctx context.Context, in NewTask) (Task, error) {
	w, err := s.currentWedding()
	if err != nil {
		return Task{}, err
	}
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
	); err != nil {
		return Task{}, goerrors.FromOzzoValidation(err, "invalid task")
	}

	return s.tasks.Create(ctx, Task{
		WeddingID: w.ID,
		Title:     in.Title,
		Category:  in.Category,
		Status:    StatusTodo,
		DueDate:   in.DueDate,
		CreatedAt: s.now().UTC(),
	})
}

// UpdateTask patches a task. A status value must be one of the known ones.
func (s *Service) UpdateTask(ctx context.Context, id string, fields store.Fields) error {
	fields = maps.Clone(fields)
	if raw, ok := fields["status"]; ok {
		status, _ := raw.(TaskStatus)
		if str, isString := raw.(string); isString {
			status = TaskStatus(str)
		}
		if !status.Valid() {
			return goerrors.NewValidation("invalid task",
				goerrors.FieldError{Field: "status", Message: "unknown status", Value: raw})
		}
		fields["status"] = string(status)
	}
	return s.tasks.Update(ctx, id, fields)
}

func (s *Service) SetTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	return s.UpdateTask(ctx, id, store.Fields{"status": status})
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.tasks.Delete(ctx, id)
}

// Expenses loads the expenses of the current wedding.
func (s *Service) Expenses(ctx context.Context) ([]Expense, error) {
	w, err := s.currentWedding()
	if err != nil {
		return nil, err
	}
	ctx = querycache.WithCacheTags(ctx, WeddingTag)
	return s.expenses.Load(ctx, remote.Eq("wedding_id", w.ID), remote.OrderDesc("created_at"))
}

type NewExpense struct {
	Label    string
	Category string
	Amount   float64
	Paid     bool
	TaskID   string
}

func (s *Service) CreateExpense(ctx context.Context, in NewExpense) (Expense, error) {
	w, err := s.currentWedding()
	if err != nil {
		return Expense{}, err
	}
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Label, validation.Required),
		validation.Field(&in.Amount, validation.Min(0.0)),
	); err != nil {
		return Expense{}, goerrors.FromOzzoValidation(err, "invalid expense")
	}

	return s.expenses.Create(ctx, Expense{
		WeddingID: w.ID,
		TaskID:    in.TaskID,
		Label:     in.Label,
		Category:  in.Category,
		Amount:    in.Amount,
		Paid:      in.Paid,
		CreatedAt: s.now().UTC(),
	})
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	return s.expenses.Delete(ctx, id)
}

// CompleteTaskWithExpense marks a task done, then records its expense. The
// two writes are not atomic: when the expense fails the task stays done and
// the returned error says so.
func (s *Service) CompleteTaskWithExpense(ctx context.Context, taskID string, in NewExpense) (Expense, error) {
	if err := s.SetTaskStatus(ctx, taskID, StatusDone); err != nil {
		return Expense{}, err
	}

	in.TaskID = taskID
	expense, err := s.CreateExpense(ctx, in)
	if err != nil {
		return Expense{}, goerrors.Wrap(err, goerrors.CategoryOperation, "task completed but expense not recorded").
			WithMetadata(map[string]any{"task_id": taskID, "partial": true})
	}
	return expense, nil
}

// Budget summarizes spending from the local store.
func (s *Service) Budget() BudgetSummary {
	var sum BudgetSummary
	if w, ok := s.store.Wedding.Get(); ok {
		sum.Total = w.Budget
	}
	for _, e := range s.store.Expenses.Items() {
		sum.Committed += e.Amount
		if e.Paid {
			sum.Paid += e.Amount
		}
	}
	for _, t := range s.store.Tasks.Items() {
		sum.TasksTotal++
		if t.Status == StatusDone {
			sum.TasksDone++
		}
	}
	sum.Remaining = sum.Total - sum.Committed
	return sum
}

// Clear resets the planning state, used on sign out.
func (s *Service) Clear(ctx context.Context) error {
	s.tasks.Reset()
	s.expenses.Reset()
	return s.store.Clear(ctx)
}

func (s *Service) fail(op string, err error, message string) {
	s.logError(op, err)
	if s.reporter != nil {
		s.reporter.Error(message)
	}
}

func (s *Service) logError(op string, err error) {
	if rich, ok := remote.AsRich(err); ok {
		goerrors.LogBySeverity(s.logger.With("op", op), rich)
		return
	}
	s.logger.Error(op+" failed", "error", err)
}
