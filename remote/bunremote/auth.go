package bunremote

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-wedding-cache/remote"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type userRecord struct {
	bun.BaseModel `bun:"table:auth_users"`

	ID           string    `bun:"id,pk"`
	Email        string    `bun:"email,unique,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	DisplayName  string    `bun:"display_name"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

func (u userRecord) toUser() remote.User {
	return remote.User{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt}
}

type sessionRecord struct {
	bun.BaseModel `bun:"table:auth_sessions"`

	Token     string    `bun:"token,pk"`
	UserID    string    `bun:"user_id,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// authClient keeps the current session in memory, backed by auth_sessions.
type authClient struct {
	backend *Backend

	mu      sync.Mutex
	current *remote.Session

	listeners *xsync.MapOf[uint64, remote.AuthListener]
	nextID    atomic.Uint64
}

func newAuthClient(b *Backend) *authClient {
	return &authClient{
		backend:   b,
		listeners: xsync.NewMapOf[uint64, remote.AuthListener](),
	}
}

func (a *authClient) SignUp(ctx context.Context, creds remote.Credentials) (remote.User, error) {
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if err := validateCredentials(creds); err != nil {
		return remote.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return remote.User{}, goerrors.Wrap(err, goerrors.CategoryInternal, "hash password")
	}

	rec := userRecord{
		ID:           uuid.NewString(),
		Email:        creds.Email,
		PasswordHash: string(hash),
		DisplayName:  creds.DisplayName,
		CreatedAt:    a.backend.opts.Now().UTC(),
	}
	if _, err := a.backend.db.NewInsert().Model(&rec).Exec(ctx); err != nil {
		return remote.User{}, classify(err, "sign up")
	}
	return rec.toUser(), nil
}

func (a *authClient) SignInWithPassword(ctx context.Context, creds remote.Credentials) (remote.Session, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	var rec userRecord
	err := a.backend.db.NewSelect().Model(&rec).Where("? = ?", bun.Ident("email"), email).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Session{}, remote.InvalidCredentials()
	}
	if err != nil {
		return remote.Session{}, classify(err, "sign in")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(creds.Password)) != nil {
		return remote.Session{}, remote.InvalidCredentials()
	}

	now := a.backend.opts.Now().UTC()
	sess := sessionRecord{
		Token:     uuid.NewString(),
		UserID:    rec.ID,
		ExpiresAt: now.Add(a.backend.opts.SessionTTL),
		CreatedAt: now,
	}
	if _, err := a.backend.db.NewInsert().Model(&sess).Exec(ctx); err != nil {
		return remote.Session{}, classify(err, "sign in")
	}

	session := remote.Session{AccessToken: sess.Token, ExpiresAt: sess.ExpiresAt, User: rec.toUser()}
	a.mu.Lock()
	a.current = &session
	a.mu.Unlock()

	a.emit(remote.SignedIn, &session)
	return session, nil
}

// GetSession returns nil when nobody is signed in or the session expired.
func (a *authClient) GetSession(ctx context.Context) (*remote.Session, error) {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	if current.Expired(a.backend.opts.Now()) {
		return nil, nil
	}

	var sess sessionRecord
	err := a.backend.db.NewSelect().Model(&sess).Where("? = ?", bun.Ident("token"), current.AccessToken).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get session")
	}
	out := *current
	return &out, nil
}

func (a *authClient) GetUser(ctx context.Context) (remote.User, error) {
	session, err := a.GetSession(ctx)
	if err != nil {
		return remote.User{}, err
	}
	if session == nil {
		return remote.User{}, remote.NotAuthenticated()
	}

	return remote.Retry(ctx, a.backend.opts.Retry, a.backend.logger, func(ctx context.Context) (remote.User, error) {
		var rec userRecord
		err := a.backend.db.NewSelect().Model(&rec).Where("? = ?", bun.Ident("id"), session.User.ID).Limit(1).Scan(ctx)
		if err != nil {
			return remote.User{}, classify(err, "get user")
		}
		return rec.toUser(), nil
	})
}

// SignOut drops the current session. Listeners are told even when no
// session was active.
func (a *authClient) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.current
	a.current = nil
	a.mu.Unlock()

	var err error
	if current != nil {
		_, err = a.backend.db.NewDelete().
			Model((*sessionRecord)(nil)).
			Where("? = ?", bun.Ident("token"), current.AccessToken).
			Exec(ctx)
		err = classify(err, "sign out")
	}

	a.emit(remote.SignedOut, nil)
	return err
}

func (a *authClient) OnAuthStateChange(fn remote.AuthListener) func() {
	id := a.nextID.Add(1)
	a.listeners.Store(id, fn)
	return func() { a.listeners.Delete(id) }
}

func (a *authClient) emit(event remote.AuthEvent, session *remote.Session) {
	a.listeners.Range(func(_ uint64, fn remote.AuthListener) bool {
		fn(event, session)
		return true
	})
}

func (a *authClient) closeListeners() {
	a.listeners.Clear()
}

func validateCredentials(creds remote.Credentials) error {
	err := validation.ValidateStruct(&creds,
		validation.Field(&creds.Email, validation.Required, validation.Match(emailPattern)),
		validation.Field(&creds.Password, validation.Required, validation.Length(6, 72)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid credentials")
	}
	return nil
}
