package listings

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-wedding-cache/querycache"
	"github.com/goliatone/go-wedding-cache/remote"
	"github.com/goliatone/go-wedding-cache/store"
)

// PhotoBucket is the object storage bucket holding provider photos.
const PhotoBucket = "provider-photos"

// MaxPhotoSize bounds uploads; compression happens before the upload.
const MaxPhotoSize = 5 << 20

// Filter narrows the directory. Zero fields match everything.
type Filter struct {
	Category      string
	City          string
	PublishedOnly bool
	Limit         int
}

func (f Filter) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Category, validation.When(f.Category != "", validation.In(anySlice(Categories)...))),
		validation.Field(&f.Limit, validation.Min(0)),
	)
}

func (f Filter) criteria() []remote.Criteria {
	var c []remote.Criteria
	if f.Category != "" {
		c = append(c, remote.Eq("category", f.Category))
	}
	if f.City != "" {
		c = append(c, remote.Eq("city", f.City))
	}
	if f.PublishedOnly {
		c = append(c, remote.Eq("published", true))
	}
	c = append(c, remote.OrderDesc("rating"), remote.Order("name"))
	if f.Limit > 0 {
		c = append(c, remote.Limit(f.Limit))
	}
	return c
}

type Options struct {
	ProviderTTL time.Duration
	Reporter    querycache.Reporter
	Now         func() time.Time
	Logger      *slog.Logger
}

type Service struct {
	store     *Store
	providers *querycache.Resource[Provider]
	photos    remote.Bucket

	reporter    querycache.Reporter
	providerTTL time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func NewService(st *Store, providers *querycache.Resource[Provider], photos remote.Bucket, opts Options) *Service {
	s := &Service{
		store:       st,
		providers:   providers,
		photos:      photos,
		reporter:    opts.Reporter,
		providerTTL: opts.ProviderTTL,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if s.providerTTL <= 0 {
		s.providerTTL = 10 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) Resource() *querycache.Resource[Provider] { return s.providers }

// Providers lists the directory for filter.
func (s *Service) Providers(ctx context.Context, filter Filter) ([]Provider, error) {
	if err := filter.Validate(); err != nil {
		return nil, goerrors.FromOzzoValidation(err, "invalid provider filter")
	}
	return s.providers.Load(ctx, filter.criteria()...)
}

// Provider reads one provider. Detail reads are cached longer than lists and
// do not touch the collection.
func (s *Service) Provider(ctx context.Context, id string) (Provider, error) {
	p, err := s.providers.FetchOne(ctx, id, s.providerTTL)
	if err != nil {
		return Provider{}, err
	}
	return p, nil
}

type NewProvider struct {
	Name        string
	Category    string
	City        string
	Description string
	PriceFrom   float64
	Published   bool
}

func (in NewProvider) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(2, 120)),
		validation.Field(&in.Category, validation.Required, validation.In(anySlice(Categories)...)),
		validation.Field(&in.PriceFrom, validation.Min(0.0)),
	)
}

func (s *Service) CreateProvider(ctx context.Context, in NewProvider) (Provider, error) {
	if err := in.Validate(); err != nil {
		return Provider{}, goerrors.FromOzzoValidation(err, "invalid provider")
	}
	return s.providers.Create(ctx, Provider{
		Name:        strings.TrimSpace(in.Name),
		Category:    in.Category,
		City:        in.City,
		Description: in.Description,
		PriceFrom:   in.PriceFrom,
		Published:   in.Published,
		CreatedAt:   s.now().UTC(),
	})
}

func (s *Service) UpdateProvider(ctx context.Context, id string, fields store.Fields) error {
	if raw, ok := fields["category"]; ok {
		category, _ := raw.(string)
		if !slices.Contains(Categories, category) {
			return goerrors.NewValidation("invalid provider",
				goerrors.FieldError{Field: "category", Message: "unknown category", Value: raw})
		}
	}
	return s.providers.Update(ctx, id, fields)
}

func (s *Service) DeleteProvider(ctx context.Context, id string) error {
	return s.providers.Delete(ctx, id)
}

// UploadPhoto stores data in the photo bucket and points the provider at its
// public URL. When the row update fails the uploaded object is removed.
func (s *Service) UploadPhoto(ctx context.Context, providerID, filename string, data []byte) (string, error) {
	if len(data) == 0 || len(data) > MaxPhotoSize {
		return "", goerrors.NewValidation("invalid photo",
			goerrors.FieldError{Field: "data", Message: "photo must be between 1 byte and 5 MiB", Value: len(data)})
	}
	if s.photos == nil {
		return "", goerrors.New("photo storage is not configured", goerrors.CategoryInternal)
	}

	objectPath := path.Join(providerID, uuid.NewString()+strings.ToLower(path.Ext(filename)))
	obj, err := s.photos.Upload(ctx, objectPath, data, remote.UploadOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		s.fail("upload photo", err, "Could not upload the photo.")
		return "", err
	}

	url := s.photos.PublicURL(obj.Path)
	if err := s.UpdateProvider(ctx, providerID, store.Fields{"photo_url": url}); err != nil {
		if rmErr := s.photos.Remove(ctx, obj.Path); rmErr != nil {
			s.logError("remove orphan photo", rmErr)
		}
		return "", err
	}
	return url, nil
}

// Clear resets the directory state, used on sign out.
func (s *Service) Clear(ctx context.Context) error {
	s.providers.Reset()
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

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
