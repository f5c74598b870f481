package identity

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wedding-cache/cache"
	"github.com/goliatone/go-wedding-cache/querycache"
	"github.com/goliatone/go-wedding-cache/remote"
)

// Tag groups the cache keys owned by identity.
const Tag = "identity"

// ProfileKey is the cache key of the profile of userID.
func ProfileKey(userID string) string {
	return "user_data_" + userID
}

type Options struct {
	ProfileTTL time.Duration
	Registry   *querycache.Registry
	Reporter   querycache.Reporter
	Now        func() time.Time
	Logger     *slog.Logger
}

type Service struct {
	auth       remote.Auth
	store      *Store
	cache      cache.CacheService
	registry   *querycache.Registry
	reporter   querycache.Reporter
	profileTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewService(auth remote.Auth, st *Store, svc cache.CacheService, opts Options) *Service {
	s := &Service{
		auth:       auth,
		store:      st,
		cache:      svc,
		registry:   opts.Registry,
		reporter:   opts.Reporter,
		profileTTL: opts.ProfileTTL,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.registry == nil {
		s.registry = querycache.NewRegistry()
	}
	if s.profileTTL <= 0 {
		s.profileTTL = 5 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, creds remote.Credentials) (remote.User, error) {
	if err := validateLogin(creds.Email, creds.Password); err != nil {
		return remote.User{}, err
	}
	user, err := s.auth.SignUp(ctx, creds)
	if err != nil {
		s.fail("sign up", err, "Could not create the account.")
		return remote.User{}, err
	}
	return user, nil
}

// SignIn authenticates and persists the session.
func (s *Service) SignIn(ctx context.Context, email, password string) (remote.User, error) {
	if err := validateLogin(email, password); err != nil {
		return remote.User{}, err
	}
	session, err := s.auth.SignInWithPassword(ctx, remote.Credentials{Email: email, Password: password})
	if err != nil {
		s.fail("sign in", err, "Sign in failed.")
		return remote.User{}, err
	}
	s.store.SetSession(session)
	s.logger.Info("signed in", "user_id", session.User.ID)
	return session.User, nil
}

// SignOut ends the remote session and clears the local one even when the
// remote call fails.
func (s *Service) SignOut(ctx context.Context) error {
	err := s.auth.SignOut(ctx)
	if user, ok := s.CurrentUser(); ok {
		_ = s.cache.Delete(ctx, ProfileKey(user.ID))
	}
	if clearErr := s.store.Clear(ctx); clearErr != nil && err == nil {
		err = clearErr
	}
	if err != nil {
		s.fail("sign out", err, "Sign out did not complete.")
	}
	return err
}

// CurrentUser returns the user of an unexpired persisted session.
func (s *Service) CurrentUser() (remote.User, bool) {
	session, ok := s.store.Session()
	if !ok || session.Expired(s.now()) {
		return remote.User{}, false
	}
	return session.User, true
}

func (s *Service) UserID() (string, bool) {
	user, ok := s.CurrentUser()
	return user.ID, ok
}

// Profile returns the backend view of the current user, cached under
// user_data_<id>.
func (s *Service) Profile(ctx context.Context) (remote.User, error) {
	user, ok := s.CurrentUser()
	if !ok {
		return remote.User{}, remote.NotAuthenticated()
	}
	profile, err := querycache.Fetch(ctx, s.cache, s.registry, ProfileKey(user.ID), s.profileTTL,
		func(ctx context.Context) (remote.User, error) {
			return s.auth.GetUser(ctx)
		}, Tag)
	if err != nil {
		s.logger.Warn("profile fetch failed", "user_id", user.ID, "error", err)
		return remote.User{}, err
	}
	return profile, nil
}

// Rehydrate restores the persisted session. An expired session is dropped.
func (s *Service) Rehydrate(ctx context.Context) (bool, error) {
	restored, err := s.store.Rehydrate(ctx)
	if err != nil || !restored {
		return restored, err
	}
	if session, ok := s.store.Session(); ok && session.Expired(s.now()) {
		s.logger.Info("persisted session expired", "user_id", session.User.ID)
		return false, s.store.Clear(ctx)
	}
	return true, nil
}

func (s *Service) Store() *Store { return s.store }

// Clear drops the local session, used by the container teardown.
func (s *Service) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}

func (s *Service) fail(op string, err error, message string) {
	if rich, ok := remote.AsRich(err); ok {
		goerrors.LogBySeverity(s.logger.With("op", op), rich)
	} else {
		s.logger.Error(op+" failed", "error", err)
	}
	if s.reporter != nil {
		s.reporter.Error(message)
	}
}

func validateLogin(email, password string) error {
	email = strings.TrimSpace(email)
	err := validation.Errors{
		"email":    validation.Validate(email, validation.Required),
		"password": validation.Validate(password, validation.Required),
	}.Filter()
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid login")
	}
	return nil
}
