package di

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wedding-cache/cache"
	"github.com/goliatone/go-wedding-cache/remote"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "WEDDING_"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the container configuration. Environment variables override the
// defaults, e.g. WEDDING_CACHE_CAPACITY or WEDDING_REMOTE_DSN.
type Config struct {
	Cache cache.Config `envPrefix:"CACHE_"`

	// LocalStoragePath is the SQLite file holding persisted stores. Empty
	// keeps them in memory.
	LocalStoragePath string `env:"LOCAL_STORAGE_PATH"`

	RemoteDriver  string        `env:"REMOTE_DRIVER"`
	RemoteDSN     string        `env:"REMOTE_DSN"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL"`
	SessionTTL    time.Duration `env:"SESSION_TTL"`

	RetryMaxTries        uint          `env:"RETRY_MAX_TRIES"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL"`

	ToastDuration time.Duration `env:"TOAST_DURATION"`

	ListTTL     time.Duration `env:"LIST_TTL"`
	StaleAfter  time.Duration `env:"STALE_AFTER"`
	WeddingTTL  time.Duration `env:"WEDDING_TTL"`
	ProviderTTL time.Duration `env:"PROVIDER_TTL"`
	ProfileTTL  time.Duration `env:"PROFILE_TTL"`
}

func DefaultConfig() Config {
	retry := remote.DefaultRetryPolicy()
	return Config{
		Cache:                cache.DefaultConfig(),
		RemoteDriver:         DriverSQLite,
		RemoteDSN:            "file:wedding?mode=memory&cache=shared",
		PublicBaseURL:        "http://localhost:54321",
		SessionTTL:           time.Hour,
		RetryMaxTries:        retry.MaxTries,
		RetryInitialInterval: retry.InitialInterval,
		RetryMaxInterval:     retry.MaxInterval,
		ToastDuration:        3 * time.Second,
		ListTTL:              5 * time.Minute,
		StaleAfter:           5 * time.Minute,
		WeddingTTL:           5 * time.Minute,
		ProviderTTL:          10 * time.Minute,
		ProfileTTL:           5 * time.Minute,
	}
}

func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	err := validation.ValidateStruct(&c,
		validation.Field(&c.RemoteDriver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.RemoteDSN, validation.Required),
		validation.Field(&c.RetryMaxTries, validation.Min(uint(1))),
		validation.Field(&c.ToastDuration, validation.Min(time.Duration(0))),
		validation.Field(&c.ListTTL, validation.Required),
		validation.Field(&c.WeddingTTL, validation.Required),
		validation.Field(&c.ProviderTTL, validation.Required),
		validation.Field(&c.ProfileTTL, validation.Required),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid container config")
	}
	return nil
}

// RetryPolicy is the remote retry policy described by the config.
func (c Config) RetryPolicy() remote.RetryPolicy {
	policy := remote.DefaultRetryPolicy()
	policy.MaxTries = c.RetryMaxTries
	if c.RetryInitialInterval > 0 {
		policy.InitialInterval = c.RetryInitialInterval
	}
	if c.RetryMaxInterval > 0 {
		policy.MaxInterval = c.RetryMaxInterval
	}
	return policy
}

// LoadConfig reads the process environment over DefaultConfig.
func LoadConfig() (Config, error) {
	return parseConfig(env.Options{Prefix: EnvPrefix})
}

// LoadConfigFrom reads environ instead of the process environment.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	return parseConfig(env.Options{Prefix: EnvPrefix, Environment: environ})
}

func parseConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse environment").
			WithTextCode("CONFIG_ENV_INVALID")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
