package cache

import (
	"time"

	"github.com/goliatone/go-wedding-cache/internal/cacheinfra"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int           `env:"CAPACITY"`
	NumShards          int           `env:"NUM_SHARDS"`
	DefaultTTL         time.Duration `env:"DEFAULT_TTL"`
	MaxTTL             time.Duration `env:"MAX_TTL"`
	EvictionPercentage int           `env:"EVICTION_PERCENTAGE"`
	EvictionInterval   time.Duration `env:"EVICTION_INTERVAL"`
}

// Clock is the time source used to stamp and expire entries.
type Clock = cacheinfra.Clock

// Option customizes the cache service built by NewCacheService.
type Option func(*cacheinfra.Options)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(o *cacheinfra.Options) {
		o.Clock = clock
	}
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService constructs the default cache service implementation using the provided configuration.
func NewCacheService(cfg Config, opts ...Option) (CacheService, error) {
	options := cacheinfra.Options{}
	for _, opt := range opts {
		opt(&options)
	}
	service, err := cacheinfra.NewSturdycService(cfg.toInternal(), options)
	if err != nil {
		return nil, err
	}
	return service, nil
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		DefaultTTL:         c.DefaultTTL,
		MaxTTL:             c.MaxTTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		DefaultTTL:         cfg.DefaultTTL,
		MaxTTL:             cfg.MaxTTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
