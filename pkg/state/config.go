package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/redis"
)

// Backends
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Define static errors
var (
	ErrUnknownBackend = errors.New("state backend must be file or redis")
	ErrPathRequired   = errors.New("state path is required for the file backend")
	ErrInvalidLockTTL = errors.New("lock ttl must be positive")
)

// Config holds watermark store configuration
type Config struct {
	Backend string        `yaml:"backend" default:"file"`
	Path    string        `yaml:"path" default:"data/out/state.json"`
	Key     string        `yaml:"key"`
	LockTTL time.Duration `yaml:"lockTTL" default:"6h"`
	Redis   redis.Config  `yaml:"redis"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.Path == "" {
			return invalid("state.path", ErrPathRequired)
		}
	case BackendRedis:
		if err := c.Redis.Validate(); err != nil {
			return invalid("state.redis", err)
		}
	default:
		return invalid("state.backend", fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend))
	}

	if c.LockTTL <= 0 {
		return invalid("state.lockTTL", ErrInvalidLockTTL)
	}

	return nil
}

// KeyFor returns the configured key or fallback when unset
func (c *Config) KeyFor(fallback string) string {
	if c.Key != "" {
		return c.Key
	}

	return fallback
}

func invalid(param string, err error) error {
	return &failure.Error{Kind: failure.KindValidation, Op: param, Err: err}
}
