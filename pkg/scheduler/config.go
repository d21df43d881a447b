// Package scheduler runs extractions on a cron schedule and on demand
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when the schedule is not a cron expression
	ErrInvalidSchedule = errors.New("schedule must be a cron expression or descriptor")
	// ErrInvalidRunTimeout is returned when the run timeout is not positive
	ErrInvalidRunTimeout = errors.New("run timeout must be positive")
)

// parser accepts standard five-field expressions and descriptors such as
// "@every 1h" or "@daily"
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config defines scheduler configuration
type Config struct {
	// Schedule is a cron expression. Empty means runs are only started
	// through the API.
	Schedule        string        `yaml:"schedule"`
	RunOnStart      bool          `yaml:"runOnStart"`
	RunTimeout      time.Duration `yaml:"runTimeout" default:"6h"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"30s"`
	// LeaderElection restricts runs to one instance. It needs the redis
	// state backend.
	LeaderElection bool `yaml:"leaderElection"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if c.Schedule != "" {
		if _, err := parser.Parse(c.Schedule); err != nil {
			return &failure.Error{
				Kind: failure.KindValidation,
				Op:   "schedule.schedule",
				Err:  fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, c.Schedule, err),
			}
		}
	}

	if c.RunTimeout <= 0 {
		return &failure.Error{Kind: failure.KindValidation, Op: "schedule.runTimeout", Err: ErrInvalidRunTimeout}
	}

	return nil
}
