// Package server runs the extractor as a long-lived service
package server

import (
	"errors"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/api"
	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/scheduler"
	"github.com/ethpandaops/sfbulk/pkg/state"
)

// Define static errors
var (
	ErrElectionNeedsRedis = errors.New("leader election requires the redis state backend")
)

// Config holds the complete application configuration
type Config struct {
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// MetricsAddr is the address to listen on for metrics. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// ShutdownTimeout is the timeout for shutting down the HTTP servers.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`

	Extraction extractor.Config `yaml:",inline"`
	Schedule   scheduler.Config `yaml:"schedule"`
	API        api.Config       `yaml:"api"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Extraction.Validate(); err != nil {
		return err
	}

	if err := c.Schedule.Validate(); err != nil {
		return err
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	if c.Schedule.LeaderElection && c.Extraction.State.Backend != state.BackendRedis {
		return &failure.Error{Kind: failure.KindValidation, Op: "schedule.leaderElection", Err: ErrElectionNeedsRedis}
	}

	return nil
}
