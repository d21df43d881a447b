// Package api serves the HTTP control surface of a long-running extractor.
package api

import (
	"errors"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

// ErrAPIAddrRequired is returned when API is enabled but no address is configured
var (
	ErrAPIAddrRequired = errors.New("api address is required when API is enabled")
)

// Config represents API service configuration
type Config struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Addr    string `yaml:"addr" default:":8080"`
	// AccessLog logs every request
	AccessLog bool `yaml:"accessLog"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return &failure.Error{Kind: failure.KindValidation, Op: "api.addr", Err: ErrAPIAddrRequired}
	}

	return nil
}
