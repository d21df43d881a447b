package manifest

import (
	"errors"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/ethpandaops/sfbulk/pkg/failure"
)

// Define static errors
var (
	ErrDestinationRequired = errors.New("destination template is required")
)

// Config holds table manifest configuration
type Config struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Bucket  string `yaml:"bucket" default:"in.c-sfbulk"`
	// Destination is a text/template with sprig functions over bucket,
	// table, object and run
	Destination string `yaml:"destination" default:"{{ .bucket }}.{{ .table }}"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Destination == "" {
		return &failure.Error{Kind: failure.KindValidation, Op: "manifest.destination", Err: ErrDestinationRequired}
	}

	if _, err := template.New("destination").Funcs(sprig.TxtFuncMap()).Parse(c.Destination); err != nil {
		return &failure.Error{Kind: failure.KindValidation, Op: "manifest.destination", Err: err}
	}

	return nil
}
