package extractor

import (
	"errors"
	"strings"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/auth"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/manifest"
	"github.com/ethpandaops/sfbulk/pkg/output"
	"github.com/ethpandaops/sfbulk/pkg/publish"
	"github.com/ethpandaops/sfbulk/pkg/salesforce"
	"github.com/ethpandaops/sfbulk/pkg/soql"
	"github.com/ethpandaops/sfbulk/pkg/state"
)

// Define static errors
var (
	ErrNoQuery         = errors.New("either object or soql must be specified")
	ErrAmbiguousQuery  = errors.New("object and soql are mutually exclusive")
	ErrMissingPKey     = errors.New("incremental load is set but no primary key is specified")
	ErrMissingIncField = errors.New("incremental fetching requires an incremental field")
	ErrNegativeOverlap = errors.New("overlap must not be negative")
)

// Config is the complete configuration of an extraction
type Config struct {
	Salesforce salesforce.Config     `yaml:"salesforce"`
	Auth       auth.Config           `yaml:"auth"`
	Query      QueryConfig           `yaml:"query"`
	Loading    LoadingConfig         `yaml:"loading"`
	Bulk       salesforce.BulkConfig `yaml:"bulk"`
	Output     output.Config         `yaml:"output"`
	Manifest   manifest.Config       `yaml:"manifest"`
	State      state.Config          `yaml:"state"`
	Publish    publish.Config        `yaml:"publish"`
}

// QueryConfig selects what to extract
type QueryConfig struct {
	// Object extracts every exportable field of the named object
	Object string `yaml:"object"`
	// SOQL extracts the result of a literal query
	SOQL string `yaml:"soql"`
	// Fields restricts an object extraction to these fields
	Fields         []string `yaml:"fields"`
	IncludeDeleted bool     `yaml:"includeDeleted"`
	// ValidateQuery runs the query with LIMIT 1 before submitting the job
	ValidateQuery bool `yaml:"validate"`
}

// LoadingConfig controls incremental loading
type LoadingConfig struct {
	Incremental      bool          `yaml:"incremental"`
	IncrementalFetch bool          `yaml:"incrementalFetch"`
	IncrementalField string        `yaml:"incrementalField"`
	PrimaryKey       []string      `yaml:"primaryKey"`
	Overlap          time.Duration `yaml:"overlap"`
}

// Validate checks the whole configuration. Query text is checked here so
// a malformed query fails before any network call.
func (c *Config) Validate() error {
	if err := c.Query.Validate(); err != nil {
		return err
	}

	if err := c.Loading.Validate(); err != nil {
		return err
	}

	validators := []interface{ Validate() error }{
		&c.Salesforce,
		&c.Auth,
		&c.Bulk,
		&c.Output,
		&c.Manifest,
		&c.State,
		&c.Publish,
	}

	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the query selection
func (q *QueryConfig) Validate() error {
	hasObject := strings.TrimSpace(q.Object) != ""
	hasSOQL := strings.TrimSpace(q.SOQL) != ""

	switch {
	case !hasObject && !hasSOQL:
		return &failure.Error{Kind: failure.KindValidation, Op: "query.object", Err: ErrNoQuery}
	case hasObject && hasSOQL:
		return &failure.Error{Kind: failure.KindValidation, Op: "query.soql", Err: ErrAmbiguousQuery}
	case hasSOQL:
		return soql.Validate(q.SOQL)
	}

	return nil
}

// ObjectName returns the configured object or the one named by the query
func (q *QueryConfig) ObjectName() (string, error) {
	if strings.TrimSpace(q.Object) != "" {
		return strings.TrimSpace(q.Object), nil
	}

	object, err := soql.ObjectFromQuery(q.SOQL)
	if err != nil {
		return "", &failure.Error{Kind: failure.KindValidation, Op: "query.soql", Err: err}
	}

	return object, nil
}

// Validate checks the loading options
func (l *LoadingConfig) Validate() error {
	if l.Incremental && len(l.PrimaryKey) == 0 {
		return &failure.Error{Kind: failure.KindValidation, Op: "loading.primaryKey", Err: ErrMissingPKey}
	}

	if l.IncrementalFetch && strings.TrimSpace(l.IncrementalField) == "" {
		return &failure.Error{Kind: failure.KindValidation, Op: "loading.incrementalField", Err: ErrMissingIncField}
	}

	if l.Overlap < 0 {
		return &failure.Error{Kind: failure.KindValidation, Op: "loading.overlap", Err: ErrNegativeOverlap}
	}

	return nil
}

// fetchIncrementally reports whether the query is filtered by the watermark
func (l *LoadingConfig) fetchIncrementally() bool {
	return l.Incremental && l.IncrementalFetch
}
