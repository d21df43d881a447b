// Package output materializes result sets as numbered slice files inside a
// per-table directory.
package output

import (
	"errors"
	"path/filepath"
	"regexp"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

// Define static errors
var (
	ErrDataDirRequired = errors.New("data directory is required")
	ErrInvalidTable    = errors.New("table name may only contain letters, digits, '_', '-' and '.'")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Config holds slice output configuration
type Config struct {
	// DataDir is the root that holds one sliced directory per table
	DataDir string `yaml:"dataDir" default:"data/out/tables"`
	// Table overrides the table name, which defaults to the object name
	Table string `yaml:"table"`
	// Headerless omits the header row from every slice; the column list
	// travels in the manifest instead
	Headerless bool `yaml:"headerless" default:"true"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &failure.Error{Kind: failure.KindValidation, Op: "output.dataDir", Err: ErrDataDirRequired}
	}

	if c.Table != "" && !tableNamePattern.MatchString(c.Table) {
		return &failure.Error{Kind: failure.KindValidation, Op: "output.table", Err: ErrInvalidTable}
	}

	return nil
}

// TableName returns the configured table name or object when unset
func (c *Config) TableName(object string) string {
	if c.Table != "" {
		return c.Table
	}

	return object
}

// TableDir returns the sliced directory of a table
func (c *Config) TableDir(table string) string {
	return filepath.Join(c.DataDir, table+".csv")
}
