// Package manifest writes the table descriptor that accompanies a sliced
// table: final column order, primary key, load mode and column types.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/schema"
)

// Extension is appended to the table directory to name its manifest
const Extension = ".manifest"

// Manifest describes a sliced table
type Manifest struct {
	Destination  string                 `json:"destination,omitempty"`
	Incremental  bool                   `json:"incremental"`
	PrimaryKey   []string               `json:"primary_key"`
	Columns      []string               `json:"columns"`
	Delimiter    string                 `json:"delimiter"`
	Enclosure    string                 `json:"enclosure"`
	ColumnTypes  map[string]schema.Type `json:"column_types,omitempty"`
	SchemaSource schema.Source          `json:"schema_source,omitempty"`
}

// Table carries the run facts the manifest is built from
type Table struct {
	Name        string
	Object      string
	RunID       string
	Started     time.Time
	Incremental bool
	PrimaryKey  []string
	Schema      *schema.Resolution
	ColumnTypes map[string]schema.Type
}

// Builder renders manifests for one configuration
type Builder struct {
	cfg     *Config
	funcMap template.FuncMap
}

// NewBuilder creates a manifest builder
func NewBuilder(cfg *Config) *Builder {
	return &Builder{
		cfg:     cfg,
		funcMap: sprig.TxtFuncMap(),
	}
}

// Destination renders the destination template for a table
func (b *Builder) Destination(t *Table) (string, error) {
	tmpl, err := template.New("destination").Funcs(b.funcMap).Parse(b.cfg.Destination)
	if err != nil {
		return "", failure.Wrap(failure.KindValidation, "manifest.destination", fmt.Errorf("failed to parse template: %w", err))
	}

	variables := map[string]interface{}{
		"bucket": b.cfg.Bucket,
		"table":  t.Name,
		"object": t.Object,
		"run": map[string]interface{}{
			"id":    t.RunID,
			"start": t.Started.Unix(),
		},
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", failure.Wrap(failure.KindValidation, "manifest.destination", fmt.Errorf("failed to execute template: %w", err))
	}

	return strings.TrimSpace(buf.String()), nil
}

// Build assembles the manifest of a table. Primary key names are
// normalized the same way as columns.
func (b *Builder) Build(t *Table) (*Manifest, error) {
	destination, err := b.Destination(t)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Destination: destination,
		Incremental: t.Incremental,
		PrimaryKey:  schema.NormalizeAll(t.PrimaryKey),
		Delimiter:   ",",
		Enclosure:   "\"",
		ColumnTypes: t.ColumnTypes,
	}

	if m.PrimaryKey == nil {
		m.PrimaryKey = []string{}
	}

	if t.Schema != nil {
		m.Columns = t.Schema.Columns
		m.SchemaSource = t.Schema.Source
	}

	if m.Columns == nil {
		m.Columns = []string{}
	}

	return m, nil
}

// Path returns the manifest path of a table directory
func Path(tableDir string) string {
	return filepath.Clean(tableDir) + Extension
}

// Write stores m next to tableDir, replacing any previous manifest
func Write(tableDir string, m *Manifest) (string, error) {
	path := Path(tableDir)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", failure.Wrap(failure.KindInternal, "manifest.write", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", failure.Wrap(failure.KindInternal, "manifest.write", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", failure.Wrap(failure.KindInternal, "manifest.write", err)
	}

	return path, nil
}

// Remove deletes the manifest of tableDir. A missing manifest is not an error.
func Remove(tableDir string) error {
	if err := os.Remove(Path(tableDir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return failure.Wrap(failure.KindInternal, "manifest.remove", err)
	}

	return nil
}
