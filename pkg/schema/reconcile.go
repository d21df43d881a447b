package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/sirupsen/logrus"
)

// ErrHeaderMismatch is returned when non-empty slices disagree on columns
var ErrHeaderMismatch = errors.New("slices of one run have different headers")

// Source names where the resolved columns came from
type Source string

// Schema sources in fallback order
const (
	SourceRun      Source = "run"
	SourcePrevious Source = "previous"
	SourceObject   Source = "object"
	SourceNone     Source = "none"
)

// Input is everything the reconciler folds into one schema
type Input struct {
	// Slices holds the raw columns of every slice in index order. Empty
	// slices have no columns.
	Slices [][]string
	// Previous is the schema recorded by the last run that produced one
	Previous []string
	// ObjectFields are the exportable fields of the object, used only when
	// the query was built from the object name
	ObjectFields []string
	FromObject   bool
}

// Resolution is the schema of a run
type Resolution struct {
	Columns []string `json:"columns"`
	Source  Source   `json:"source"`
}

// Empty reports whether the run has no schema at all
func (r *Resolution) Empty() bool {
	return r.Source == SourceNone
}

// Reconciler resolves the output schema of a run
type Reconciler struct {
	log logrus.FieldLogger
}

// NewReconciler creates a reconciler
func NewReconciler(log logrus.FieldLogger) *Reconciler {
	return &Reconciler{log: log.WithField("component", "schema")}
}

// Reconcile verifies every non-empty slice shares one header and returns
// the normalized schema, falling back to the previous run's columns and
// then to the object's fields when the run saw no columns.
func (r *Reconciler) Reconcile(in Input) (*Resolution, error) {
	first := -1

	for i, cols := range in.Slices {
		if len(cols) == 0 {
			continue
		}

		if first < 0 {
			first = i
			continue
		}

		if !slices.Equal(in.Slices[first], cols) {
			msg := fmt.Sprintf("slice %d has columns %v but slice %d has %v", i, cols, first, in.Slices[first])

			return nil, &failure.Error{
				Kind:    failure.KindSchemaCorruption,
				Op:      "schema.reconcile",
				Message: msg,
				Err:     ErrHeaderMismatch,
			}
		}
	}

	if first >= 0 {
		return &Resolution{Columns: NormalizeAll(in.Slices[first]), Source: SourceRun}, nil
	}

	if len(in.Previous) > 0 {
		r.log.WithField("columns", len(in.Previous)).Warn("Run returned no rows, keeping the previous schema")

		return &Resolution{Columns: NormalizeAll(in.Previous), Source: SourcePrevious}, nil
	}

	if in.FromObject && len(in.ObjectFields) > 0 {
		r.log.WithField("columns", len(in.ObjectFields)).Warn("Run returned no rows, using the object fields as schema")

		return &Resolution{Columns: NormalizeAll(in.ObjectFields), Source: SourceObject}, nil
	}

	return &Resolution{Source: SourceNone}, nil
}
