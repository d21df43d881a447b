package output

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/sirupsen/logrus"
)

// NoRecordsSentinel is the single-column body the bulk API returns for a
// result set without rows
const NoRecordsSentinel = "Records not found for this query"

// Define static errors
var (
	ErrSliceExists = errors.New("slice file already exists")
	ErrNotPrepared = errors.New("slice directory has not been prepared")
)

// RowSource is a forward-only sequence of CSV records with a header
type RowSource interface {
	Header() []string
	Next() bool
	Record() []string
	Err() error
}

// Slice describes one written slice file
type Slice struct {
	Index   int      `json:"index"`
	Path    string   `json:"path"`
	Columns []string `json:"columns"`
	Rows    int64    `json:"rows"`
}

// Empty reports whether the slice carried no data
func (s *Slice) Empty() bool {
	return len(s.Columns) == 0
}

// SliceWriter writes result sets to <dir>/<index> files
type SliceWriter struct {
	log        logrus.FieldLogger
	dir        string
	object     string
	headerless bool
	prepared   bool
	created    bool
}

// NewSliceWriter creates a writer for one run's table directory
func NewSliceWriter(log logrus.FieldLogger, dir, object string, headerless bool) *SliceWriter {
	return &SliceWriter{
		log:        log.WithField("component", "slice_writer"),
		dir:        dir,
		object:     object,
		headerless: headerless,
	}
}

// Dir returns the table directory
func (w *SliceWriter) Dir() string {
	return w.dir
}

// Prepare creates the table directory. An existing directory is reused
// after the slices of the previous run are removed from it; other files
// are left alone. Callers must hold the run lock.
func (w *SliceWriter) Prepare() error {
	if w.prepared {
		return nil
	}

	if _, err := os.Stat(w.dir); err == nil {
		removed, err := w.clearSlices()
		if err != nil {
			return failure.Wrap(failure.KindInternal, "output.prepare", err)
		}

		if removed > 0 {
			w.log.WithFields(logrus.Fields{
				"dir":     w.dir,
				"removed": removed,
			}).Info("Removed slices of the previous run")
		}

		w.prepared = true

		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return failure.Wrap(failure.KindInternal, "output.prepare", fmt.Errorf("failed to create %s: %w", w.dir, err))
	}

	w.log.WithField("dir", w.dir).Info("Created sliced directory")

	w.prepared = true
	w.created = true

	return nil
}

// clearSlices removes every regular file named by a slice index
func (w *SliceWriter) clearSlices() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", w.dir, err)
	}

	removed := 0

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		if _, err := strconv.Atoi(entry.Name()); err != nil {
			continue
		}

		if err := os.Remove(filepath.Join(w.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove previous slice: %w", err)
		}

		removed++
	}

	return removed, nil
}

// Write drains rows into a new slice file at index. The file is always
// created; a result set holding only the no-records sentinel leaves it
// empty and reports no columns.
func (w *SliceWriter) Write(index int, rows RowSource) (*Slice, error) {
	if !w.prepared {
		return nil, failure.Wrap(failure.KindInternal, "output.write", ErrNotPrepared)
	}

	slice := &Slice{Index: index, Path: filepath.Join(w.dir, strconv.Itoa(index))}

	file, err := os.OpenFile(slice.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, failure.Wrap(failure.KindInternal, "output.write", fmt.Errorf("%w: %s", ErrSliceExists, slice.Path))
		}

		return nil, failure.Wrap(failure.KindInternal, "output.write", fmt.Errorf("failed to create slice: %w", err))
	}

	if err := w.fill(file, slice, rows); err != nil {
		_ = file.Close()
		_ = os.Remove(slice.Path)

		return nil, err
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(slice.Path)
		return nil, failure.Wrap(failure.KindInternal, "output.write", fmt.Errorf("failed to close slice: %w", err))
	}

	observability.RecordSlice(w.object, slice.Rows)

	w.log.WithFields(logrus.Fields{
		"slice": index,
		"rows":  slice.Rows,
	}).Debug("Wrote slice")

	return slice, nil
}

func (w *SliceWriter) fill(file *os.File, slice *Slice, rows RowSource) error {
	header := rows.Header()
	if IsNoRecords(header) {
		if len(header) > 0 {
			w.log.WithField("slice", slice.Index).Info("No records found using the query")
		}

		return rowsErr(rows)
	}

	buf := bufio.NewWriter(file)
	writer := csv.NewWriter(buf)

	if !w.headerless {
		if err := writer.Write(header); err != nil {
			return writeErr(err)
		}
	}

	for rows.Next() {
		if err := writer.Write(rows.Record()); err != nil {
			return writeErr(err)
		}

		slice.Rows++
	}

	if err := rowsErr(rows); err != nil {
		return err
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return writeErr(err)
	}

	if err := buf.Flush(); err != nil {
		return writeErr(err)
	}

	slice.Columns = append([]string(nil), header...)

	return nil
}

// Discard removes the directory and everything in it when this writer
// created it, or only the given slices when the directory already existed.
func (w *SliceWriter) Discard(slices []*Slice) error {
	if w.created {
		if err := os.RemoveAll(w.dir); err != nil {
			return failure.Wrap(failure.KindInternal, "output.discard", err)
		}

		w.prepared = false
		w.created = false

		return nil
	}

	var errs []error

	for _, s := range slices {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return failure.Wrap(failure.KindInternal, "output.discard", err)
	}

	return nil
}

// IsNoRecords reports whether header is empty or the no-records sentinel
func IsNoRecords(header []string) bool {
	if len(header) == 0 {
		return true
	}

	return len(header) == 1 && strings.TrimSpace(header[0]) == NoRecordsSentinel
}

func rowsErr(rows RowSource) error {
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read result set: %w", err)
	}

	return nil
}

func writeErr(err error) error {
	return failure.Wrap(failure.KindInternal, "output.write", fmt.Errorf("failed to write slice: %w", err))
}
