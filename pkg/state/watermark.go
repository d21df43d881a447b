// Package state persists the run watermark between runs and serializes
// runs that share one watermark.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeFormat is the fixed-precision UTC layout of stored timestamps
const TimeFormat = "2006-01-02T15:04:05.000Z"

// DefaultLastRun is used when no run has been recorded, which makes the
// first run a full extraction
const DefaultLastRun = "2000-01-01T00:00:00.000Z"

// ErrLocked is returned when another run holds the lock
var ErrLocked = errors.New("another run holds the lock")

// Watermark is the state persisted by a successful run
type Watermark struct {
	LastRun           string   `json:"last_run"`
	PrevOutputColumns []string `json:"prev_output_columns"`
}

// Store reads and writes the watermark of one key
type Store interface {
	// Read returns the stored watermark, or one holding DefaultLastRun
	// when nothing has been stored
	Read(ctx context.Context) (*Watermark, error)
	Write(ctx context.Context, w *Watermark) error
	// Lock takes the run lock for the key, failing with ErrLocked when
	// another run holds it
	Lock(ctx context.Context) (Lock, error)
	Close() error
}

// Lock is a held run lock
type Lock interface {
	Release(ctx context.Context) error
}

// Stamp formats t as a stored timestamp
func Stamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Bound returns the incremental lower bound: LastRun moved back by
// overlap. A value that does not parse is used verbatim.
func (w *Watermark) Bound(log logrus.FieldLogger, overlap time.Duration) string {
	last := w.LastRun
	if last == "" {
		last = DefaultLastRun
	}

	t, err := time.Parse(TimeFormat, last)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, last)
	}

	if err != nil {
		log.WithError(err).WithField("last_run", last).Warn("Stored watermark does not parse, using it verbatim")
		return last
	}

	if overlap > 0 {
		t = t.Add(-overlap)
	}

	return Stamp(t)
}

func defaultWatermark() *Watermark {
	return &Watermark{LastRun: DefaultLastRun}
}
