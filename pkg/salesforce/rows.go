package salesforce

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/sirupsen/logrus"
)

// Static errors
var (
	ErrHeaderChanged = errors.New("result set header changed between reads")
	ErrShortReopen   = errors.New("result set has fewer rows than already read")
)

// Rows is a forward-only, single-pass cursor over one result set.
//
// Call Next until it returns false, then check Err; Record is valid until
// the next call to Next. Rows cannot be rewound: once exhausted or
// abandoned it must be closed. A transport failure mid-stream is hidden
// from the caller by re-opening the result set and skipping the records
// already delivered, up to a bounded number of times.
type Rows struct {
	ctx        context.Context //nolint:containedctx // cursor lives for one drain
	log        logrus.FieldLogger
	open       func(ctx context.Context) (io.ReadCloser, error)
	maxReopens int

	body      io.ReadCloser
	reader    *csv.Reader
	header    []string
	record    []string
	delivered int64
	reopens   int
	done      bool
	err       error
}

func newRows(ctx context.Context, log logrus.FieldLogger, open func(ctx context.Context) (io.ReadCloser, error), maxReopens int) (*Rows, error) {
	r := &Rows{
		ctx:        ctx,
		log:        log,
		open:       open,
		maxReopens: maxReopens,
	}

	for {
		err := r.connect()
		if err == nil {
			return r, nil
		}

		if !failure.IsRetryable(err) || r.reopens >= r.maxReopens {
			return nil, err
		}

		r.reopens++
		r.log.WithError(err).WithField("attempt", r.reopens).Warn("Failed to read result header, re-opening")
	}
}

// connect opens the stream, reads the header and skips the records that
// were already delivered.
func (r *Rows) connect() error {
	body, err := r.open(r.ctx)
	if err != nil {
		return err
	}

	reader := csv.NewReader(&nullStripReader{r: body})

	header, err := reader.Read()

	switch {
	case errors.Is(err, io.EOF):
		header = nil
	case err != nil:
		_ = body.Close()
		return streamError(err)
	}

	if r.body != nil || r.delivered > 0 {
		if !slices.Equal(header, r.header) {
			_ = body.Close()
			return &failure.Error{Kind: failure.KindPermanent, Op: "result", Err: ErrHeaderChanged}
		}
	}

	for i := int64(0); i < r.delivered; i++ {
		if _, err := reader.Read(); err != nil {
			_ = body.Close()

			if errors.Is(err, io.EOF) {
				return &failure.Error{Kind: failure.KindPermanent, Op: "result", Err: ErrShortReopen}
			}

			return streamError(err)
		}
	}

	r.body = body
	r.reader = reader
	r.header = header

	return nil
}

// Header returns the column names of the result set. It is empty when the
// result set has no content at all.
func (r *Rows) Header() []string {
	return r.header
}

// Next advances to the next record
func (r *Rows) Next() bool {
	if r.done || r.err != nil || r.header == nil {
		return false
	}

	for {
		rec, err := r.reader.Read()
		if err == nil {
			r.record = rec
			r.delivered++

			return true
		}

		if errors.Is(err, io.EOF) {
			r.done = true
			return false
		}

		err = streamError(err)
		if !failure.IsRetryable(err) {
			r.err = err
			return false
		}

		if rerr := r.reopen(err); rerr != nil {
			r.err = rerr
			return false
		}
	}
}

func (r *Rows) reopen(cause error) error {
	_ = r.body.Close()

	for {
		if r.reopens >= r.maxReopens {
			return &failure.Error{
				Kind:    failure.KindExhausted,
				Op:      "result",
				Message: fmt.Sprintf("stream failed after %d re-opens", r.reopens),
				Err:     cause,
			}
		}

		r.reopens++
		r.log.WithError(cause).WithFields(logrus.Fields{
			"attempt":   r.reopens,
			"delivered": r.delivered,
		}).Warn("Result stream broke, re-opening")

		err := r.connect()
		if err == nil {
			return nil
		}

		if !failure.IsRetryable(err) {
			return err
		}

		cause = err
	}
}

// Record returns the current record
func (r *Rows) Record() []string {
	return r.record
}

// Delivered returns how many records Next has produced
func (r *Rows) Delivered() int64 {
	return r.delivered
}

// Err returns the error that stopped iteration, if any
func (r *Rows) Err() error {
	return r.err
}

// Close releases the underlying stream
func (r *Rows) Close() error {
	r.done = true

	if r.body == nil {
		return nil
	}

	return r.body.Close()
}

// streamError classifies a read failure. Malformed CSV is permanent, any
// other read error means the transport broke.
func streamError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &failure.Error{Kind: failure.KindPermanent, Op: "result", Message: "malformed result data", Err: err}
	}

	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &failure.Error{Kind: failure.KindTransient, Op: "result", Err: err}
}

// nullStripReader drops NUL bytes, which the service occasionally emits
type nullStripReader struct {
	r io.Reader
}

func (n *nullStripReader) Read(p []byte) (int, error) {
	for {
		k, err := n.r.Read(p)

		j := 0

		for i := 0; i < k; i++ {
			if p[i] != 0 {
				p[j] = p[i]
				j++
			}
		}

		if j > 0 || err != nil || k == 0 {
			return j, err
		}
	}
}
