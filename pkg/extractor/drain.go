package extractor

import (
	"context"
	"fmt"

	"github.com/ethpandaops/sfbulk/pkg/output"
	"github.com/ethpandaops/sfbulk/pkg/salesforce"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// resultSet is one result set of a completed batch and the slice index it
// is written to
type resultSet struct {
	index   int
	batchID string
	id      string
}

// drain writes every result set of the completed batches to its own slice.
// Indices follow batch discovery order and then result order, so they do
// not depend on which result set finishes first.
func (e *Extractor) drain(ctx context.Context, log logrus.FieldLogger, client *salesforce.Client, job *salesforce.JobResult, writer *output.SliceWriter) ([]*output.Slice, error) {
	var sets []resultSet

	for _, b := range job.Completed() {
		ids, err := client.ResultIDs(ctx, job.Job.ID, b.ID)
		if err != nil {
			return nil, err
		}

		for _, id := range ids {
			sets = append(sets, resultSet{index: len(sets), batchID: b.ID, id: id})
		}
	}

	limit := e.cfg.Bulk.DrainConcurrency
	if limit < 1 {
		limit = 1
	}

	slices := make([]*output.Slice, len(sets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, set := range sets {
		g.Go(func() error {
			log.WithFields(logrus.Fields{
				"batch_id":  set.batchID,
				"result_id": set.id,
				"slice":     set.index,
			}).Info("Fetching result set")

			rows, err := client.OpenResult(gctx, job.Job.ID, set.batchID, set.id)
			if err != nil {
				return err
			}

			defer rows.Close()

			slice, err := writer.Write(set.index, rows)
			if err != nil {
				return fmt.Errorf("result %s of batch %s: %w", set.id, set.batchID, err)
			}

			slices[set.index] = slice

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		written := make([]*output.Slice, 0, len(slices))

		for _, s := range slices {
			if s != nil {
				written = append(written, s)
			}
		}

		return written, err
	}

	return slices, nil
}
