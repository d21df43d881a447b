package extractor

import (
	"context"
	"fmt"

	"github.com/ethpandaops/sfbulk/pkg/salesforce"
)

// ProbeResult is the outcome of a validation probe
type ProbeResult struct {
	Object             string   `json:"object"`
	Query              string   `json:"query"`
	Watermark          string   `json:"watermark"`
	Fields             []string `json:"fields"`
	Dropped            []string `json:"dropped,omitempty"`
	MissingPrimaryKeys []string `json:"missing_primary_keys"`
	TotalSize          int      `json:"total_size"`
}

// Probe builds the query a run would submit and checks it with a LIMIT 1
// query. Nothing is written.
func (e *Extractor) Probe(ctx context.Context) (*ProbeResult, error) {
	log := e.log.WithField("object", e.object)

	watermark, err := e.store.Read(ctx)
	if err != nil {
		return nil, err
	}

	bound := watermark.Bound(log, e.cfg.Loading.Overlap)

	client, err := e.connect(ctx, log)
	if err != nil {
		return nil, err
	}

	query, err := e.buildQuery(ctx, log, client, bound)
	if err != nil {
		return nil, err
	}

	res := &ProbeResult{
		Object:             query.Object(),
		Query:              query.Text(),
		Watermark:          bound,
		Fields:             query.Selected(),
		Dropped:            query.Dropped(),
		MissingPrimaryKeys: query.MissingPrimaryKeys(e.cfg.Loading.PrimaryKey),
	}

	qr, err := client.TestQuery(ctx, query.WithRowLimit(1).Text(), e.cfg.Query.IncludeDeleted)
	if err != nil {
		return res, err
	}

	res.TotalSize = qr.TotalSize

	return res, nil
}

// Objects lists the objects the bulk API can export
func (e *Extractor) Objects(ctx context.Context) ([]salesforce.ObjectInfo, error) {
	client, err := e.connect(ctx, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return client.BulkObjects(ctx)
}
