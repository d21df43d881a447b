package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ethpandaops/sfbulk/pkg/failure"
)

type resultList struct {
	Results []string `xml:"result"`
}

// ResultIDs lists the result sets of a completed batch. A batch may be split
// into several result sets even without chunking.
func (c *Client) ResultIDs(ctx context.Context, jobID, batchID string) ([]string, error) {
	var payload []byte

	err := c.call(ctx, &request{
		op:     "result_list",
		api:    apiBulk,
		method: http.MethodGet,
		path:   batchPath(jobID, batchID) + "/result",
	}, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to list results of batch %s: %w", batchID, err)
	}

	trimmed := bytes.TrimSpace(payload)

	if len(trimmed) > 0 && trimmed[0] == '<' {
		var list resultList
		if err := xml.Unmarshal(trimmed, &list); err != nil {
			return nil, &failure.Error{Kind: failure.KindInternal, Op: "result_list", Message: "failed to decode result list", Err: err}
		}

		return list.Results, nil
	}

	var ids []string
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return nil, &failure.Error{Kind: failure.KindInternal, Op: "result_list", Message: "failed to decode result list", Err: err}
	}

	return ids, nil
}

// OpenResult opens one result set as a row cursor. The header is read
// before returning.
func (c *Client) OpenResult(ctx context.Context, jobID, batchID, resultID string) (*Rows, error) {
	open := func(ctx context.Context) (io.ReadCloser, error) {
		body, err := c.stream(ctx, &request{
			op:     "result",
			api:    apiBulk,
			method: http.MethodGet,
			path:   batchPath(jobID, batchID) + "/result/" + url.PathEscape(resultID),
		})
		if err != nil && failure.Is(err, failure.KindNotFound) {
			return nil, &failure.Error{
				Kind:    failure.KindNotFound,
				Op:      "result",
				Message: fmt.Sprintf("result %s of batch %s", resultID, batchID),
				Err:     join(ErrResultGone, err),
			}
		}

		return body, err
	}

	log := c.log.WithField("batch_id", batchID).WithField("result_id", resultID)

	return newRows(ctx, log, open, c.cfg.MaxReopens)
}

func batchPath(jobID, batchID string) string {
	return "job/" + url.PathEscape(jobID) + "/batch/" + url.PathEscape(batchID)
}
