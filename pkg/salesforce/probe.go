package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// maxGetQueryLength is the longest query sent in a URL; longer ones are POSTed
const maxGetQueryLength = 1500

// QueryResult is the synchronous query response used by probes
type QueryResult struct {
	TotalSize int              `json:"totalSize"`
	Done      bool             `json:"done"`
	Records   []map[string]any `json:"records"`
}

// TestQuery runs text synchronously so the service validates it without
// the latency of a bulk job. Callers cap it with a row limit first.
func (c *Client) TestQuery(ctx context.Context, text string, includeDeleted bool) (*QueryResult, error) {
	endpoint := "query"
	if includeDeleted {
		endpoint = "queryAll"
	}

	usePost := len(text) > maxGetQueryLength

	c.log.WithField("length", len(text)).Debug("Running test query")

	res, err := c.testQuery(ctx, endpoint, text, usePost)
	if err != nil && !usePost {
		if status := StatusOf(err); status == http.StatusRequestURITooLong || status == http.StatusRequestHeaderFieldsTooLarge {
			c.log.WithError(err).Warn("Test query rejected as too long, retrying with POST")
			res, err = c.testQuery(ctx, endpoint, text, true)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("test query failed (length: %d chars): %w", len(text), err)
	}

	c.log.Info("Test query has been successful")

	return res, nil
}

func (c *Client) testQuery(ctx context.Context, endpoint, text string, usePost bool) (*QueryResult, error) {
	req := &request{
		op:     "test_query",
		api:    apiREST,
		method: http.MethodGet,
		path:   endpoint,
		query:  url.Values{"q": {text}},
	}

	if usePost {
		body, err := json.Marshal(map[string]string{"q": text})
		if err != nil {
			return nil, err
		}

		req.method = http.MethodPost
		req.query = nil
		req.body = body
		req.contentType = "application/json"
	}

	var res QueryResult
	if err := c.call(ctx, req, &res); err != nil {
		return nil, err
	}

	return &res, nil
}
