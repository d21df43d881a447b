package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Operation is the bulk query operation
type Operation string

const (
	// OperationQuery exports live records
	OperationQuery Operation = "query"
	// OperationQueryAll also exports deleted and archived records
	OperationQueryAll Operation = "queryAll"
)

// OperationFor picks the operation for the deleted-records setting
func OperationFor(includeDeleted bool) Operation {
	if includeDeleted {
		return OperationQueryAll
	}

	return OperationQuery
}

// Mode is how a job is partitioned
type Mode string

const (
	// ModeSingle runs the query as one batch
	ModeSingle Mode = "single"
	// ModeChunked lets the service split the query by primary key
	ModeChunked Mode = "chunked"
)

// BatchState is the state of one batch
type BatchState string

// Batch states
const (
	BatchQueued       BatchState = "queued"
	BatchInProgress   BatchState = "in_progress"
	BatchCompleted    BatchState = "completed"
	BatchFailed       BatchState = "failed"
	BatchAborted      BatchState = "aborted"
	BatchNotProcessed BatchState = "not_processed"
)

// Terminal reports whether the batch will not change state again
func (s BatchState) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchAborted, BatchNotProcessed:
		return true
	default:
		return false
	}
}

func parseBatchState(remote string) BatchState {
	switch remote {
	case "Queued":
		return BatchQueued
	case "InProgress":
		return BatchInProgress
	case "Completed":
		return BatchCompleted
	case "Failed":
		return BatchFailed
	case "NotProcessed":
		return BatchNotProcessed
	default:
		return BatchInProgress
	}
}

// Job is a submitted bulk job
type Job struct {
	ID        string
	Object    string
	Operation Operation
	Mode      Mode
}

// Batch is one partition of a job
type Batch struct {
	ID      string     `json:"id"`
	JobID   string     `json:"jobId"`
	State   BatchState `json:"state"`
	Message string     `json:"message,omitempty"`
	Records int64      `json:"records"`
}

type jobInfo struct {
	ID     string `json:"id" xml:"id"`
	Object string `json:"object" xml:"object"`
	State  string `json:"state" xml:"state"`
}

type batchInfo struct {
	ID                     string `json:"id" xml:"id"`
	JobID                  string `json:"jobId" xml:"jobId"`
	State                  string `json:"state" xml:"state"`
	StateMessage           string `json:"stateMessage" xml:"stateMessage"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed" xml:"numberRecordsProcessed"`
}

func (b batchInfo) toBatch() Batch {
	return Batch{
		ID:      b.ID,
		JobID:   b.JobID,
		State:   parseBatchState(b.State),
		Message: b.StateMessage,
		Records: b.NumberRecordsProcessed,
	}
}

type batchInfoList struct {
	Batches []batchInfo `json:"batchInfo" xml:"batchInfo"`
}

// CreateJob opens a CSV query job. A positive chunkSize asks the service
// to split the query by primary key into batches of that size.
func (c *Client) CreateJob(ctx context.Context, object string, op Operation, chunkSize int) (*Job, error) {
	body, err := json.Marshal(map[string]string{
		"operation":   string(op),
		"object":      object,
		"contentType": "CSV",
	})
	if err != nil {
		return nil, err
	}

	req := &request{
		op:          "create_job",
		api:         apiBulk,
		method:      http.MethodPost,
		path:        "job",
		body:        body,
		contentType: "application/json; charset=UTF-8",
	}

	mode := ModeSingle
	if chunkSize > 0 {
		mode = ModeChunked
		req.headers = map[string]string{"Sforce-Enable-PKChunking": "chunkSize=" + strconv.Itoa(chunkSize)}
	}

	var info jobInfo
	if err := c.call(ctx, req, &info); err != nil {
		return nil, fmt.Errorf("failed to create job for %s: %w", object, err)
	}

	return &Job{ID: info.ID, Object: object, Operation: op, Mode: mode}, nil
}

// AddBatch submits the query text to a job
func (c *Client) AddBatch(ctx context.Context, jobID, text string) (*Batch, error) {
	var info batchInfo

	err := c.call(ctx, &request{
		op:          "add_batch",
		api:         apiBulk,
		method:      http.MethodPost,
		path:        "job/" + url.PathEscape(jobID) + "/batch",
		body:        []byte(text),
		contentType: "text/csv; charset=UTF-8",
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("failed to add batch to job %s: %w", jobID, err)
	}

	b := info.toBatch()

	return &b, nil
}

// Batches returns every batch of a job in creation order
func (c *Client) Batches(ctx context.Context, jobID string) ([]Batch, error) {
	var list batchInfoList

	err := c.call(ctx, &request{
		op:     "poll",
		api:    apiBulk,
		method: http.MethodGet,
		path:   "job/" + url.PathEscape(jobID) + "/batch",
	}, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to poll job %s: %w", jobID, err)
	}

	out := make([]Batch, 0, len(list.Batches))
	for _, b := range list.Batches {
		out = append(out, b.toBatch())
	}

	return out, nil
}

// CloseJob tells the service no more batches will be added
func (c *Client) CloseJob(ctx context.Context, jobID string) error {
	return c.setJobState(ctx, jobID, "Closed")
}

// AbortJob stops a job that will not be drained
func (c *Client) AbortJob(ctx context.Context, jobID string) error {
	return c.setJobState(ctx, jobID, "Aborted")
}

func (c *Client) setJobState(ctx context.Context, jobID, state string) error {
	body, err := json.Marshal(map[string]string{"state": state})
	if err != nil {
		return err
	}

	err = c.call(ctx, &request{
		op:          "update_job",
		api:         apiBulk,
		method:      http.MethodPost,
		path:        "job/" + url.PathEscape(jobID),
		body:        body,
		contentType: "application/json; charset=UTF-8",
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to set job %s to %s: %w", jobID, state, err)
	}

	return nil
}
