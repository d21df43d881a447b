package salesforce

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/sirupsen/logrus"
)

// JobState is the lifecycle state of a job as seen by the orchestrator
type JobState string

// Job states
const (
	JobCreated   JobState = "created"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobAPI is the subset of the client the orchestrator drives
type JobAPI interface {
	CreateJob(ctx context.Context, object string, op Operation, chunkSize int) (*Job, error)
	AddBatch(ctx context.Context, jobID, text string) (*Batch, error)
	Batches(ctx context.Context, jobID string) ([]Batch, error)
	CloseJob(ctx context.Context, jobID string) error
	AbortJob(ctx context.Context, jobID string) error
}

// JobRequest is one query to run as a bulk job
type JobRequest struct {
	Object         string
	Query          string
	IncludeDeleted bool
}

// JobResult is the outcome of a job that reached a terminal state
type JobResult struct {
	Job   Job
	State JobState
	Polls int

	// Batches holds every data-bearing batch in discovery order. In chunked
	// mode the original batch, which only spawns the chunks, is left out.
	Batches []Batch
}

// Completed returns the completed batches in discovery order
func (r *JobResult) Completed() []Batch {
	return r.filter(func(s BatchState) bool { return s == BatchCompleted })
}

// Failed returns batches that ended failed or aborted
func (r *JobResult) Failed() []Batch {
	return r.filter(func(s BatchState) bool { return s == BatchFailed || s == BatchAborted })
}

func (r *JobResult) filter(keep func(BatchState) bool) []Batch {
	out := make([]Batch, 0, len(r.Batches))

	for _, b := range r.Batches {
		if keep(b.State) {
			out = append(out, b)
		}
	}

	return out
}

// Orchestrator submits a query as a bulk job and polls it to completion.
// Polling is sequential at a fixed interval; transient poll failures are
// retried by the client per call.
type Orchestrator struct {
	log   logrus.FieldLogger
	api   JobAPI
	cfg   *BulkConfig
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(log logrus.FieldLogger, api JobAPI, cfg *BulkConfig) *Orchestrator {
	return &Orchestrator{
		log:   log.WithField("component", "orchestrator"),
		api:   api,
		cfg:   cfg,
		sleep: sleepContext,
	}
}

// Run submits req and blocks until every batch is terminal. A job whose
// batches all failed returns the translated remote diagnostic. The caller
// must Close the job of a successful result once it is drained.
func (o *Orchestrator) Run(ctx context.Context, req JobRequest) (*JobResult, error) {
	chunkSize := 0
	if o.cfg.Chunking.Enabled {
		chunkSize = o.cfg.Chunking.Size
	}

	job, err := o.api.CreateJob(ctx, req.Object, OperationFor(req.IncludeDeleted), chunkSize)
	if err != nil {
		return nil, err
	}

	log := o.log.WithFields(logrus.Fields{
		"object": req.Object,
		"job_id": job.ID,
		"mode":   job.Mode,
	})
	log.WithField("state", JobCreated).Info("Created bulk job")

	result := &JobResult{Job: *job, State: JobCreated}

	if _, err := o.api.AddBatch(ctx, job.ID, req.Query); err != nil {
		o.abort(ctx, log, job.ID)
		result.State = JobFailed

		return result, err
	}

	result.State = JobSubmitted
	log.WithField("state", result.State).Debug("Submitted query")

	result.State = JobPolling

	for {
		result.Polls++
		observability.RecordPoll(req.Object)

		batches, err := o.api.Batches(ctx, job.ID)
		if err != nil {
			o.abort(ctx, log, job.ID)
			result.State = JobFailed

			return result, err
		}

		relevant, done := settle(job.Mode, batches)
		if done {
			result.Batches = relevant
			break
		}

		log.WithFields(logrus.Fields{
			"poll":    result.Polls,
			"batches": len(relevant),
		}).Debug("Job still running")

		if o.cfg.MaxPolls > 0 && result.Polls >= o.cfg.MaxPolls {
			o.abort(ctx, log, job.ID)
			result.State = JobFailed

			return result, &failure.Error{
				Kind:    failure.KindExhausted,
				Op:      "bulk.poll",
				Message: fmt.Sprintf("job %s did not finish within %d polls", job.ID, o.cfg.MaxPolls),
			}
		}

		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			result.State = JobFailed
			return result, err
		}
	}

	for _, b := range result.Batches {
		observability.RecordBatch(req.Object, string(b.State))
	}

	completed, failed := result.Completed(), result.Failed()

	for _, b := range failed {
		log.WithFields(logrus.Fields{
			"batch_id": b.ID,
			"state":    b.State,
			"message":  b.Message,
		}).Warn("Batch did not complete")
	}

	if len(completed) == 0 && len(failed) > 0 {
		result.State = JobFailed
		observability.RecordJob(req.Object, string(job.Mode), string(result.State))

		if err := o.api.CloseJob(ctx, job.ID); err != nil {
			log.WithError(err).Warn("Failed to close job")
		}

		msg := failed[0].Message
		if msg == "" {
			msg = fmt.Sprintf("batch %s ended %s", failed[0].ID, failed[0].State)
		}

		return result, classifyBatchMessage("bulk.job", msg)
	}

	result.State = JobCompleted
	observability.RecordJob(req.Object, string(job.Mode), string(result.State))

	log.WithFields(logrus.Fields{
		"completed": len(completed),
		"failed":    len(failed),
		"polls":     result.Polls,
	}).Info("Bulk job finished")

	return result, nil
}

// Close closes a drained job
func (o *Orchestrator) Close(ctx context.Context, job Job) error {
	return o.api.CloseJob(ctx, job.ID)
}

// settle drops the chunking parent batch and reports whether every
// remaining batch is terminal.
func settle(mode Mode, batches []Batch) ([]Batch, bool) {
	relevant := make([]Batch, 0, len(batches))
	done := len(batches) > 0

	for _, b := range batches {
		if !b.State.Terminal() {
			done = false
		}

		if b.State == BatchNotProcessed {
			if mode == ModeChunked {
				continue
			}

			b.State = BatchAborted
		}

		relevant = append(relevant, b)
	}

	return relevant, done
}

func (o *Orchestrator) abort(ctx context.Context, log logrus.FieldLogger, jobID string) {
	if err := o.api.AbortJob(context.WithoutCancel(ctx), jobID); err != nil {
		log.WithError(err).Warn("Failed to abort job")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
