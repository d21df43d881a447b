package salesforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJobAPI replays a scripted sequence of poll responses
type mockJobAPI struct {
	polls     [][]Batch
	pollErr   error
	createErr error
	addErr    error

	created   []string
	chunkSize int
	operation Operation
	query     string
	pollCalls int
	closed    []string
	aborted   []string
}

func (m *mockJobAPI) CreateJob(_ context.Context, object string, op Operation, chunkSize int) (*Job, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}

	m.created = append(m.created, object)
	m.chunkSize = chunkSize
	m.operation = op

	mode := ModeSingle
	if chunkSize > 0 {
		mode = ModeChunked
	}

	return &Job{ID: "750A", Object: object, Operation: op, Mode: mode}, nil
}

func (m *mockJobAPI) AddBatch(_ context.Context, jobID, text string) (*Batch, error) {
	if m.addErr != nil {
		return nil, m.addErr
	}

	m.query = text

	return &Batch{ID: "751A", JobID: jobID, State: BatchQueued}, nil
}

func (m *mockJobAPI) Batches(_ context.Context, _ string) ([]Batch, error) {
	m.pollCalls++

	if m.pollErr != nil {
		return nil, m.pollErr
	}

	idx := m.pollCalls - 1
	if idx >= len(m.polls) {
		idx = len(m.polls) - 1
	}

	return m.polls[idx], nil
}

func (m *mockJobAPI) CloseJob(_ context.Context, jobID string) error {
	m.closed = append(m.closed, jobID)
	return nil
}

func (m *mockJobAPI) AbortJob(_ context.Context, jobID string) error {
	m.aborted = append(m.aborted, jobID)
	return nil
}

func newTestOrchestrator(api JobAPI, cfg *BulkConfig) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(testLogger(), api, cfg)

	slept := make([]time.Duration, 0)
	o.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	return o, &slept
}

func batch(id string, state BatchState) Batch {
	return Batch{ID: id, JobID: "750A", State: state}
}

func TestOrchestratorSingleBatch(t *testing.T) {
	api := &mockJobAPI{
		polls: [][]Batch{
			{batch("751A", BatchQueued)},
			{batch("751A", BatchInProgress)},
			{batch("751A", BatchCompleted)},
		},
	}

	o, slept := newTestOrchestrator(api, &BulkConfig{PollInterval: 10 * time.Second, MaxPolls: 10})

	res, err := o.Run(context.Background(), JobRequest{Object: "Account", Query: "SELECT Id FROM Account"})
	require.NoError(t, err)

	assert.Equal(t, JobCompleted, res.State)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, *slept, "poll interval is fixed")
	assert.Equal(t, OperationQuery, api.operation)
	assert.Equal(t, 0, api.chunkSize)
	assert.Equal(t, "SELECT Id FROM Account", api.query)
	require.Len(t, res.Completed(), 1)
	assert.Empty(t, res.Failed())
	assert.Empty(t, api.closed, "closing a drained job is the caller's job")

	require.NoError(t, o.Close(context.Background(), res.Job))
	assert.Equal(t, []string{"750A"}, api.closed)
}

func TestOrchestratorChunked(t *testing.T) {
	api := &mockJobAPI{
		polls: [][]Batch{
			{batch("751A", BatchInProgress)},
			{batch("751A", BatchNotProcessed), batch("751B", BatchCompleted), batch("751C", BatchQueued)},
			{batch("751A", BatchNotProcessed), batch("751B", BatchCompleted), batch("751C", BatchCompleted), batch("751D", BatchFailed)},
		},
	}

	cfg := &BulkConfig{PollInterval: time.Second, MaxPolls: 10, Chunking: ChunkingConfig{Enabled: true, Size: 100000}}
	o, _ := newTestOrchestrator(api, cfg)

	res, err := o.Run(context.Background(), JobRequest{Object: "Account", Query: "SELECT Id FROM Account", IncludeDeleted: true})
	require.NoError(t, err)

	assert.Equal(t, 100000, api.chunkSize)
	assert.Equal(t, OperationQueryAll, api.operation)
	assert.Equal(t, ModeChunked, res.Job.Mode)

	ids := func(bs []Batch) []string {
		out := make([]string, 0, len(bs))
		for _, b := range bs {
			out = append(out, b.ID)
		}

		return out
	}

	assert.Equal(t, []string{"751B", "751C", "751D"}, ids(res.Batches), "parent batch excluded, discovery order kept")
	assert.Equal(t, []string{"751B", "751C"}, ids(res.Completed()))
	assert.Equal(t, []string{"751D"}, ids(res.Failed()))
}

func TestOrchestratorNotProcessedInSingleModeIsAborted(t *testing.T) {
	api := &mockJobAPI{polls: [][]Batch{{batch("751A", BatchNotProcessed)}}}

	o, _ := newTestOrchestrator(api, &BulkConfig{PollInterval: time.Second})

	res, err := o.Run(context.Background(), JobRequest{Object: "Account", Query: "SELECT Id FROM Account"})
	require.Error(t, err)

	assert.Equal(t, JobFailed, res.State)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, BatchAborted, res.Failed()[0].State)
}

func TestOrchestratorAllBatchesFailed(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr error
		kind    failure.Kind
	}{
		{
			name:    "bad query",
			message: "InvalidBatch : Failed to process query: MALFORMED_QUERY: unexpected token",
			wantErr: ErrBadQuery,
			kind:    failure.KindPermanent,
		},
		{
			name:    "object not queryable",
			message: "InvalidBatch : Failed to process query: INVALID_TYPE: sObject type 'Foo' is not supported",
			wantErr: ErrNotQueryable,
			kind:    failure.KindPermanent,
		},
		{
			name:    "expired credentials",
			message: "InvalidSessionId : Invalid session id",
			wantErr: ErrSessionExpired,
			kind:    failure.KindExpiredSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failed := batch("751A", BatchFailed)
			failed.Message = tt.message

			api := &mockJobAPI{polls: [][]Batch{{failed}}}
			o, _ := newTestOrchestrator(api, &BulkConfig{PollInterval: time.Second})

			res, err := o.Run(context.Background(), JobRequest{Object: "Foo", Query: "SELECT Id FROM Foo"})
			require.Error(t, err)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.kind, failure.KindOf(err))
			assert.Equal(t, JobFailed, res.State)
			assert.Equal(t, []string{"750A"}, api.closed)
		})
	}
}

func TestOrchestratorMaxPolls(t *testing.T) {
	api := &mockJobAPI{polls: [][]Batch{{batch("751A", BatchInProgress)}}}

	o, slept := newTestOrchestrator(api, &BulkConfig{PollInterval: time.Second, MaxPolls: 4})

	res, err := o.Run(context.Background(), JobRequest{Object: "Account", Query: "SELECT Id FROM Account"})
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindExhausted))
	assert.Equal(t, 4, res.Polls)
	assert.Len(t, *slept, 3)
	assert.Equal(t, []string{"750A"}, api.aborted)
}

func TestOrchestratorPollFailureAbortsJob(t *testing.T) {
	pollErr := &failure.Error{Kind: failure.KindExhausted, Op: "poll", Message: "retries exhausted"}
	api := &mockJobAPI{pollErr: pollErr}

	o, _ := newTestOrchestrator(api, &BulkConfig{PollInterval: time.Second})

	res, err := o.Run(context.Background(), JobRequest{Object: "Account", Query: "SELECT Id FROM Account"})
	require.Error(t, err)

	assert.True(t, errors.Is(err, pollErr))
	assert.Equal(t, JobFailed, res.State)
	assert.Equal(t, []string{"750A"}, api.aborted)
}

func TestOrchestratorSubmitFailure(t *testing.T) {
	api := &mockJobAPI{addErr: failure.New(failure.KindPermanent, "add_batch", "bad")}

	o, _ := newTestOrchestrator(api, &BulkConfig{PollInterval: time.Second})

	_, err := o.Run(context.Background(), JobRequest{Object: "Account", Query: "SELECT Id FROM Account"})
	require.Error(t, err)

	assert.Equal(t, []string{"750A"}, api.aborted)
	assert.Equal(t, 0, api.pollCalls)
}

func TestOrchestratorCreateFailure(t *testing.T) {
	api := &mockJobAPI{createErr: failure.New(failure.KindPermanent, "create_job", "InvalidEntity")}

	o, _ := newTestOrchestrator(api, &BulkConfig{PollInterval: time.Second})

	res, err := o.Run(context.Background(), JobRequest{Object: "Foo", Query: "SELECT Id FROM Foo"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, api.aborted)
}

func TestSettle(t *testing.T) {
	relevant, done := settle(ModeChunked, nil)
	assert.False(t, done, "no batches yet means still running")
	assert.Empty(t, relevant)

	relevant, done = settle(ModeChunked, []Batch{batch("A", BatchNotProcessed)})
	assert.True(t, done)
	assert.Empty(t, relevant)
}
