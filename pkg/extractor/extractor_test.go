package extractor

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/sfbulk/internal/testutil"
	"github.com/ethpandaops/sfbulk/pkg/auth"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/manifest"
	"github.com/ethpandaops/sfbulk/pkg/output"
	"github.com/ethpandaops/sfbulk/pkg/publish"
	"github.com/ethpandaops/sfbulk/pkg/retry"
	"github.com/ethpandaops/sfbulk/pkg/salesforce"
	"github.com/ethpandaops/sfbulk/pkg/schema"
	"github.com/ethpandaops/sfbulk/pkg/state"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sentinelBody = "Records not found for this query\n"

var runStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func testConfig(t *testing.T, loginURL string) *Config {
	t.Helper()

	dir := t.TempDir()

	return &Config{
		Salesforce: salesforce.Config{
			APIVersion:            testutil.FakeAPIVersion,
			DialTimeout:           5 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
			RateBurst:             10,
			MaxReopens:            3,
			Retry:                 fastRetry(),
		},
		Auth: auth.Config{
			Mode:         auth.ModeConnectedApp,
			Username:     "integration@example.com",
			Password:     "password",
			ClientID:     "client",
			ClientSecret: "secret",
			LoginURL:     loginURL,
			Timeout:      5 * time.Second,
			Retry:        fastRetry(),
		},
		Query: QueryConfig{Object: "Account"},
		Bulk: salesforce.BulkConfig{
			PollInterval:     time.Millisecond,
			MaxPolls:         50,
			DrainConcurrency: 1,
		},
		Output: output.Config{
			DataDir:    filepath.Join(dir, "tables"),
			Headerless: true,
		},
		Manifest: manifest.Config{
			Enabled:     true,
			Bucket:      "in.c-sf",
			Destination: "{{ .bucket }}.{{ .table }}",
		},
		State: state.Config{
			Backend: state.BackendFile,
			Path:    filepath.Join(dir, "state.json"),
			LockTTL: time.Hour,
		},
	}
}

func newFake(t *testing.T) *testutil.FakeSalesforce {
	t.Helper()

	fake := testutil.NewFakeSalesforce(t)
	fake.Objects["Account"] = []testutil.FakeField{
		{Name: "Id", Type: "id"},
		{Name: "Name", Type: "string"},
		{Name: "BillingAddress", Type: "address"},
		{Name: "IsDeleted", Type: "boolean"},
		{Name: "LastModifiedDate", Type: "datetime"},
	}
	fake.PollsUntilDone = 1

	return fake
}

func newTestExtractor(t *testing.T, cfg *Config) *Extractor {
	t.Helper()

	e, err := New(testLogger(), cfg)
	require.NoError(t, err)

	e.now = func() time.Time { return runStart }

	t.Cleanup(func() { _ = e.Close() })

	return e
}

func completed(id string, bodies ...string) testutil.FakeBatch {
	b := testutil.FakeBatch{ID: id, State: "Completed"}
	for i, body := range bodies {
		b.Results = append(b.Results, testutil.FakeResult{ID: id + "-r" + string(rune('0'+i)), Body: body})
	}

	return b
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}

func readState(t *testing.T, cfg *Config) *state.Watermark {
	t.Helper()

	var w state.Watermark
	require.NoError(t, json.Unmarshal([]byte(readFile(t, cfg.State.Path)), &w))

	return &w
}

func writeState(t *testing.T, cfg *Config, w state.Watermark) {
	t.Helper()

	b, err := json.Marshal(w)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.State.Path, b, 0o600))
}

func assertMissing(t *testing.T, path string) {
	t.Helper()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestRunObjectExtraction(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001",
		"\"Id\",\"Name\",\"IsDeleted\",\"LastModifiedDate\"\n"+
			"\"001\",\"Acme\",\"false\",\"2024-05-01T00:00:00.000Z\"\n"+
			"\"002\",\"Globex, Inc\",\"false\",\"2024-05-02T00:00:00.000Z\"\n",
	)}

	cfg := testConfig(t, fake.URL())
	e := newTestExtractor(t, cfg)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "SELECT Id,Name,IsDeleted,LastModifiedDate FROM Account WHERE IsDeleted = false", res.Query)
	assert.Equal(t, state.DefaultLastRun, res.Watermark)
	assert.Equal(t, int64(2), res.Rows)
	assert.Equal(t, 1, res.Batches)
	assert.Empty(t, res.FailedBatches)
	assert.Equal(t, []string{"Id", "Name", "IsDeleted", "LastModifiedDate"}, res.Columns)
	assert.Equal(t, schema.SourceRun, res.SchemaSource)

	tableDir := filepath.Join(cfg.Output.DataDir, "Account.csv")
	require.Len(t, res.Slices, 1)
	assert.Equal(t,
		"001,Acme,false,2024-05-01T00:00:00.000Z\n002,\"Globex, Inc\",false,2024-05-02T00:00:00.000Z\n",
		readFile(t, filepath.Join(tableDir, "0")))

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, tableDir+".manifest")), &m))
	assert.Equal(t, "in.c-sf.Account", m.Destination)
	assert.Equal(t, res.Columns, m.Columns)
	assert.Equal(t, schema.TypeBoolean, m.ColumnTypes["IsDeleted"])
	assert.Equal(t, schema.TypeTimestamp, m.ColumnTypes["LastModifiedDate"])
	assert.False(t, m.Incremental)

	w := readState(t, cfg)
	assert.Equal(t, "2024-06-01T12:00:00.000Z", w.LastRun)
	assert.Equal(t, res.Columns, w.PrevOutputColumns)

	job := fake.Job(0)
	require.NotNil(t, job)
	assert.Equal(t, "query", job.Operation)
	assert.Equal(t, "", job.ChunkSize)
	assert.Equal(t, res.Query, job.Query)
	assert.Equal(t, "Closed", job.State)

	assertMissing(t, cfg.State.Path+".lock")
}

func TestRunTwiceOnSameDataDir(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001",
		"\"Id\",\"Name\"\n\"001\",\"Acme\"\n",
		"\"Id\",\"Name\"\n\"002\",\"Globex\"\n",
	)}

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{SOQL: "SELECT Id, Name FROM Account"}
	e := newTestExtractor(t, cfg)

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Slices, 2)

	fake.Batches = []testutil.FakeBatch{completed("751002", "\"Id\",\"Name\"\n\"003\",\"Initech\"\n")}

	second, err := e.Run(context.Background())
	require.NoError(t, err)

	tableDir := filepath.Join(cfg.Output.DataDir, "Account.csv")
	require.Len(t, second.Slices, 1)
	assert.Equal(t, int64(1), second.Rows)
	assert.Equal(t, "003,Initech\n", readFile(t, filepath.Join(tableDir, "0")))
	assertMissing(t, filepath.Join(tableDir, "1"))

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, tableDir+".manifest")), &m))
	assert.Equal(t, []string{"Id", "Name"}, m.Columns)

	assert.Equal(t, "2024-06-01T12:00:00.000Z", readState(t, cfg).LastRun)
}

func TestRunChunkedWithEmptyBatch(t *testing.T) {
	fake := newFake(t)
	fake.Objects["Account"] = []testutil.FakeField{
		{Name: "Id", Type: "id"},
		{Name: "OwnerId", Type: "reference"},
	}
	fake.Batches = []testutil.FakeBatch{
		{ID: "751000", State: "NotProcessed"},
		completed("751001", "\"Id\",\"Owner.Name\"\n\"001\",\"Ann\"\n"),
		completed("751002", sentinelBody),
		completed("751003", "\"Id\",\"Owner.Name\"\n\"003\",\"Bob\"\n"),
	}

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{SOQL: "SELECT Id, Owner.Name FROM Account"}
	cfg.Bulk.Chunking = salesforce.ChunkingConfig{Enabled: true, Size: 1000}

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "SELECT Id, Owner.Name FROM Account", res.Query, "no IsDeleted field, query unchanged")
	assert.Equal(t, []string{"Id", "Owner_Name"}, res.Columns)
	assert.Equal(t, 3, res.Batches, "the chunking parent batch is not counted")
	require.Len(t, res.Slices, 3)

	tableDir := filepath.Join(cfg.Output.DataDir, "Account.csv")
	assert.Equal(t, "001,Ann\n", readFile(t, filepath.Join(tableDir, "0")))
	assert.Equal(t, "", readFile(t, filepath.Join(tableDir, "1")), "the empty batch leaves an empty slice")
	assert.Equal(t, "003,Bob\n", readFile(t, filepath.Join(tableDir, "2")))
	assert.Empty(t, res.Slices[1].Columns)

	assert.Equal(t, "1000", fake.Job(0).ChunkSize)
	assert.Equal(t, []string{"Id", "Owner_Name"}, readState(t, cfg).PrevOutputColumns)
}

func TestRunZeroRowsKeepsPreviousSchema(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", sentinelBody)}

	cfg := testConfig(t, fake.URL())
	writeState(t, cfg, state.Watermark{LastRun: "2024-01-01T00:00:00.000Z", PrevOutputColumns: []string{"Id", "Name"}})

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Id", "Name"}, res.Columns)
	assert.Equal(t, schema.SourcePrevious, res.SchemaSource)
	assert.Equal(t, int64(0), res.Rows)

	w := readState(t, cfg)
	assert.Equal(t, "2024-06-01T12:00:00.000Z", w.LastRun)
	assert.Equal(t, []string{"Id", "Name"}, w.PrevOutputColumns, "an empty run never writes an empty schema")
}

func TestRunZeroRowsFallsBackToObjectFields(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", sentinelBody)}

	cfg := testConfig(t, fake.URL())

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, schema.SourceObject, res.SchemaSource)
	assert.Equal(t, []string{"Id", "Name", "IsDeleted", "LastModifiedDate"}, res.Columns)
}

func TestRunWithoutSchemaRemovesOutput(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", sentinelBody)}

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{SOQL: "SELECT Id FROM Account"}

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, schema.SourceNone, res.SchemaSource)
	assert.Empty(t, res.Columns)
	assert.Empty(t, res.Slices)

	tableDir := filepath.Join(cfg.Output.DataDir, "Account.csv")
	assertMissing(t, tableDir)
	assertMissing(t, tableDir+".manifest")
	assertMissing(t, cfg.State.Path)
}

func TestRunSchemaCorruption(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{
		completed("751001", "\"Id\",\"Name\"\n\"001\",\"Acme\"\n"),
		completed("751002", "\"Id\",\"Email\"\n\"002\",\"a@b.c\"\n"),
	}

	cfg := testConfig(t, fake.URL())
	writeState(t, cfg, state.Watermark{LastRun: "2024-01-01T00:00:00.000Z", PrevOutputColumns: []string{"Id"}})

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, schema.ErrHeaderMismatch)
	assert.True(t, failure.Is(err, failure.KindSchemaCorruption))
	assert.Equal(t, 1, failure.ExitCode(err))

	assertMissing(t, filepath.Join(cfg.Output.DataDir, "Account.csv"))
	assert.Equal(t, "2024-01-01T00:00:00.000Z", readState(t, cfg).LastRun, "the watermark is untouched")
}

func TestRunIncremental(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", "\"Id\"\n\"001\"\n")}

	cfg := testConfig(t, fake.URL())
	cfg.Query.Fields = []string{"Id", "Nickname__c"}
	cfg.Loading = LoadingConfig{
		Incremental:      true,
		IncrementalFetch: true,
		IncrementalField: "LastModifiedDate",
		PrimaryKey:       []string{"Id"},
		Overlap:          time.Hour,
	}
	writeState(t, cfg, state.Watermark{LastRun: "2024-01-01T00:00:00.000Z", PrevOutputColumns: []string{"Id"}})

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	want := "SELECT Id FROM Account WHERE IsDeleted = false AND (LastModifiedDate >= 2023-12-31T23:00:00.000Z)"
	assert.Equal(t, want, res.Query)
	assert.Equal(t, want, fake.Job(0).Query)
	assert.Equal(t, "2023-12-31T23:00:00.000Z", res.Watermark)

	var m manifest.Manifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, res.Manifest)), &m))
	assert.True(t, m.Incremental)
	assert.Equal(t, []string{"Id"}, m.PrimaryKey)
}

func TestRunIncludeDeleted(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", "\"Id\"\n\"001\"\n")}

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{SOQL: "SELECT Id FROM Account", IncludeDeleted: true}

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "SELECT Id FROM Account", res.Query)
	assert.Equal(t, "queryAll", fake.Job(0).Operation)
}

func TestRunMissingPrimaryKey(t *testing.T) {
	fake := newFake(t)

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{SOQL: "SELECT Name FROM Account"}
	cfg.Loading.PrimaryKey = []string{"Id"}

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindValidation))
	assert.Contains(t, err.Error(), "loading.primaryKey")
	assert.Nil(t, fake.Job(0), "no job is submitted")
	assertMissing(t, filepath.Join(cfg.Output.DataDir, "Account.csv"))
}

func TestRunUnknownIncrementalField(t *testing.T) {
	fake := newFake(t)

	cfg := testConfig(t, fake.URL())
	cfg.Loading = LoadingConfig{
		Incremental:      true,
		IncrementalFetch: true,
		IncrementalField: "SystemModstamp",
		PrimaryKey:       []string{"Id"},
	}

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindValidation))
	assert.Nil(t, fake.Job(0))
}

func TestRunUnknownObject(t *testing.T) {
	fake := newFake(t)

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{Object: "Nope__c"}

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindNotFound))
	assert.Contains(t, err.Error(), "object Nope__c does not exist")
	assert.Equal(t, 1, failure.ExitCode(err))
}

func TestRunAllBatchesFailed(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{{
		ID:      "751001",
		State:   "Failed",
		Message: "InvalidBatch : Failed to process query: MALFORMED_QUERY: unexpected token: Bogus",
	}}

	cfg := testConfig(t, fake.URL())

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, salesforce.ErrBadQuery)
	assert.Contains(t, err.Error(), "MALFORMED_QUERY")
	assert.Len(t, res.FailedBatches, 1)
	assertMissing(t, filepath.Join(cfg.Output.DataDir, "Account.csv"))
	assertMissing(t, cfg.State.Path)
}

func TestRunPartialBatchFailure(t *testing.T) {
	tests := []struct {
		name             string
		failOnBatchError bool
	}{
		{name: "reported"},
		{name: "fatal", failOnBatchError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake(t)
			fake.Batches = []testutil.FakeBatch{
				completed("751001", "\"Id\"\n\"001\"\n"),
				{ID: "751002", State: "Failed", Message: "InvalidBatch : timeout"},
			}

			cfg := testConfig(t, fake.URL())
			cfg.Bulk.FailOnBatchError = tt.failOnBatchError

			res, err := newTestExtractor(t, cfg).Run(context.Background())

			require.Len(t, res.FailedBatches, 1)
			assert.Equal(t, "751002", res.FailedBatches[0].ID)

			if !tt.failOnBatchError {
				require.NoError(t, err)
				assert.Equal(t, int64(1), res.Rows)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBatchesFailed)
			assert.True(t, failure.Is(err, failure.KindPartial))
			assertMissing(t, filepath.Join(cfg.Output.DataDir, "Account.csv"))
			assertMissing(t, cfg.State.Path)
		})
	}
}

func TestRunParallelDrainKeepsDiscoveryOrder(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{
		completed("751001", "\"Id\"\n\"a\"\n"),
		completed("751002", "\"Id\"\n\"b1\"\n", "\"Id\"\n\"b2\"\n"),
		completed("751003", "\"Id\"\n\"c\"\n\"c\"\n"),
	}
	fake.Batches[2].Results[0].Breaks = 1

	cfg := testConfig(t, fake.URL())
	cfg.Bulk.DrainConcurrency = 4

	res, err := newTestExtractor(t, cfg).Run(context.Background())
	require.NoError(t, err)

	want := []string{"a\n", "b1\n", "b2\n", "c\nc\n"}

	require.Len(t, res.Slices, len(want))

	for i, content := range want {
		assert.Equal(t, i, res.Slices[i].Index)
		assert.Equal(t, content, readFile(t, res.Slices[i].Path))
	}

	assert.Equal(t, int64(5), res.Rows)
}

func TestRunLocked(t *testing.T) {
	fake := newFake(t)

	cfg := testConfig(t, fake.URL())
	require.NoError(t, os.WriteFile(cfg.State.Path+".lock", []byte("other"), 0o600))

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.ErrorIs(t, err, state.ErrLocked)

	assert.Equal(t, 0, fake.RequestCount("POST /services/oauth2/token"), "nothing happens without the lock")
}

func TestRunRejectedCredentials(t *testing.T) {
	fake := newFake(t)

	cfg := testConfig(t, fake.URL())
	cfg.Auth.ClientSecret = "wrong"

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.True(t, failure.Is(err, failure.KindAuth))
	assert.Equal(t, 1, failure.ExitCode(err))
	assert.Equal(t, 1, fake.RequestCount("POST /services/oauth2/token"))
}

func TestRunValidatesQueryFirst(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", "\"Id\"\n\"001\"\n")}

	cfg := testConfig(t, fake.URL())
	cfg.Query = QueryConfig{SOQL: "SELECT Id, Bogus FROM Account", ValidateQuery: true}

	_, err := newTestExtractor(t, cfg).Run(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, salesforce.ErrBadQuery)
	assert.Nil(t, fake.Job(0))
	require.NotEmpty(t, fake.Queries)
	assert.Equal(t, "SELECT Id, Bogus FROM Account WHERE IsDeleted = false LIMIT 1", fake.Queries[0])
}

type mockS3 struct {
	keys []string
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if _, err := io.Copy(io.Discard, in.Body); err != nil {
		return nil, err
	}

	m.keys = append(m.keys, aws.ToString(in.Key))

	return &s3.PutObjectOutput{}, nil
}

func TestRunPublishes(t *testing.T) {
	fake := newFake(t)
	fake.Batches = []testutil.FakeBatch{completed("751001", "\"Id\"\n\"001\"\n", "\"Id\"\n\"002\"\n")}

	cfg := testConfig(t, fake.URL())
	cfg.Publish = publish.Config{Enabled: true, Bucket: "exports", Prefix: "sf", AccessKeyID: "k", SecretAccessKey: "s", Retry: fastRetry()}

	e := newTestExtractor(t, cfg)

	api := &mockS3{}
	e.publisher = publish.NewWithAPI(testLogger(), &cfg.Publish, api)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	want := []string{"sf/Account/slices/0", "sf/Account/slices/1", "sf/Account/manifest.json"}
	assert.Equal(t, want, api.keys)
	assert.Equal(t, want, res.Published)
}

func TestProbe(t *testing.T) {
	fake := newFake(t)

	cfg := testConfig(t, fake.URL())
	cfg.Query.Fields = []string{"Id", "Name", "Ghost__c"}
	cfg.Loading.PrimaryKey = []string{"Email"}

	res, err := newTestExtractor(t, cfg).Probe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "SELECT Id,Name FROM Account WHERE IsDeleted = false", res.Query)
	assert.Equal(t, []string{"Ghost__c"}, res.Dropped)
	assert.Equal(t, []string{"Email"}, res.MissingPrimaryKeys)
	assert.Equal(t, []string{res.Query + " LIMIT 1"}, fake.Queries)
	assert.Nil(t, fake.Job(0))
}

func TestObjects(t *testing.T) {
	fake := newFake(t)
	fake.Global = []map[string]any{
		{"name": "Account", "queryable": true},
		{"name": "AccountHistory", "queryable": true},
	}

	objects, err := newTestExtractor(t, testConfig(t, fake.URL())).Objects(context.Background())
	require.NoError(t, err)

	require.Len(t, objects, 1)
	assert.Equal(t, "Account", objects[0].Name)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		param   string
	}{
		{name: "valid", mutate: func(_ *Config) {}},
		{name: "no query", mutate: func(c *Config) { c.Query = QueryConfig{} }, wantErr: ErrNoQuery, param: "query.object"},
		{
			name:    "object and soql",
			mutate:  func(c *Config) { c.Query.SOQL = "SELECT Id FROM Account" },
			wantErr: ErrAmbiguousQuery,
			param:   "query.soql",
		},
		{
			name:   "offset",
			mutate: func(c *Config) { c.Query = QueryConfig{SOQL: "SELECT Id FROM Account OFFSET 5"} },
			param:  "query.soql",
		},
		{
			name:    "incremental without primary key",
			mutate:  func(c *Config) { c.Loading.Incremental = true },
			wantErr: ErrMissingPKey,
			param:   "loading.primaryKey",
		},
		{
			name:    "incremental fetch without field",
			mutate:  func(c *Config) { c.Loading.IncrementalFetch = true },
			wantErr: ErrMissingIncField,
			param:   "loading.incrementalField",
		},
		{
			name:    "negative overlap",
			mutate:  func(c *Config) { c.Loading.Overlap = -time.Minute },
			wantErr: ErrNegativeOverlap,
			param:   "loading.overlap",
		},
		{
			name:    "missing password",
			mutate:  func(c *Config) { c.Auth.Password = "" },
			wantErr: auth.ErrMissingPassword,
			param:   "auth.password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://localhost")
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.param == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.KindValidation))
			assert.Contains(t, err.Error(), tt.param)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	q := QueryConfig{SOQL: "SELECT Id, (SELECT Id FROM Contacts) FROM Account WHERE Name != null"}

	object, err := q.ObjectName()
	require.NoError(t, err)
	assert.Equal(t, "Account", object)

	q = QueryConfig{Object: " Lead "}
	object, err = q.ObjectName()
	require.NoError(t, err)
	assert.Equal(t, "Lead", object)
}
