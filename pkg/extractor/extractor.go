// Package extractor runs one extraction end to end: it builds the query,
// drives the bulk job, writes slices, resolves the schema and persists the
// watermark.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/auth"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/manifest"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/ethpandaops/sfbulk/pkg/output"
	"github.com/ethpandaops/sfbulk/pkg/publish"
	"github.com/ethpandaops/sfbulk/pkg/salesforce"
	"github.com/ethpandaops/sfbulk/pkg/schema"
	"github.com/ethpandaops/sfbulk/pkg/soql"
	"github.com/ethpandaops/sfbulk/pkg/state"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrBatchesFailed is returned when failOnBatchError is set and a batch failed
var ErrBatchesFailed = errors.New("batches failed")

// Result describes a finished run
type Result struct {
	RunID         string             `json:"run_id"`
	Object        string             `json:"object"`
	Table         string             `json:"table"`
	Query         string             `json:"query"`
	Watermark     string             `json:"watermark"`
	Started       time.Time          `json:"started"`
	Finished      time.Time          `json:"finished"`
	JobID         string             `json:"job_id,omitempty"`
	Batches       int                `json:"batches"`
	FailedBatches []salesforce.Batch `json:"failed_batches"`
	Slices        []*output.Slice    `json:"slices"`
	Rows          int64              `json:"rows"`
	Columns       []string           `json:"columns"`
	SchemaSource  schema.Source      `json:"schema_source,omitempty"`
	Manifest      string             `json:"manifest,omitempty"`
	Published     []string           `json:"published,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Extractor runs extractions for one configuration
type Extractor struct {
	log        logrus.FieldLogger
	cfg        *Config
	object     string
	table      string
	httpClient *http.Client
	sessions   salesforce.SessionSource
	store      state.Store
	reconciler *schema.Reconciler
	manifests  *manifest.Builder
	publisher  *publish.Publisher
	now        func() time.Time
}

// New validates cfg and wires an extractor
func New(log logrus.FieldLogger, cfg *Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	object, err := cfg.Query.ObjectName()
	if err != nil {
		return nil, err
	}

	httpClient, err := salesforce.NewHTTPClient(&cfg.Salesforce)
	if err != nil {
		return nil, err
	}

	provider, err := auth.NewProvider(log, &cfg.Auth, cfg.Salesforce.APIVersion, httpClient)
	if err != nil {
		return nil, err
	}

	table := cfg.Output.TableName(object)

	store, err := state.New(log, &cfg.State, cfg.State.KeyFor(table))
	if err != nil {
		return nil, err
	}

	e := &Extractor{
		log:        log.WithField("component", "extractor"),
		cfg:        cfg,
		object:     object,
		table:      table,
		httpClient: httpClient,
		sessions:   provider,
		store:      store,
		reconciler: schema.NewReconciler(log),
		manifests:  manifest.NewBuilder(&cfg.Manifest),
		now:        time.Now,
	}

	if cfg.Publish.Enabled {
		e.publisher = publish.New(log, &cfg.Publish)
	}

	return e, nil
}

// Object returns the object this extractor exports
func (e *Extractor) Object() string {
	return e.object
}

// Table returns the output table name
func (e *Extractor) Table() string {
	return e.table
}

// Close releases the state backend
func (e *Extractor) Close() error {
	return e.store.Close()
}

// Run performs one extraction. The returned Result is never nil and
// carries whatever was learned before a failure.
func (e *Extractor) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:   uuid.New().String(),
		Object:  e.object,
		Table:   e.table,
		Started: e.now().UTC(),
	}

	log := e.log.WithFields(logrus.Fields{
		"run_id": res.RunID,
		"object": e.object,
	})

	observability.RecordRunStart(e.object)
	log.Info("Starting extraction")

	err := e.run(ctx, log, res)

	res.Finished = e.now().UTC()
	duration := res.Finished.Sub(res.Started).Seconds()

	if err != nil {
		res.Error = err.Error()

		observability.RecordRunComplete(e.object, "failure", duration)
		observability.RecordError("extractor", string(failure.KindOf(err)))
		log.WithError(err).Error("Extraction failed")

		return res, err
	}

	observability.RecordRunComplete(e.object, "success", duration)
	observability.RecordSuccessfulRun(e.object, float64(res.Finished.Unix()))

	log.WithFields(logrus.Fields{
		"rows":     res.Rows,
		"slices":   len(res.Slices),
		"columns":  len(res.Columns),
		"duration": res.Finished.Sub(res.Started).String(),
	}).Info("Extraction finished")

	return res, nil
}

func (e *Extractor) run(ctx context.Context, log logrus.FieldLogger, res *Result) error {
	lock, err := e.store.Lock(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	watermark, err := e.store.Read(ctx)
	if err != nil {
		return err
	}

	res.Watermark = watermark.Bound(log, e.cfg.Loading.Overlap)

	client, err := e.connect(ctx, log)
	if err != nil {
		return err
	}

	query, err := e.buildQuery(ctx, log, client, res.Watermark)
	if err != nil {
		return err
	}

	res.Query = query.Text()

	if missing := query.MissingPrimaryKeys(e.cfg.Loading.PrimaryKey); len(missing) > 0 {
		return failure.Validation("loading.primaryKey", fmt.Sprintf(
			"primary keys %v are not in the query, add them to the query or check that they exist on %s", missing, query.Object()))
	}

	if e.cfg.Query.ValidateQuery {
		if _, err := client.TestQuery(ctx, query.WithRowLimit(1).Text(), e.cfg.Query.IncludeDeleted); err != nil {
			return err
		}
	}

	writer := output.NewSliceWriter(log, e.cfg.Output.TableDir(e.table), e.object, e.cfg.Output.Headerless)
	if err := writer.Prepare(); err != nil {
		return err
	}

	if err := manifest.Remove(writer.Dir()); err != nil {
		return err
	}

	resolution, err := e.extract(ctx, log, client, query, writer, res, watermark)
	if err != nil {
		if derr := writer.Discard(res.Slices); derr != nil {
			log.WithError(derr).Warn("Failed to remove partial output")
		}

		res.Slices = nil

		return err
	}

	res.Columns = resolution.Columns
	res.SchemaSource = resolution.Source

	if resolution.Empty() {
		log.Warn("Run produced no schema, removing the output directory")

		if err := writer.Discard(res.Slices); err != nil {
			return err
		}

		res.Slices = nil

		return nil
	}

	if err := e.finish(ctx, log, client, writer, res, resolution); err != nil {
		return err
	}

	return e.store.Write(ctx, &state.Watermark{
		LastRun:           state.Stamp(res.Started),
		PrevOutputColumns: resolution.Columns,
	})
}

// connect logs in and returns a client that re-authenticates on expiry
func (e *Extractor) connect(ctx context.Context, log logrus.FieldLogger) (*salesforce.Client, error) {
	session, err := e.sessions.Login(ctx)
	if err != nil {
		return nil, err
	}

	return salesforce.NewClient(log, &e.cfg.Salesforce, e.httpClient, session, e.sessions), nil
}

func (e *Extractor) buildQuery(ctx context.Context, log logrus.FieldLogger, client *salesforce.Client, bound string) (*soql.Query, error) {
	var (
		query *soql.Query
		err   error
	)

	if e.cfg.Query.SOQL != "" {
		query, err = soql.BuildFromText(ctx, e.cfg.Query.SOQL, client)
	} else {
		query, err = soql.BuildFromObject(ctx, e.cfg.Query.Object, client, e.cfg.Query.Fields)
	}

	if err != nil {
		return nil, err
	}

	if dropped := query.Dropped(); len(dropped) > 0 {
		log.WithField("fields", dropped).Warn("Requested fields are not exportable on the object and were dropped")
	}

	if e.cfg.Loading.fetchIncrementally() {
		if err := query.InjectIncremental(e.cfg.Loading.IncrementalField, bound); err != nil {
			return nil, err
		}
	}

	if !query.InjectDeletionExclusion(e.cfg.Query.IncludeDeleted) {
		log.WithField("field", soql.IsDeletedField).Warn("Object has no deletion flag, deleted records cannot be excluded")
	}

	log.WithField("query", query.Text()).Debug("Built query")

	return query, nil
}

// extract runs the job, drains it into slices and resolves the schema
func (e *Extractor) extract(
	ctx context.Context,
	log logrus.FieldLogger,
	client *salesforce.Client,
	query *soql.Query,
	writer *output.SliceWriter,
	res *Result,
	watermark *state.Watermark,
) (*schema.Resolution, error) {
	orchestrator := salesforce.NewOrchestrator(log, client, &e.cfg.Bulk)

	job, err := orchestrator.Run(ctx, salesforce.JobRequest{
		Object:         query.Object(),
		Query:          query.Text(),
		IncludeDeleted: e.cfg.Query.IncludeDeleted,
	})
	if job != nil {
		res.JobID = job.Job.ID
		res.Batches = len(job.Batches)
		res.FailedBatches = job.Failed()
	}

	if err != nil {
		return nil, err
	}

	slices, drainErr := e.drain(ctx, log, client, job, writer)
	res.Slices = slices

	if err := orchestrator.Close(context.WithoutCancel(ctx), job.Job); err != nil {
		log.WithError(err).Warn("Failed to close job")
	}

	if drainErr != nil {
		return nil, drainErr
	}

	for _, s := range slices {
		res.Rows += s.Rows
	}

	if n := len(res.FailedBatches); n > 0 {
		log.WithField("failed_batches", n).Warn("Some batches failed, their rows are missing from this run")

		if e.cfg.Bulk.FailOnBatchError {
			return nil, &failure.Error{
				Kind:    failure.KindPartial,
				Op:      "bulk.job",
				Message: fmt.Sprintf("%d of %d batches of job %s", n, res.Batches, res.JobID),
				Err:     ErrBatchesFailed,
			}
		}
	}

	columns := make([][]string, len(slices))
	for i, s := range slices {
		columns[i] = s.Columns
	}

	return e.reconciler.Reconcile(schema.Input{
		Slices:       columns,
		Previous:     watermark.PrevOutputColumns,
		ObjectFields: query.Fields(),
		FromObject:   query.FromObject(),
	})
}

// finish writes the manifest and publishes the table
func (e *Extractor) finish(
	ctx context.Context,
	log logrus.FieldLogger,
	client *salesforce.Client,
	writer *output.SliceWriter,
	res *Result,
	resolution *schema.Resolution,
) error {
	if e.cfg.Manifest.Enabled {
		fields, err := client.ExportableSchema(ctx, e.object)
		if err != nil {
			return err
		}

		remoteTypes := make(map[string]string, len(fields))
		for _, f := range fields {
			remoteTypes[f.Name] = f.Type
		}

		m, err := e.manifests.Build(&manifest.Table{
			Name:        e.table,
			Object:      e.object,
			RunID:       res.RunID,
			Started:     res.Started,
			Incremental: e.cfg.Loading.Incremental,
			PrimaryKey:  e.cfg.Loading.PrimaryKey,
			Schema:      resolution,
			ColumnTypes: schema.ColumnTypes(log, resolution.Columns, remoteTypes),
		})
		if err != nil {
			return err
		}

		res.Manifest, err = manifest.Write(writer.Dir(), m)
		if err != nil {
			return err
		}
	}

	if e.publisher == nil {
		return nil
	}

	paths := make([]string, 0, len(res.Slices))
	for _, s := range res.Slices {
		paths = append(paths, s.Path)
	}

	published, err := e.publisher.Publish(ctx, e.table, paths, res.Manifest)
	res.Published = published

	return err
}
