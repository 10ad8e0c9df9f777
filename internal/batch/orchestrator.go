package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/aggregate"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/importfile"
	"github.com/ChaneHaDa/stock-batch-server/internal/ingest"
	"github.com/ChaneHaDa/stock-batch-server/internal/metrics"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// Options tunes chunking
type Options struct {
	ImportChunkSize    int
	AggregateChunkSize int
}

// DefaultOptions: 집계 100건, 임포트 10건 단위 커밋
func DefaultOptions() Options {
	return Options{ImportChunkSize: 10, AggregateChunkSize: 100}
}

// Orchestrator runs ingest and aggregation as chunked jobs
// ⭐ SSOT: 잡 실행/상태 전이는 여기서만
type Orchestrator struct {
	store      store.Store
	ingestor   *ingest.Ingestor
	aggregator *aggregate.Aggregator
	claims     Claimer
	pool       *Pool
	registry   *Registry
	opts       Options
	metrics    *metrics.Metrics
	logger     *logger.Logger

	sinksMu sync.RWMutex
	sinks   []EventSink

	// 비동기 범위 제출용 디스패처 수명
	bg         context.Context
	stopBg     context.CancelFunc
	dispatchWG sync.WaitGroup
}

// NewOrchestrator wires the orchestrator; the pool runs range jobs
func NewOrchestrator(
	st store.Store,
	ingestor *ingest.Ingestor,
	aggregator *aggregate.Aggregator,
	claims Claimer,
	pool *Pool,
	opts Options,
	m *metrics.Metrics,
	log *logger.Logger,
) *Orchestrator {
	def := DefaultOptions()
	if opts.ImportChunkSize <= 0 {
		opts.ImportChunkSize = def.ImportChunkSize
	}
	if opts.AggregateChunkSize <= 0 {
		opts.AggregateChunkSize = def.AggregateChunkSize
	}
	if claims == nil {
		claims = NewMemoryClaims()
	}

	bg, stopBg := context.WithCancel(context.Background())
	return &Orchestrator{
		bg:         bg,
		stopBg:     stopBg,
		store:      st,
		ingestor:   ingestor,
		aggregator: aggregator,
		claims:     claims,
		pool:       pool,
		registry:   NewRegistry(DefaultRegistrySize),
		opts:       opts,
		metrics:    m,
		logger:     log.WithField("module", "orchestrator"),
	}
}

// AddSink registers an event receiver
func (o *Orchestrator) AddSink(s EventSink) {
	o.sinksMu.Lock()
	defer o.sinksMu.Unlock()
	o.sinks = append(o.sinks, s)
}

// Job returns the snapshot of job id
func (o *Orchestrator) Job(id string) (Job, error) {
	run, ok := o.registry.Get(id)
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, contracts.ErrNotFound)
	}
	return run.Snapshot(), nil
}

// Jobs lists recent jobs, newest first
func (o *Orchestrator) Jobs() []Job {
	return o.registry.List()
}

// Close fails range months still waiting for a pool slot, then drains the pool
func (o *Orchestrator) Close() {
	o.stopBg()
	o.dispatchWG.Wait()
	if o.pool != nil {
		o.pool.Close()
	}
}

// ============================================================================
// Import
// ============================================================================

// RunImport decodes one import document and ingests it chunk by chunk.
// The fingerprint selector is the SHA-256 of the content, so the same file is never
// ingested twice concurrently.
func (o *Orchestrator) RunImport(ctx context.Context, name string, r io.Reader) (Job, error) {
	data, err := io.ReadAll(io.LimitReader(r, importfile.MaxFileSize+1))
	if err != nil {
		return Job{}, &contracts.ImportError{File: name, Cause: err}
	}

	sum := sha256.Sum256(data)
	run, err := o.begin(ctx, ImportFingerprint(hex.EncodeToString(sum[:])))
	if err != nil {
		return Job{}, err
	}

	return o.execute(ctx, run, func(ctx context.Context, run *JobRun, log *logger.Logger) error {
		entries, format, err := importfile.DecodeBytes(name, data)
		if err != nil {
			return err
		}
		log.WithFields(map[string]interface{}{
			"file":    name,
			"format":  string(format),
			"entries": len(entries),
		}).Info("Import decoded")

		return o.ingestChunks(ctx, run, log, entries)
	})
}

// RunImportFile opens path and runs RunImport on it
func (o *Orchestrator) RunImportFile(ctx context.Context, path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, &contracts.ImportError{File: path, Cause: err}
	}
	defer f.Close()

	return o.RunImport(ctx, filepath.Base(path), f)
}

// RunImportEntries ingests already-decoded entries (e.g. fetched from the data portal).
// selector identifies the source batch, e.g. "datagokr:20240102".
func (o *Orchestrator) RunImportEntries(ctx context.Context, selector string, entries []contracts.ImportEntry) (Job, error) {
	run, err := o.begin(ctx, ImportFingerprint(selector))
	if err != nil {
		return Job{}, err
	}

	return o.execute(ctx, run, func(ctx context.Context, run *JobRun, log *logger.Logger) error {
		return o.ingestChunks(ctx, run, log, entries)
	})
}

func (o *Orchestrator) ingestChunks(ctx context.Context, run *JobRun, log *logger.Logger, entries []contracts.ImportEntry) error {
	for idx, chunk := range chunks(entries, o.opts.ImportChunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		res, err := o.ingestor.IngestChunk(ctx, o.store, chunk)
		rep := ChunkReport{Index: idx, Items: len(chunk), Committed: err == nil, Duration: time.Since(start), Ingest: &res}
		if err := o.chunkDone(run, log, JobTypeImport, rep, err); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Aggregation
// ============================================================================

// RunAggregation aggregates every instrument with prices in (year, month), synchronously.
// Per-instrument AggregationErrors are reported on the job and do not fail it.
func (o *Orchestrator) RunAggregation(ctx context.Context, year, month int) (Job, error) {
	p, err := contracts.NewPeriod(year, month)
	if err != nil {
		return Job{}, err
	}

	run, err := o.begin(ctx, AggregationFingerprint(p))
	if err != nil {
		return Job{}, err
	}
	return o.execute(ctx, run, o.aggregationBody(p))
}

// RunAggregationRange runs one aggregation job per month in [start, end] on the worker pool
// and waits for all of them. Every job runs to completion; the first error in month order
// is returned alongside all jobs.
func (o *Orchestrator) RunAggregationRange(ctx context.Context, start, end time.Time) ([]Job, error) {
	periods, runs, errs, err := o.claimRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	for i, err := range o.dispatch(ctx, ctx, periods, runs) {
		if err != nil && errs[i] == nil {
			errs[i] = err
		}
	}

	jobs := make([]Job, 0, len(runs))
	var first error
	for i, run := range runs {
		if errs[i] != nil {
			if first == nil {
				first = errs[i]
			}
			continue
		}

		job, err := run.Wait(ctx)
		jobs = append(jobs, job)
		if err != nil && first == nil {
			first = err
		}
	}
	return jobs, first
}

// SubmitAggregationRange claims one aggregation job per month and returns right away; a
// background dispatcher feeds them to the pool in month order. Duplicate months are
// reported immediately. Jobs keep running after ctx is cancelled.
func (o *Orchestrator) SubmitAggregationRange(ctx context.Context, start, end time.Time) ([]Job, error) {
	periods, runs, errs, err := o.claimRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(runs))
	var first error
	for i, run := range runs {
		if errs[i] != nil {
			if first == nil {
				first = errs[i]
			}
			continue
		}
		jobs = append(jobs, run.Snapshot())
	}

	jobCtx := context.WithoutCancel(ctx)
	o.dispatchWG.Add(1)
	go func() {
		defer o.dispatchWG.Done()
		// 풀이 가득 차도 호출자는 기다리지 않음; Close 시 남은 월은 FAILED
		o.dispatch(o.bg, jobCtx, periods, runs)
	}()

	return jobs, first
}

// RunInstrumentRecompute re-aggregates one instrument for every month in [from, to], oldest
// first, one transaction per month. Months already written stay committed when a later
// month fails.
func (o *Orchestrator) RunInstrumentRecompute(ctx context.Context, instrumentID int64, from, to contracts.Period) (Job, error) {
	if to.Before(from) {
		return Job{}, fmt.Errorf("recompute range %s..%s: end before start", from, to)
	}
	if _, err := o.store.Instrument(ctx, instrumentID); err != nil {
		return Job{}, fmt.Errorf("instrument %d: %w", instrumentID, err)
	}

	run, err := o.begin(ctx, InstrumentRecomputeFingerprint(instrumentID, from, to))
	if err != nil {
		return Job{}, err
	}

	return o.execute(ctx, run, func(ctx context.Context, run *JobRun, log *logger.Logger) error {
		months := 0
		for p := from; !to.Before(p); p = p.Next() {
			months++
		}

		start := time.Now()
		res, err := o.aggregator.AggregateInstrumentRange(ctx, o.store, instrumentID, from, to)
		rep := ChunkReport{Index: 0, Items: months, Committed: err == nil, Duration: time.Since(start), Aggregate: &res}
		return o.chunkDone(run, log, JobTypeMonthlyAggregation, rep, err)
	})
}

// claimRange claims each month of [start, end] in order.
// runs[i] is nil when errs[i] is set.
func (o *Orchestrator) claimRange(ctx context.Context, start, end time.Time) ([]contracts.Period, []*JobRun, []error, error) {
	if o.pool == nil {
		return nil, nil, nil, fmt.Errorf("range execution requires a worker pool")
	}

	periods, err := contracts.Months(start, end)
	if err != nil {
		return nil, nil, nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"from":   periods[0].String(),
		"to":     periods[len(periods)-1].String(),
		"months": len(periods),
	}).Info("Submitting aggregation range")

	runs := make([]*JobRun, len(periods))
	errs := make([]error, len(periods))
	for i, p := range periods {
		run, err := o.begin(ctx, AggregationFingerprint(p))
		if err != nil {
			errs[i] = fmt.Errorf("period %s: %w", p, err)
			continue
		}
		runs[i] = run
	}
	return periods, runs, errs, nil
}

// dispatch hands claimed runs to the pool in month order. submitCtx bounds the wait for a
// free slot, jobCtx is what the jobs execute with. A run the pool refuses is failed and
// its error returned at the same index.
func (o *Orchestrator) dispatch(submitCtx, jobCtx context.Context, periods []contracts.Period, runs []*JobRun) []error {
	errs := make([]error, len(runs))
	for i, run := range runs {
		if run == nil {
			continue
		}

		body := o.aggregationBody(periods[i])
		err := o.pool.Submit(submitCtx, func() {
			_, _ = o.execute(jobCtx, run, body)
		})
		if err != nil {
			o.abandon(run, err)
			errs[i] = fmt.Errorf("period %s: %w", periods[i], err)
		}
	}
	return errs
}

func (o *Orchestrator) aggregationBody(p contracts.Period) jobBody {
	return func(ctx context.Context, run *JobRun, log *logger.Logger) error {
		ids, err := o.store.InstrumentsWithPrices(ctx, p)
		if err != nil {
			return fmt.Errorf("list instruments: %w", err)
		}

		log.WithFields(map[string]interface{}{
			"period":      p.String(),
			"instruments": len(ids),
		}).Info("Aggregating period")

		for idx, chunk := range chunks(ids, o.opts.AggregateChunkSize) {
			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			res, err := o.aggregator.AggregateChunk(ctx, o.store, chunk, p)
			rep := ChunkReport{Index: idx, Items: len(chunk), Committed: err == nil, Duration: time.Since(start), Aggregate: &res}
			if err := o.chunkDone(run, log, JobTypeMonthlyAggregation, rep, err); err != nil {
				return err
			}
		}
		return nil
	}
}

// ============================================================================
// Job lifecycle
// ============================================================================

type jobBody func(ctx context.Context, run *JobRun, log *logger.Logger) error

// begin claims fp and registers a SUBMITTED run
func (o *Orchestrator) begin(ctx context.Context, fp Fingerprint) (*JobRun, error) {
	run := newJobRun(fp)

	ok, err := o.claims.Claim(ctx, fp.String(), run.ID())
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", fp, err)
	}
	if !ok {
		if o.metrics != nil {
			o.metrics.DuplicateRuns.Inc()
		}
		holder := o.claimHolder(ctx, fp)
		o.logger.WithFields(map[string]interface{}{
			"fingerprint": fp.String(),
			"held_by":     holder,
		}).Warn("Duplicate run rejected")
		if holder != "" {
			return nil, fmt.Errorf("%w: %s (held by %s)", contracts.ErrDuplicateRun, fp, holder)
		}
		return nil, fmt.Errorf("%w: %s", contracts.ErrDuplicateRun, fp)
	}

	o.registry.Add(run)
	o.publish(run, EventState, nil)
	return run, nil
}

// claimHolder names the job holding fp, "" when the claimer cannot tell
func (o *Orchestrator) claimHolder(ctx context.Context, fp Fingerprint) string {
	r, ok := o.claims.(OwnerReader)
	if !ok {
		return ""
	}
	holder, err := r.Owner(ctx, fp.String())
	if err != nil {
		o.logger.WithError(err).WithField("fingerprint", fp.String()).Debug("Claim owner lookup failed")
		return ""
	}
	return holder
}

// execute drives run through RUNNING to a terminal state and releases its claim
func (o *Orchestrator) execute(ctx context.Context, run *JobRun, body jobBody) (Job, error) {
	fp := run.job.Fingerprint
	log := o.logger.WithJob(run.ID(), fp.String())
	defer o.release(run)

	if err := run.transition(StateRunning, nil); err != nil {
		return run.Snapshot(), err
	}
	o.publish(run, EventState, nil)
	if o.metrics != nil {
		o.metrics.JobsRunning.Inc()
		defer o.metrics.JobsRunning.Dec()
	}

	started := time.Now()
	log.Info("Job started")

	bodyErr := body(ctx, run, log)

	final := StateCompleted
	if bodyErr != nil {
		final = StateFailed
	}
	if err := run.transition(final, bodyErr); err != nil {
		return run.Snapshot(), err
	}
	o.publish(run, EventState, nil)
	o.metrics.ObserveJob(string(fp.Type), string(final), time.Since(started))

	job := run.Snapshot()
	fields := map[string]interface{}{
		"state":       string(final),
		"chunks":      len(job.Chunks),
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if bodyErr != nil {
		log.WithError(bodyErr).WithFields(fields).Error("Job failed")
		return job, bodyErr
	}
	if len(job.AggregationFailures) > 0 {
		fields["aggregation_failures"] = len(job.AggregationFailures)
	}
	log.WithFields(fields).Info("Job completed")
	return job, nil
}

// abandon fails a run that never started
func (o *Orchestrator) abandon(run *JobRun, cause error) {
	if err := run.transition(StateFailed, cause); err == nil {
		o.publish(run, EventState, nil)
		o.metrics.ObserveJob(string(run.job.Fingerprint.Type), string(StateFailed), 0)
	}
	o.release(run)
}

func (o *Orchestrator) release(run *JobRun) {
	fp := run.job.Fingerprint.String()
	// 취소된 ctx 로도 해제되어야 함
	if err := o.claims.Release(context.Background(), fp, run.ID()); err != nil {
		o.logger.WithError(err).WithField("fingerprint", fp).Warn("Failed to release claim")
	}
}

// chunkDone records a chunk outcome; a failed chunk stops the job, earlier chunks stay committed
func (o *Orchestrator) chunkDone(run *JobRun, log *logger.Logger, jobType JobType, rep ChunkReport, err error) error {
	result := "committed"
	if err != nil {
		result = "failed"
		rep.Error = err.Error()
	}

	run.addChunk(rep)
	o.publish(run, EventChunk, &rep)
	o.metrics.ObserveChunk(string(jobType), result)

	log.WithChunk(rep.Index, rep.Items).WithField("result", result).Debug("Chunk finished")

	if err != nil {
		return fmt.Errorf("chunk %d: %w", rep.Index, err)
	}
	return nil
}

func (o *Orchestrator) publish(run *JobRun, typ EventType, chunk *ChunkReport) {
	job := run.Snapshot()
	ev := Event{
		Type:        typ,
		JobID:       job.ID,
		Fingerprint: job.Fingerprint.String(),
		State:       job.State,
		Chunk:       chunk,
		Error:       job.Error,
		Time:        time.Now().UTC(),
	}

	o.sinksMu.RLock()
	defer o.sinksMu.RUnlock()
	for _, s := range o.sinks {
		s.Publish(ev)
	}
}

func chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
