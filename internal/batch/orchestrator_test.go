package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/internal/aggregate"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/identity"
	"github.com/ChaneHaDa/stock-batch-server/internal/ingest"
	"github.com/ChaneHaDa/stock-batch-server/internal/metrics"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

var isins = []string{"KR7005930003", "KR7000660001", "KR7035720002"}

type harness struct {
	orch   *Orchestrator
	store  *store.Memory
	claims *MemoryClaims
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) states(jobID string) []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, e := range l.events {
		if e.JobID == jobID && e.Type == EventState {
			out = append(out, e.State)
		}
	}
	return out
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Nop()
	m := metrics.New()
	st := store.NewMemory()
	today := func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }

	ing := ingest.NewIngestor(identity.NewResolver(log), ingest.NewKeyedLocks(), ingest.PolicyAbortChunk, today, m, log)
	agg := aggregate.NewAggregator(aggregate.MethodFirstLastClose, aggregate.MethodFirstLastClose, m, log)
	pool := NewPool(2, 4, log)
	claims := NewMemoryClaims()

	o := NewOrchestrator(st, ing, agg, claims, pool, Options{ImportChunkSize: 2, AggregateChunkSize: 2}, m, log)
	t.Cleanup(o.Close)

	events := &eventLog{}
	o.AddSink(events)
	return &harness{orch: o, store: st, claims: claims, events: events}
}

func datep(s string) *time.Time {
	d, err := contracts.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func price(date string, closePrice int64) contracts.DailyPrice {
	return contracts.DailyPrice{BaseDate: datep(date), Close: decimal.NewNullDecimal(decimal.NewFromInt(closePrice))}
}

func quarterEntries() []contracts.ImportEntry {
	var out []contracts.ImportEntry
	for i, isin := range isins {
		base := int64(100 * (i + 1))
		out = append(out, contracts.ImportEntry{
			Source: fmt.Sprintf("item[%d]", i),
			ISIN:   isin,
			Name:   "종목" + isin[3:9],
			Prices: []contracts.DailyPrice{
				price("2024-01-02", base), price("2024-01-31", base+10),
				price("2024-02-01", base+10), price("2024-02-29", base+20),
				price("2024-03-04", base+20), price("2024-03-29", base+30),
			},
		})
	}
	return out
}

func aggResult(written, failed int) *aggregate.ChunkResult {
	res := &aggregate.ChunkResult{Written: written}
	for i := 0; i < failed; i++ {
		res.Failed = append(res.Failed, &contracts.AggregationError{InstrumentID: int64(i + 1), Reason: "start price is zero"})
	}
	return res
}

func TestRunAggregationRange_OneJobPerMonth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunImportEntries(ctx, "seed", quarterEntries())
	require.NoError(t, err)

	jobs, err := h.orch.RunAggregationRange(ctx, *datep("2024-01-01"), *datep("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	for i, job := range jobs {
		assert.Equal(t, StateCompleted, job.State)
		assert.Equal(t, fmt.Sprintf("2024-%02d", i+1), job.Fingerprint.Period)
		assert.Equal(t, 3, job.Aggregate.Written)
		assert.Len(t, job.Chunks, 2, "3 instruments in chunks of 2")
	}

	from := contracts.Period{Year: 2024, Month: time.January}
	to := contracts.Period{Year: 2024, Month: time.March}
	all, err := h.store.Aggregates(ctx, 0, from, to)
	require.NoError(t, err)
	assert.Len(t, all, 9, "one aggregate per instrument per month")

	// 재실행: 완료된 fingerprint 는 다시 실행 가능, 결과는 upsert
	jobs, err = h.orch.RunAggregationRange(ctx, *datep("2024-01-15"), *datep("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, 3, jobs[0].Aggregate.Replaced)

	all, _ = h.store.Aggregates(ctx, 0, from, to)
	assert.Len(t, all, 9)
}

func TestRunAggregation_States(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunImportEntries(ctx, "seed", quarterEntries())
	require.NoError(t, err)

	job, err := h.orch.RunAggregation(ctx, 2024, 2)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, []State{StateSubmitted, StateRunning, StateCompleted}, h.events.states(job.ID))

	got, err := h.orch.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	agg, err := h.store.Aggregate(ctx, 1, contracts.Period{Year: 2024, Month: time.February})
	require.NoError(t, err)
	assert.True(t, agg.RateOfReturn.Equal(decimal.RequireFromString("0.090909090909")))
}

func TestRunAggregation_InvalidMonth(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.RunAggregation(context.Background(), 2024, 13)
	assert.Error(t, err)
	assert.Empty(t, h.orch.Jobs())
}

func TestRunAggregation_ReportsUndefinedReturns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	entries := quarterEntries()
	entries[1].Prices[0] = price("2024-01-02", 0)
	_, err := h.orch.RunImportEntries(ctx, "seed", entries)
	require.NoError(t, err)

	job, err := h.orch.RunAggregation(ctx, 2024, 1)
	require.NoError(t, err, "undefined returns do not fail the job")
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 2, job.Aggregate.Written)
	require.Len(t, job.AggregationFailures, 1)
	assert.Equal(t, int64(2), job.AggregationFailures[0].InstrumentID)
}

func TestRunAggregation_DuplicateInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := contracts.Period{Year: 2024, Month: time.February}
	ok, err := h.claims.Claim(ctx, AggregationFingerprint(p).String(), "another-node")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orch.RunAggregation(ctx, 2024, 2)
	assert.ErrorIs(t, err, contracts.ErrDuplicateRun)
	assert.Contains(t, err.Error(), "held by another-node")

	jobs, err := h.orch.RunAggregationRange(ctx, *datep("2024-01-01"), *datep("2024-03-31"))
	assert.ErrorIs(t, err, contracts.ErrDuplicateRun)
	assert.Len(t, jobs, 2, "the other months still run")
	for _, job := range jobs {
		assert.Equal(t, StateCompleted, job.State)
	}
}

func TestSubmitAggregationRange_Async(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := h.orch.RunImportEntries(ctx, "seed", quarterEntries())
	require.NoError(t, err)

	jobs, err := h.orch.SubmitAggregationRange(ctx, *datep("2024-01-01"), *datep("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	cancel()

	for _, j := range jobs {
		id := j.ID
		require.Eventually(t, func() bool {
			job, err := h.orch.Job(id)
			return err == nil && job.State.Terminal()
		}, 2*time.Second, 5*time.Millisecond)

		job, _ := h.orch.Job(id)
		assert.Equal(t, StateCompleted, job.State, "caller cancellation does not stop submitted jobs")
	}
}

// gatedStore holds aggregation jobs in InstrumentsWithPrices until open is closed
type gatedStore struct {
	*store.Memory
	open chan struct{}
}

func (g *gatedStore) InstrumentsWithPrices(ctx context.Context, p contracts.Period) ([]int64, error) {
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Memory.InstrumentsWithPrices(ctx, p)
}

func newGatedOrchestrator(t *testing.T, gate *gatedStore) *Orchestrator {
	t.Helper()
	log := logger.Nop()
	m := metrics.New()
	today := func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }

	ing := ingest.NewIngestor(identity.NewResolver(log), ingest.NewKeyedLocks(), ingest.PolicyAbortChunk, today, m, log)
	agg := aggregate.NewAggregator(aggregate.MethodFirstLastClose, aggregate.MethodFirstLastClose, m, log)
	return NewOrchestrator(gate, ing, agg, NewMemoryClaims(), NewPool(1, 0, log), DefaultOptions(), m, log)
}

func TestSubmitAggregationRange_DoesNotWaitForPoolSlots(t *testing.T) {
	gate := &gatedStore{Memory: store.NewMemory(), open: make(chan struct{})}
	o := newGatedOrchestrator(t, gate)
	t.Cleanup(o.Close)
	ctx := context.Background()

	returned := make(chan []Job, 1)
	go func() {
		jobs, err := o.SubmitAggregationRange(ctx, *datep("2024-01-01"), *datep("2024-12-31"))
		assert.NoError(t, err)
		returned <- jobs
	}()

	var jobs []Job
	select {
	case jobs = <-returned:
	case <-time.After(time.Second):
		close(gate.open)
		t.Fatal("12 months on 1 worker with no queue must not block the caller")
	}
	require.Len(t, jobs, 12)

	// 대기 중에도 중복 제출은 즉시 거부
	_, err := o.SubmitAggregationRange(ctx, *datep("2024-06-01"), *datep("2024-06-30"))
	assert.ErrorIs(t, err, contracts.ErrDuplicateRun)

	close(gate.open)
	for _, j := range jobs {
		id := j.ID
		require.Eventually(t, func() bool {
			job, err := o.Job(id)
			return err == nil && job.State == StateCompleted
		}, 2*time.Second, 5*time.Millisecond)
	}
}

func TestSubmitAggregationRange_CloseFailsUndispatchedMonths(t *testing.T) {
	gate := &gatedStore{Memory: store.NewMemory(), open: make(chan struct{})}
	o := newGatedOrchestrator(t, gate)
	ctx := context.Background()

	jobs, err := o.SubmitAggregationRange(ctx, *datep("2024-01-01"), *datep("2024-04-30"))
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	// 첫 달이 워커를 점유할 때까지 대기
	require.Eventually(t, func() bool {
		job, err := o.Job(jobs[0].ID)
		return err == nil && job.State == StateRunning
	}, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.open)
	<-closed

	failed := 0
	for _, j := range jobs {
		job, err := o.Job(j.ID)
		require.NoError(t, err)
		assert.True(t, job.State.Terminal())
		if job.State == StateFailed {
			failed++
		}
	}
	assert.Positive(t, failed, "months never handed to the pool end FAILED")

	// claim 이 해제되어 재제출 가능
	ok, err := o.claims.Claim(ctx, AggregationFingerprint(contracts.Period{Year: 2024, Month: time.April}).String(), "next-run")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunImportEntries_FailedChunkKeepsCommittedChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	entries := quarterEntries()
	entries[2].Name = ""

	job, err := h.orch.RunImportEntries(ctx, "partial", entries)
	require.Error(t, err)

	var ve *contracts.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, isins[2], ve.ISIN)

	assert.Equal(t, StateFailed, job.State)
	require.Len(t, job.Chunks, 2)
	assert.True(t, job.Chunks[0].Committed)
	assert.False(t, job.Chunks[1].Committed)
	assert.Equal(t, 2, job.Ingest.InstrumentsCreated)

	_, err = h.store.InstrumentByISIN(ctx, isins[0])
	assert.NoError(t, err, "first chunk stays committed")
	_, err = h.store.InstrumentByISIN(ctx, isins[2])
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	// claim 해제 확인: 같은 fingerprint 재실행은 중복으로 거부되지 않음
	_, err = h.orch.RunImportEntries(ctx, "partial", entries)
	assert.False(t, errors.Is(err, contracts.ErrDuplicateRun))
}

func TestRunImport_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.RunImportFile(ctx, "../importfile/testdata/bundle.json")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, first.State)
	assert.Equal(t, 2, first.Ingest.InstrumentsCreated)
	assert.Equal(t, 3, first.Ingest.PricesInserted)
	assert.Len(t, first.Fingerprint.Selector, 64, "sha256 of the content")

	second, err := h.orch.RunImportFile(ctx, "../importfile/testdata/bundle.json")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, second.Ingest.PricesInserted)
	assert.Equal(t, 3, second.Ingest.PricesSkipped)
}

func TestRunImport_MalformedFile(t *testing.T) {
	h := newHarness(t)

	job, err := h.orch.RunImport(context.Background(), "broken.json", strings.NewReader(`{"stocks": [`))
	require.Error(t, err)

	var ie *contracts.ImportError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "broken.json", ie.File)
	assert.Equal(t, StateFailed, job.State)
	assert.Empty(t, job.Chunks)
}

func TestRunImport_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := h.orch.RunImportEntries(ctx, "cancelled", quarterEntries())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, job.State)
}

func TestRunInstrumentRecompute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.RunImportEntries(ctx, "seed", quarterEntries())
	require.NoError(t, err)

	from := contracts.Period{Year: 2024, Month: time.January}
	to := contracts.Period{Year: 2024, Month: time.March}
	job, err := h.orch.RunInstrumentRecompute(ctx, 2, from, to)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, "monthly_aggregation:instrument-2:2024-01..2024-03", job.Fingerprint.String())
	assert.Equal(t, 3, job.Aggregate.Written)
	require.Len(t, job.Chunks, 1)
	assert.Equal(t, 3, job.Chunks[0].Items)

	aggs, err := h.store.Aggregates(ctx, 2, from, to)
	require.NoError(t, err)
	assert.Len(t, aggs, 3)

	all, err := h.store.Aggregates(ctx, 0, from, to)
	require.NoError(t, err)
	assert.Len(t, all, 3, "other instruments untouched")
}

func TestRunInstrumentRecompute_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	from := contracts.Period{Year: 2024, Month: time.March}
	to := contracts.Period{Year: 2024, Month: time.January}
	_, err := h.orch.RunInstrumentRecompute(ctx, 1, from, to)
	assert.Error(t, err)

	_, err = h.orch.RunInstrumentRecompute(ctx, 99, to, from)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	assert.Empty(t, h.orch.Jobs())
}

func TestMemoryClaims_Owner(t *testing.T) {
	c := NewMemoryClaims()
	ctx := context.Background()

	owner, err := c.Owner(ctx, "fp")
	require.NoError(t, err)
	assert.Empty(t, owner)

	ok, _ := c.Claim(ctx, "fp", "job-1")
	require.True(t, ok)
	owner, _ = c.Owner(ctx, "fp")
	assert.Equal(t, "job-1", owner)
}

func TestJob_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Job("missing")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}
