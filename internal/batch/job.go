// Package batch drives the ingest and aggregate steps as chunked, fingerprinted jobs.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChaneHaDa/stock-batch-server/internal/aggregate"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/ingest"
)

// JobType is the kind of work a job performs
type JobType string

const (
	JobTypeImport             JobType = "import"
	JobTypeMonthlyAggregation JobType = "monthly_aggregation"
)

// State is a job lifecycle state
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// ⭐ SSOT: 허용되는 상태 전이는 여기서만 정의
var transitions = map[State][]State{
	StateSubmitted: {StateRunning, StateFailed},
	StateRunning:   {StateCompleted, StateFailed},
}

// CanTransitionTo reports whether s → next is allowed
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Fingerprint identifies a logical unit of work, independent of when it was triggered
type Fingerprint struct {
	Type     JobType `json:"type"`
	Selector string  `json:"selector"`
	Period   string  `json:"period,omitempty"`
}

func (f Fingerprint) String() string {
	if f.Period == "" {
		return fmt.Sprintf("%s:%s", f.Type, f.Selector)
	}
	return fmt.Sprintf("%s:%s:%s", f.Type, f.Selector, f.Period)
}

// AggregationFingerprint is the fingerprint of a whole-market monthly aggregation
func AggregationFingerprint(p contracts.Period) Fingerprint {
	return Fingerprint{Type: JobTypeMonthlyAggregation, Selector: "all", Period: p.String()}
}

// InstrumentRecomputeFingerprint is the fingerprint of a single-instrument recompute over [from, to]
func InstrumentRecomputeFingerprint(instrumentID int64, from, to contracts.Period) Fingerprint {
	return Fingerprint{
		Type:     JobTypeMonthlyAggregation,
		Selector: fmt.Sprintf("instrument-%d", instrumentID),
		Period:   from.String() + ".." + to.String(),
	}
}

// ImportFingerprint is the fingerprint of an import keyed by its content selector
func ImportFingerprint(selector string) Fingerprint {
	return Fingerprint{Type: JobTypeImport, Selector: selector}
}

// ChunkReport is the outcome of one chunk
type ChunkReport struct {
	Index     int                    `json:"index"`
	Items     int                    `json:"items"`
	Committed bool                   `json:"committed"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Ingest    *ingest.ChunkResult    `json:"ingest,omitempty"`
	Aggregate *aggregate.ChunkResult `json:"aggregate,omitempty"`
}

// Job is a point-in-time view of a JobRun
type Job struct {
	ID          string        `json:"id"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	State       State         `json:"state"`
	SubmittedAt time.Time     `json:"submitted_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Chunks      []ChunkReport `json:"chunks"`
	Error       string        `json:"error,omitempty"`

	Ingest              ingest.ChunkResult            `json:"ingest"`
	Aggregate           aggregate.ChunkResult         `json:"aggregate"`
	AggregationFailures []*contracts.AggregationError `json:"aggregation_failures,omitempty"`
}

// JobRun is the live, concurrency-safe state of one job
type JobRun struct {
	mu   sync.RWMutex
	job  Job
	err  error
	done chan struct{}
}

func newJobRun(fp Fingerprint) *JobRun {
	return &JobRun{
		job: Job{
			ID:          uuid.New().String(),
			Fingerprint: fp,
			State:       StateSubmitted,
			SubmittedAt: time.Now().UTC(),
			Chunks:      []ChunkReport{},
		},
		done: make(chan struct{}),
	}
}

// ID returns the job id
func (r *JobRun) ID() string {
	return r.job.ID
}

// Snapshot copies the current view
func (r *JobRun) Snapshot() Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j := r.job
	j.Chunks = append([]ChunkReport(nil), r.job.Chunks...)
	j.AggregationFailures = append([]*contracts.AggregationError(nil), r.job.AggregationFailures...)
	j.Ingest.Invalid = append([]*contracts.ValidationError(nil), r.job.Ingest.Invalid...)
	j.Aggregate.Failed = append([]*contracts.AggregationError(nil), r.job.Aggregate.Failed...)
	return j
}

// Err returns the error that failed the job, nil otherwise
func (r *JobRun) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Done is closed when the job reaches a terminal state
func (r *JobRun) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the job finishes or ctx is done
func (r *JobRun) Wait(ctx context.Context) (Job, error) {
	select {
	case <-r.done:
		return r.Snapshot(), r.Err()
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

func (r *JobRun) transition(next State, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.job.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s → %s", contracts.ErrInvalidTransition, r.job.State, next)
	}

	now := time.Now().UTC()
	r.job.State = next
	switch next {
	case StateRunning:
		r.job.StartedAt = &now
	case StateCompleted, StateFailed:
		r.job.FinishedAt = &now
		if cause != nil {
			r.err = cause
			r.job.Error = cause.Error()
		}
		close(r.done)
	}
	return nil
}

func (r *JobRun) addChunk(rep ChunkReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.job.Chunks = append(r.job.Chunks, rep)
	if !rep.Committed {
		return
	}
	if rep.Ingest != nil {
		r.job.Ingest.Add(*rep.Ingest)
	}
	if rep.Aggregate != nil {
		r.job.Aggregate.Add(*rep.Aggregate)
		r.job.AggregationFailures = append(r.job.AggregationFailures, rep.Aggregate.Failed...)
	}
}

func (r *JobRun) state() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.job.State
}
