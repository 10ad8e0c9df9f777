package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateSubmitted, StateRunning, true},
		{StateSubmitted, StateFailed, true},
		{StateSubmitted, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateSubmitted, false},
		{StateCompleted, StateRunning, false},
		{StateFailed, StateRunning, false},
		{StateCompleted, StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestJobRun_Lifecycle(t *testing.T) {
	run := newJobRun(AggregationFingerprint(contracts.Period{Year: 2024, Month: time.March}))
	assert.Equal(t, StateSubmitted, run.Snapshot().State)
	assert.NotEmpty(t, run.ID())

	err := run.transition(StateCompleted, nil)
	assert.True(t, errors.Is(err, contracts.ErrInvalidTransition))

	require.NoError(t, run.transition(StateRunning, nil))
	assert.NotNil(t, run.Snapshot().StartedAt)

	cause := errors.New("boom")
	require.NoError(t, run.transition(StateFailed, cause))

	job, err := run.Wait(context.Background())
	assert.Equal(t, cause, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, "boom", job.Error)
	assert.NotNil(t, job.FinishedAt)

	assert.Error(t, run.transition(StateRunning, nil), "terminal states are final")
}

func TestJobRun_WaitHonorsContext(t *testing.T) {
	run := newJobRun(ImportFingerprint("abc"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := run.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJobRun_AddChunkTotalsCommittedOnly(t *testing.T) {
	run := newJobRun(ImportFingerprint("abc"))

	run.addChunk(ChunkReport{Index: 0, Committed: true, Aggregate: aggResult(3, 1)})
	run.addChunk(ChunkReport{Index: 1, Committed: false, Aggregate: aggResult(5, 0)})

	job := run.Snapshot()
	assert.Len(t, job.Chunks, 2)
	assert.Equal(t, 3, job.Aggregate.Written)
	assert.Len(t, job.AggregationFailures, 1)
}

func TestFingerprint_String(t *testing.T) {
	p := contracts.Period{Year: 2024, Month: time.January}
	assert.Equal(t, "monthly_aggregation:all:2024-01", AggregationFingerprint(p).String())
	assert.Equal(t, "import:deadbeef", ImportFingerprint("deadbeef").String())
}

func TestMemoryClaims(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClaims()

	ok, err := c.Claim(ctx, "fp", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.Claim(ctx, "fp", "b")
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "fp", "b"))
	ok, _ = c.Claim(ctx, "fp", "b")
	assert.False(t, ok, "only the owner releases")

	require.NoError(t, c.Release(ctx, "fp", "a"))
	ok, _ = c.Claim(ctx, "fp", "b")
	assert.True(t, ok)
}

func TestRegistry_EvictsOldestFinished(t *testing.T) {
	r := NewRegistry(2)

	running := newJobRun(ImportFingerprint("1"))
	require.NoError(t, running.transition(StateRunning, nil))
	r.Add(running)

	done := newJobRun(ImportFingerprint("2"))
	require.NoError(t, done.transition(StateFailed, nil))
	r.Add(done)

	latest := newJobRun(ImportFingerprint("3"))
	r.Add(latest)

	_, ok := r.Get(running.ID())
	assert.True(t, ok, "running jobs are never evicted")
	_, ok = r.Get(done.ID())
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, latest.ID(), list[0].ID)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, chunks([]int{}, 2))
	assert.Equal(t, [][]int{{1, 2}}, chunks([]int{1, 2}, 0))
}
