package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
)

func TestWeekdays(t *testing.T) {
	from, _ := contracts.ParseDate("2024-06-07") // Fri
	to, _ := contracts.ParseDate("2024-06-11")   // Tue

	days, err := weekdays(from, to)
	require.NoError(t, err)

	var got []string
	for _, d := range days {
		got = append(got, d.Format(contracts.DateLayout))
	}
	assert.Equal(t, []string{"2024-06-07", "2024-06-10", "2024-06-11"}, got)

	sat, _ := contracts.ParseDate("2024-06-08")
	sun, _ := contracts.ParseDate("2024-06-09")
	_, err = weekdays(sat, sun)
	assert.Error(t, err)

	_, err = weekdays(to, from)
	assert.Error(t, err)
}

func TestFetchDays_DefaultsToToday(t *testing.T) {
	fetchDate, fetchFrom, fetchTo = "", "", ""
	today := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	days, err := fetchDays(today)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{today}, days)

	fetchDate = "2024-06-04"
	t.Cleanup(func() { fetchDate = "" })
	days, err = fetchDays(today)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-04", days[0].Format(contracts.DateLayout))
}

func TestMaskPassword(t *testing.T) {
	masked := maskPassword("postgres://batch:secret@db:5432/stocks")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "batch:")
	assert.Equal(t, "postgres://db:5432/stocks", maskPassword("postgres://db:5432/stocks"))
}

func TestPrintJob(t *testing.T) {
	started := time.Date(2024, 7, 1, 2, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	job := batch.Job{
		ID:          "job-1",
		Fingerprint: batch.Fingerprint{Type: batch.JobTypeMonthlyAggregation, Selector: "all", Period: "2024-06"},
		State:       batch.StateCompleted,
		StartedAt:   &started,
		FinishedAt:  &finished,
		AggregationFailures: []*contracts.AggregationError{
			{InstrumentID: 7, Reason: "start price is zero"},
		},
	}
	job.Aggregate.Written = 2
	job.Aggregate.Instruments = 3

	var buf bytes.Buffer
	PrintJob(&buf, job)

	out := buf.String()
	assert.Contains(t, out, "monthly_aggregation:all:2024-06")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "2 written (0 replaced) of 3 instruments")
	assert.Contains(t, out, "instrument 7: start price is zero")
}

func TestWireApp_RejectsMethodBeforeConnecting(t *testing.T) {
	cfg := &config.Config{
		Env:      "development",
		LogLevel: "error",
		Database: config.DatabaseConfig{URL: "postgres://batch@127.0.0.1:1/stocks"},
		Batch:    config.BatchConfig{Store: "postgres", AggMethodEquity: "median"},
	}

	a, err := wireApp(cfg)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "unknown aggregation method", "no database dial was attempted")
}

func TestWireApp_MemoryStore(t *testing.T) {
	cfg := &config.Config{
		Env:      "development",
		LogLevel: "error",
		Batch:    config.BatchConfig{Store: "memory", Workers: 1, ValidationPolicy: "abort_chunk"},
	}

	a, err := wireApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, a.orch)
	assert.False(t, a.redis.Enabled())
	assert.NotPanics(t, a.Close)
}
