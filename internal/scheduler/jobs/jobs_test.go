package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

type fakeRunner struct {
	year, month int
	err         error
}

func (f *fakeRunner) RunAggregation(_ context.Context, year, month int) (batch.Job, error) {
	f.year, f.month = year, month
	return batch.Job{ID: "job-1"}, f.err
}

func TestMonthlyAggregationJob_PreviousMonth(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	tests := []struct {
		name      string
		now       time.Time
		wantYear  int
		wantMonth int
	}{
		{"mid year", time.Date(2024, 7, 1, 2, 0, 0, 0, seoul), 2024, 6},
		{"january rolls back the year", time.Date(2024, 1, 1, 2, 0, 0, 0, seoul), 2023, 12},
		// UTC 기준 전날이라도 서울 기준 월을 사용
		{"timezone boundary", time.Date(2024, 2, 29, 17, 30, 0, 0, time.UTC), 2024, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			j := NewMonthlyAggregationJob(r, "0 0 2 1 * *", seoul, logger.Nop())
			j.now = func() time.Time { return tt.now }

			require.NoError(t, j.Run(context.Background()))
			assert.Equal(t, tt.wantYear, r.year)
			assert.Equal(t, tt.wantMonth, r.month)
		})
	}
}

func TestMonthlyAggregationJob_PropagatesError(t *testing.T) {
	r := &fakeRunner{err: contracts.ErrDuplicateRun}
	j := NewMonthlyAggregationJob(r, "@monthly", nil, logger.Nop())

	err := j.Run(context.Background())
	assert.ErrorIs(t, err, contracts.ErrDuplicateRun)
	assert.Equal(t, "monthly_aggregation", j.Name())
	assert.Equal(t, "@monthly", j.Schedule())
}

type fakeFetcher struct {
	entries []contracts.ImportEntry
	err     error
	date    time.Time
}

func (f *fakeFetcher) FetchDay(_ context.Context, date time.Time) ([]contracts.ImportEntry, error) {
	f.date = date
	return f.entries, f.err
}

type fakeImporter struct {
	selector string
	count    int
}

func (f *fakeImporter) RunImportEntries(_ context.Context, selector string, entries []contracts.ImportEntry) (batch.Job, error) {
	f.selector = selector
	f.count = len(entries)
	return batch.Job{ID: "job-2"}, nil
}

func TestDailyImportJob(t *testing.T) {
	fetcher := &fakeFetcher{entries: []contracts.ImportEntry{{ISIN: "KR7005930003"}, {ISIN: "KR7000660001"}}}
	importer := &fakeImporter{}

	j := NewDailyImportJob(fetcher, importer, "0 0 18 * * MON-FRI", time.UTC, logger.Nop())
	j.now = func() time.Time { return time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC) }

	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, "datagokr:20240102", importer.selector)
	assert.Equal(t, 2, importer.count)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), fetcher.date)
}

func TestDailyImportJob_Holiday(t *testing.T) {
	importer := &fakeImporter{}
	j := NewDailyImportJob(&fakeFetcher{}, importer, "@daily", time.UTC, logger.Nop())

	require.NoError(t, j.Run(context.Background()))
	assert.Empty(t, importer.selector, "nothing to import")
}

func TestDailyImportJob_FetchError(t *testing.T) {
	j := NewDailyImportJob(&fakeFetcher{err: errors.New("timeout")}, &fakeImporter{}, "@daily", time.UTC, logger.Nop())
	assert.Error(t, j.Run(context.Background()))
}
