package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// DayFetcher returns one trading day of entries
type DayFetcher interface {
	FetchDay(ctx context.Context, date time.Time) ([]contracts.ImportEntry, error)
}

// EntryImporter ingests decoded entries as one job
type EntryImporter interface {
	RunImportEntries(ctx context.Context, selector string, entries []contracts.ImportEntry) (batch.Job, error)
}

// DailyImportJob fetches today's prices from the data portal and imports them
type DailyImportJob struct {
	fetcher  DayFetcher
	importer EntryImporter
	schedule string
	loc      *time.Location
	now      func() time.Time
	logger   *logger.Logger
}

// NewDailyImportJob creates the job
func NewDailyImportJob(fetcher DayFetcher, importer EntryImporter, schedule string, loc *time.Location, log *logger.Logger) *DailyImportJob {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyImportJob{
		fetcher:  fetcher,
		importer: importer,
		schedule: schedule,
		loc:      loc,
		now:      time.Now,
		logger:   log.WithField("job", "daily_import"),
	}
}

// Name returns the job name
func (j *DailyImportJob) Name() string {
	return "daily_import"
}

// Schedule returns the cron schedule (default 18:00 on weekdays)
func (j *DailyImportJob) Schedule() string {
	return j.schedule
}

// Run fetches and imports today's data; a holiday yields nothing to import
func (j *DailyImportJob) Run(ctx context.Context) error {
	return Import(ctx, j.fetcher, j.importer, contracts.Day(j.now().In(j.loc)), j.logger)
}

// Import fetches date and runs it as an import job keyed "datagokr:<basDt>"
func Import(ctx context.Context, fetcher DayFetcher, importer EntryImporter, date time.Time, log *logger.Logger) error {
	basDt := date.Format(contracts.BasDtLayout)

	entries, err := fetcher.FetchDay(ctx, date)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", basDt, err)
	}
	if len(entries) == 0 {
		log.WithField("date", basDt).Info("No prices published, nothing to import")
		return nil
	}

	job, err := importer.RunImportEntries(ctx, "datagokr:"+basDt, entries)
	if err != nil {
		return fmt.Errorf("import %s: %w", basDt, err)
	}

	log.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"date":     basDt,
		"inserted": job.Ingest.PricesInserted,
		"skipped":  job.Ingest.PricesSkipped,
	}).Info("Daily import completed")
	return nil
}
