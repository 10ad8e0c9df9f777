package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// AggregationRunner runs one month of aggregation
type AggregationRunner interface {
	RunAggregation(ctx context.Context, year, month int) (batch.Job, error)
}

// MonthlyAggregationJob aggregates the previous calendar month
// ⭐ SSOT: 월간 집계 스케줄은 이 Job에서만
type MonthlyAggregationJob struct {
	runner   AggregationRunner
	schedule string
	loc      *time.Location
	now      func() time.Time
	logger   *logger.Logger
}

// NewMonthlyAggregationJob creates the job; schedule is a 6-field cron expression
func NewMonthlyAggregationJob(runner AggregationRunner, schedule string, loc *time.Location, log *logger.Logger) *MonthlyAggregationJob {
	if loc == nil {
		loc = time.UTC
	}
	return &MonthlyAggregationJob{
		runner:   runner,
		schedule: schedule,
		loc:      loc,
		now:      time.Now,
		logger:   log.WithField("job", "monthly_aggregation"),
	}
}

// Name returns the job name
func (j *MonthlyAggregationJob) Name() string {
	return "monthly_aggregation"
}

// Schedule returns the cron schedule (default 02:00 on the 1st)
func (j *MonthlyAggregationJob) Schedule() string {
	return j.schedule
}

// Run aggregates the month before now
func (j *MonthlyAggregationJob) Run(ctx context.Context) error {
	p := contracts.PeriodOf(j.now().In(j.loc)).Prev()

	j.logger.WithField("period", p.String()).Info("Starting scheduled monthly aggregation")

	job, err := j.runner.RunAggregation(ctx, p.Year, int(p.Month))
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", p, err)
	}

	j.logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"written":  job.Aggregate.Written,
		"failures": len(job.AggregationFailures),
	}).Info("Monthly aggregation completed")
	return nil
}
