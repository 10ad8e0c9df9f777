package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ChaneHaDa/stock-batch-server/internal/api"
	"github.com/ChaneHaDa/stock-batch-server/internal/api/handlers"
	"github.com/ChaneHaDa/stock-batch-server/internal/export"
	"github.com/ChaneHaDa/stock-batch-server/internal/scheduler"
	"github.com/ChaneHaDa/stock-batch-server/internal/scheduler/jobs"
	"github.com/ChaneHaDa/stock-batch-server/pkg/redis"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 + 스케줄러 시작",
	Long: `REST API 서버, 배치 스케줄러, 메트릭 서버를 함께 시작합니다.

Endpoints:
  GET  /health
  POST /api/v1/batch/monthly?year=&month=
  POST /api/v1/batch/monthly-range?startDate=&endDate=[&async=true]
  POST /api/v1/batch/import                      (multipart "file")
  GET  /api/v1/jobs, /api/v1/jobs/{id}
  GET  /api/v1/instruments/{id}/name-history
  GET  /api/v1/instruments/{id}/current-name?asOf=
  GET  /api/v1/instruments/{id}/aggregates?from=&to=
  GET  /api/v1/export/aggregates?from=&to=
  GET  /api/v1/scheduler/jobs
  GET  /ws/jobs                                   (job events)

Scheduled jobs:
  monthly_aggregation  - BATCH_MONTHLY_SCHEDULE (default: 1일 02:00, 전월 집계)
  daily_import         - BATCH_DAILY_IMPORT_SCHEDULE (default: 평일 18:00, 공공데이터포털)

Example:
  go run ./cmd/stockbatch serve
  go run ./cmd/stockbatch serve --port 8080 --no-scheduler`,
	RunE: runServe,
}

var (
	servePort   string
	noScheduler bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Flags
	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (default: PORT)")
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "스케줄러 비활성화")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != "" {
		a.cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Scheduler
	loc := a.cfg.Batch.Location()
	sched := scheduler.New(a.log, loc)
	if !noScheduler {
		if err := sched.AddJob(jobs.NewMonthlyAggregationJob(a.orch, a.cfg.Batch.MonthlySchedule, loc, a.log)); err != nil {
			return fmt.Errorf("register monthly aggregation: %w", err)
		}
		if a.cfg.DataGoKr.ServiceKey != "" {
			if err := sched.AddJob(jobs.NewDailyImportJob(a.datagokr, a.orch, a.cfg.Batch.DailyImportSchedule, loc, a.log)); err != nil {
				return fmt.Errorf("register daily import: %w", err)
			}
		} else {
			a.log.Warn("DATAGOKR_SERVICE_KEY not set, daily import disabled")
		}
	}

	// Router
	hub := api.NewEventHub(a.log)
	a.orch.AddSink(hub)

	cache := redis.NewCache(a.redis, keyPrefix)
	a.orch.AddSink(api.NewCacheInvalidator(cache, a.log))

	router := api.NewRouter(api.RouterDeps{
		Batch:            handlers.NewBatchHandler(a.orch, a.log),
		Instruments:      handlers.NewInstrumentHandler(a.store, a.resolver, cache, a.today, a.log),
		Export:           handlers.NewExportHandler(export.NewExporter(a.store, a.log), a.log),
		Scheduler:        handlers.NewSchedulerHandler(sched),
		Events:           hub,
		RateLimiter:      redis.NewRateLimiter(a.redis, keyPrefix),
		TriggerRateLimit: a.cfg.Batch.TriggerRateLimit,
		Metrics:          a.metrics,
	}, a.log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.New(a.cfg, a.log, router).Run(gctx)
	})

	if a.cfg.MetricsEnabled {
		g.Go(func() error {
			return api.NewMetricsServer(a.cfg, a.log, a.metrics.Handler()).Run(gctx)
		})
	}

	if !noScheduler {
		g.Go(func() error {
			sched.Start()
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	out := cmd.OutOrStdout()
	PrintSuccess(out, fmt.Sprintf("Server running on http://localhost:%s", a.cfg.Port))
	if a.cfg.MetricsEnabled {
		PrintSuccess(out, fmt.Sprintf("Metrics on http://localhost:%s/metrics", a.cfg.MetricsPort))
	}
	for _, name := range sched.GetAllJobs() {
		fmt.Fprintf(out, "   • scheduled: %s\n", name)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("Server stopped")
	return nil
}
