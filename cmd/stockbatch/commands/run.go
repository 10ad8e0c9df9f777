package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/scheduler/jobs"
)

// importCmd ingests local files, one job per file
var importCmd = &cobra.Command{
	Use:   "import [files...]",
	Short: "시세 파일 적재 (공공데이터포털 응답 / 종목 번들)",
	Long: `JSON 파일을 파일 단위 작업으로 적재합니다.

지원 형식:
- 공공데이터포털 getStockPriceInfo 응답 (response.body.items.item)
- 종목 번들 ({"stocks": [...]}, 종목명 이력 포함)

같은 내용의 파일은 같은 fingerprint (sha256) 를 가지므로 재적재해도 중복되지 않습니다.

Example:
  go run ./cmd/stockbatch import data/20240603.json data/20240604.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

// fetchCmd pulls one trading day from the data portal
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "공공데이터포털에서 하루치 시세 수집 후 적재",
	Long: `공공데이터포털 주식시세정보 API 에서 기준일자 시세를 수집해 적재합니다.
--from/--to 를 주면 기간의 각 일자를 순서대로 수집합니다 (주말 제외).

Example:
  go run ./cmd/stockbatch fetch --date 2024-06-03
  go run ./cmd/stockbatch fetch --from 2024-06-03 --to 2024-06-07`,
	RunE: runFetch,
}

// aggregateCmd aggregates one month
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "월간 집계 (단일 월)",
	Long: `지정한 연/월의 모든 종목에 대해 월간 시가/종가/평균/수익률을 계산합니다.
수익률을 계산할 수 없는 종목은 건너뛰고 보고합니다.

Example:
  go run ./cmd/stockbatch aggregate --year 2024 --month 6`,
	RunE: runAggregate,
}

// aggregateRangeCmd aggregates every month in a date range
var aggregateRangeCmd = &cobra.Command{
	Use:   "aggregate-range",
	Short: "월간 집계 (기간)",
	Long: `기간에 포함된 각 월을 별도 작업으로 워커 풀에서 병렬 집계합니다.

Example:
  go run ./cmd/stockbatch aggregate-range --from 2024-01-01 --to 2024-06-30`,
	RunE: runAggregateRange,
}

// recomputeCmd re-aggregates one instrument month by month
var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "단일 종목 월간 재집계",
	Long: `한 종목의 월간 집계를 오래된 월부터 순서대로 다시 계산합니다.
월마다 별도 트랜잭션으로 커밋합니다.

Example:
  go run ./cmd/stockbatch recompute --instrument 7 --from 2024-01 --to 2024-06`,
	RunE: runRecompute,
}

var (
	recomputeID   int64
	recomputeFrom string
	recomputeTo   string
)

var (
	fetchDate string
	fetchFrom string
	fetchTo   string
	aggYear   int
	aggMonth  int
	rangeFrom string
	rangeTo   string
)

func init() {
	rootCmd.AddCommand(importCmd, fetchCmd, aggregateCmd, aggregateRangeCmd, recomputeCmd)

	fetchCmd.Flags().StringVar(&fetchDate, "date", "", "기준일자 (YYYY-MM-DD, default: 오늘)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "시작일 (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "종료일 (YYYY-MM-DD)")
	fetchCmd.MarkFlagsMutuallyExclusive("date", "from")
	fetchCmd.MarkFlagsRequiredTogether("from", "to")

	aggregateCmd.Flags().IntVar(&aggYear, "year", 0, "연도")
	aggregateCmd.Flags().IntVar(&aggMonth, "month", 0, "월 (1-12)")
	aggregateCmd.MarkFlagRequired("year")
	aggregateCmd.MarkFlagRequired("month")

	aggregateRangeCmd.Flags().StringVar(&rangeFrom, "from", "", "시작일 (YYYY-MM-DD)")
	aggregateRangeCmd.Flags().StringVar(&rangeTo, "to", "", "종료일 (YYYY-MM-DD)")
	aggregateRangeCmd.MarkFlagRequired("from")
	aggregateRangeCmd.MarkFlagRequired("to")

	recomputeCmd.Flags().Int64Var(&recomputeID, "instrument", 0, "종목 ID")
	recomputeCmd.Flags().StringVar(&recomputeFrom, "from", "", "시작 월 (YYYY-MM)")
	recomputeCmd.Flags().StringVar(&recomputeTo, "to", "", "종료 월 (YYYY-MM)")
	recomputeCmd.MarkFlagRequired("instrument")
	recomputeCmd.MarkFlagRequired("from")
	recomputeCmd.MarkFlagRequired("to")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	PrintJobHeader(out, "Import", map[string]string{
		"Files": fmt.Sprintf("%d", len(args)),
		"Store": a.cfg.Batch.Store,
	}, "Files", "Store")

	// 파일별 독립 작업: 한 파일의 실패가 다른 파일을 막지 않음
	var errs []error
	for _, path := range args {
		job, err := a.orch.RunImportFile(ctx, path)
		if job.ID != "" {
			PrintJob(out, job)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			if job.ID == "" {
				PrintWarning(out, fmt.Sprintf("%s: %v", path, err))
			}
		}
	}
	return errors.Join(errs...)
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.DataGoKr.ServiceKey == "" {
		return fmt.Errorf("DATAGOKR_SERVICE_KEY is required")
	}

	days, err := fetchDays(a.today())
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	PrintJobHeader(out, "Fetch (data.go.kr)", map[string]string{
		"From": days[0].Format(contracts.DateLayout),
		"To":   days[len(days)-1].Format(contracts.DateLayout),
	}, "From", "To")

	for _, d := range days {
		if err := jobs.Import(ctx, a.datagokr, a.orch, d, a.log); err != nil {
			return fmt.Errorf("fetch %s: %w", d.Format(contracts.DateLayout), err)
		}
	}

	PrintJobTable(out, a.orch.Jobs())
	return nil
}

// fetchDays resolves --date or --from/--to into weekdays, oldest first
func fetchDays(today time.Time) ([]time.Time, error) {
	if fetchFrom == "" {
		if fetchDate == "" {
			return []time.Time{today}, nil
		}
		d, err := contracts.ParseDate(fetchDate)
		if err != nil {
			return nil, fmt.Errorf("invalid --date: %w", err)
		}
		return []time.Time{d}, nil
	}

	from, err := contracts.ParseDate(fetchFrom)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	to, err := contracts.ParseDate(fetchTo)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}
	return weekdays(from, to)
}

func weekdays(from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("--to %s is before --from %s", to.Format(contracts.DateLayout), from.Format(contracts.DateLayout))
	}
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no weekdays between %s and %s", from.Format(contracts.DateLayout), to.Format(contracts.DateLayout))
	}
	return out, nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	PrintJobHeader(out, "Monthly aggregation", map[string]string{
		"Period": fmt.Sprintf("%04d-%02d", aggYear, aggMonth),
		"Equity": a.cfg.Batch.AggMethodEquity,
		"Index":  a.cfg.Batch.AggMethodIndex,
	}, "Period", "Equity", "Index")

	job, err := a.orch.RunAggregation(ctx, aggYear, aggMonth)
	if job.ID != "" {
		PrintJob(out, job)
	}
	return err
}

func runAggregateRange(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	start, err := contracts.ParseDate(rangeFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	end, err := contracts.ParseDate(rangeTo)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	PrintJobHeader(out, "Monthly aggregation (range)", map[string]string{
		"From":    rangeFrom,
		"To":      rangeTo,
		"Workers": fmt.Sprintf("%d", a.cfg.Batch.Workers),
	}, "From", "To", "Workers")

	results, err := a.orch.RunAggregationRange(ctx, start, end)
	for _, job := range results {
		PrintJob(out, job)
	}
	PrintJobTable(out, results)
	if err != nil {
		return err
	}

	PrintSuccess(out, fmt.Sprintf("%d months aggregated", countState(results, batch.StateCompleted)))
	return nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	from, err := contracts.ParsePeriod(recomputeFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := contracts.ParsePeriod(recomputeTo)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	PrintJobHeader(out, "Instrument recompute", map[string]string{
		"Instrument": fmt.Sprintf("%d", recomputeID),
		"From":       from.String(),
		"To":         to.String(),
	}, "Instrument", "From", "To")

	job, err := a.orch.RunInstrumentRecompute(ctx, recomputeID, from, to)
	if job.ID != "" {
		PrintJob(out, job)
	}
	return err
}

func countState(jobs []batch.Job, s batch.State) int {
	n := 0
	for _, j := range jobs {
		if j.State == s {
			n++
		}
	}
	return n
}
