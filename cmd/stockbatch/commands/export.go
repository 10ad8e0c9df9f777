package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/export"
)

// exportCmd writes aggregates to an Excel workbook
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "월간 집계 엑셀 내보내기",
	Long: `기간 내 월간 집계를 .xlsx 로 내보냅니다.
종목명은 각 집계 월 말일 기준 유효한 이름으로 표기됩니다.

Example:
  go run ./cmd/stockbatch export --from 2024-01 --to 2024-06 --out aggregates.xlsx`,
	RunE: runExport,
}

var (
	exportFrom string
	exportTo   string
	exportOut  string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFrom, "from", "", "시작 월 (YYYY-MM)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "종료 월 (YYYY-MM)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "aggregates.xlsx", "출력 파일")
	exportCmd.MarkFlagRequired("from")
	exportCmd.MarkFlagRequired("to")
}

func runExport(cmd *cobra.Command, args []string) error {
	from, err := contracts.ParsePeriod(exportFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := contracts.ParsePeriod(exportTo)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", exportOut, err)
	}
	defer f.Close()

	ctx, stop := signalContext()
	defer stop()

	n, err := export.NewExporter(a.store, a.log).Export(ctx, f, from, to)
	if err != nil {
		return err
	}

	PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("%d aggregates written to %s", n, exportOut))
	return nil
}
