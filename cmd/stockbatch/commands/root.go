package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	batchConfigFile string
	storeKind       string
	verbose         bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stockbatch",
	Short: "Stock batch server - 시세 적재 / 종목명 이력 / 월간 집계",
	Long: `Stock Batch Server CLI

일별 시세 적재, 종목명 시계열 관리, 월간 수익률 집계 배치.

Usage:
  go run ./cmd/stockbatch [command]

Examples:
  go run ./cmd/stockbatch serve
  go run ./cmd/stockbatch import data/20240603.json
  go run ./cmd/stockbatch fetch --date 2024-06-03
  go run ./cmd/stockbatch aggregate --year 2024 --month 6
  go run ./cmd/stockbatch aggregate-range --from 2024-01-01 --to 2024-06-30
  go run ./cmd/stockbatch export --from 2024-01 --to 2024-06 --out aggregates.xlsx
  go run ./cmd/stockbatch db migrate`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config.Load 가 읽도록 플래그를 환경변수로 전달
		if batchConfigFile != "" {
			if err := os.Setenv("BATCH_CONFIG_FILE", batchConfigFile); err != nil {
				return err
			}
		}
		if storeKind != "" {
			if err := os.Setenv("BATCH_STORE", storeKind); err != nil {
				return err
			}
		}
		if verbose {
			return os.Setenv("LOG_LEVEL", "debug")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&batchConfigFile, "batch-config", "", "YAML overlay for batch settings (BATCH_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "store backend override (postgres|memory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
