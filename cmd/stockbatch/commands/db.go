package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChaneHaDa/stock-batch-server/internal/store/pgstore"
	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
	"github.com/ChaneHaDa/stock-batch-server/pkg/database"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// dbCmd groups PostgreSQL maintenance commands
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "PostgreSQL 관리",
	Long: `데이터베이스 스키마 적용 및 연결 점검.

Subcommands:
  migrate - 배치 테이블 생성 (instruments, daily_prices, name_intervals, monthly_aggregates)
  ping    - 연결 테스트 및 풀 통계

Example:
  go run ./cmd/stockbatch db migrate
  go run ./cmd/stockbatch db ping`,
}

var (
	dbMigrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "스키마 적용",
		RunE:  runMigrate,
	}

	dbPingCmd = &cobra.Command{
		Use:   "ping",
		Short: "연결 테스트",
		RunE:  runPing,
	}
)

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd, dbPingCmd)
}

func connect() (*database.DB, *config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	log := logger.New(cfg)
	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database %s: %w", maskPassword(cfg.Database.URL), err)
	}
	return db, cfg, log, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, _, log, err := connect()
	if err != nil {
		return err
	}
	st := pgstore.New(db, log)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	PrintSuccess(cmd.OutOrStdout(), "Schema applied")
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	db, cfg, _, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "   Database URL: %s\n", maskPassword(cfg.Database.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("❌ Failed to ping database: %w", err)
	}
	PrintSuccess(out, "Ping successful")

	status, err := db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("❌ Health check failed: %w", err)
	}

	fmt.Fprintln(out, "📊 Connection Pool Statistics:")
	fmt.Fprintf(out, "   Healthy: %v (%v)\n", status.Healthy, status.ResponseTime)
	fmt.Fprintf(out, "   Max Connections: %d\n", status.Stats.MaxConns)
	fmt.Fprintf(out, "   Total Connections: %d\n", status.Stats.TotalConns)
	fmt.Fprintf(out, "   Acquired Connections: %d\n", status.Stats.AcquiredConns)
	fmt.Fprintf(out, "   Idle Connections: %d\n", status.Stats.IdleConns)
	return nil
}

// maskPassword hides the password of a connection URL for display
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
