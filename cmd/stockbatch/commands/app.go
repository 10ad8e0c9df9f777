package commands

import (
	"fmt"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/aggregate"
	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/external/datagokr"
	"github.com/ChaneHaDa/stock-batch-server/internal/identity"
	"github.com/ChaneHaDa/stock-batch-server/internal/ingest"
	"github.com/ChaneHaDa/stock-batch-server/internal/metrics"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/internal/store/pgstore"
	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
	"github.com/ChaneHaDa/stock-batch-server/pkg/database"
	"github.com/ChaneHaDa/stock-batch-server/pkg/httputil"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
	"github.com/ChaneHaDa/stock-batch-server/pkg/redis"
)

// keyPrefix namespaces every Redis key of this service
const keyPrefix = "stockbatch"

// app holds the wired batch pipeline shared by all commands
// ⭐ SSOT: 의존성 조립은 여기서만
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	store    store.Store
	pg       *pgstore.Store // nil unless BATCH_STORE=postgres
	redis    *redis.Client
	resolver *identity.Resolver
	orch     *batch.Orchestrator
	datagokr *datagokr.Client
	today    func() time.Time
}

// newApp loads config and wires store, claims, ingestor, aggregator and orchestrator
func newApp() (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return wireApp(cfg)
}

// wireApp builds the pipeline from cfg. Anything opened before a failure is closed again.
func wireApp(cfg *config.Config) (_ *app, err error) {
	// 2. Initialize logger and metrics
	log := logger.New(cfg)
	m := metrics.New()

	w := &app{cfg: cfg, log: log, metrics: m}
	defer func() {
		if err != nil {
			w.closeResources()
		}
	}()

	// 연결을 열기 전에 설정값부터 검증
	equity, err := aggregate.ParseMethod(cfg.Batch.AggMethodEquity)
	if err != nil {
		return nil, err
	}
	index, err := aggregate.ParseMethod(cfg.Batch.AggMethodIndex)
	if err != nil {
		return nil, err
	}

	// 3. Store
	switch cfg.Batch.Store {
	case "memory":
		w.store = store.NewMemory()
		log.Warn("Using in-memory store; data is lost on exit")
	default:
		db, err := database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		w.pg = pgstore.New(db, log)
		w.store = w.pg
		log.Info("Connected to database")
	}

	// 4. Redis (optional): fingerprint claims, trigger rate limit, cache
	w.redis, err = redis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	var claims batch.Claimer = batch.NewMemoryClaims()
	if w.redis.Enabled() {
		claims = redis.NewClaims(w.redis, keyPrefix, cfg.Batch.FingerprintTTL)
		log.Info("Using Redis fingerprint claims")
	}

	// 5. Pipeline components
	loc := cfg.Batch.Location()
	w.today = func() time.Time { return contracts.Day(time.Now().In(loc)) }

	w.resolver = identity.NewResolver(log)
	ing := ingest.NewIngestor(w.resolver, ingest.NewKeyedLocks(), ingest.Policy(cfg.Batch.ValidationPolicy), w.today, m, log)
	agg := aggregate.NewAggregator(equity, index, m, log)
	pool := batch.NewPool(cfg.Batch.Workers, cfg.Batch.QueueSize, log)

	w.orch = batch.NewOrchestrator(w.store, ing, agg, claims, pool, batch.Options{
		ImportChunkSize:    cfg.Batch.ImportChunkSize,
		AggregateChunkSize: cfg.Batch.AggregateChunkSize,
	}, m, log)

	// 6. External source
	httpClient := httputil.New(log).WithLocalLimit(cfg.DataGoKr.RPS)
	if w.redis.Enabled() {
		httpClient = httpClient.WithRateLimiter(redis.NewRateLimiter(w.redis, keyPrefix), redis.DataGoKrRateLimit(cfg.DataGoKr.RPS))
	}
	w.datagokr = datagokr.NewClient(httpClient, cfg.DataGoKr.BaseURL, cfg.DataGoKr.ServiceKey, cfg.DataGoKr.PageSize, log)

	log.WithFields(map[string]interface{}{
		"store":    cfg.Batch.Store,
		"workers":  cfg.Batch.Workers,
		"policy":   cfg.Batch.ValidationPolicy,
		"timezone": loc.String(),
	}).Info("Batch pipeline ready")

	return w, nil
}

// Close stops workers first so no chunk writes after the store closes
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	a.closeResources()
}

func (a *app) closeResources() {
	if a.store != nil {
		a.store.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis")
		}
	}
}
