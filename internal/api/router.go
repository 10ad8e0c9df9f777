package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ChaneHaDa/stock-batch-server/internal/api/handlers"
	"github.com/ChaneHaDa/stock-batch-server/internal/metrics"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
	"github.com/ChaneHaDa/stock-batch-server/pkg/redis"
)

// RouterDeps groups everything the router mounts; nil handlers are skipped
type RouterDeps struct {
	Batch       *handlers.BatchHandler
	Instruments *handlers.InstrumentHandler
	Export      *handlers.ExportHandler
	Scheduler   *handlers.SchedulerHandler
	Events      *EventHub

	RateLimiter      *redis.RateLimiter
	TriggerRateLimit int // per minute per client IP
	Metrics          *metrics.Metrics
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(deps RouterDeps, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	if deps.Batch != nil {
		// 배치 트리거만 레이트 리밋 적용
		trigger := api.PathPrefix("/batch").Subrouter()
		trigger.HandleFunc("/monthly", deps.Batch.RunMonthly).Methods("POST")
		trigger.HandleFunc("/monthly-range", deps.Batch.RunMonthlyRange).Methods("POST")
		trigger.HandleFunc("/import", deps.Batch.RunImport).Methods("POST")
		trigger.Use(rateLimitMiddleware(deps.RateLimiter, deps.TriggerRateLimit, log))

		api.HandleFunc("/jobs", deps.Batch.ListJobs).Methods("GET")
		api.HandleFunc("/jobs/{id}", deps.Batch.GetJob).Methods("GET")
	}

	if deps.Instruments != nil {
		api.HandleFunc("/instruments/{id}/name-history", deps.Instruments.GetNameHistory).Methods("GET")
		api.HandleFunc("/instruments/{id}/current-name", deps.Instruments.GetCurrentName).Methods("GET")
		api.HandleFunc("/instruments/{id}/aggregates", deps.Instruments.GetAggregates).Methods("GET")
	}

	if deps.Export != nil {
		api.HandleFunc("/export/aggregates", deps.Export.ExportAggregates).Methods("GET")
	}

	if deps.Scheduler != nil {
		api.HandleFunc("/scheduler/jobs", deps.Scheduler.GetStats).Methods("GET")
	}

	if deps.Events != nil {
		r.HandleFunc("/ws/jobs", deps.Events.ServeWS).Methods("GET")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log, deps.Metrics))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "stock-batch-server",
	})
}
