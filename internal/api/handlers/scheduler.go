package handlers

import (
	"net/http"

	"github.com/ChaneHaDa/stock-batch-server/internal/scheduler"
)

// SchedulerStats is the read side of the cron scheduler
type SchedulerStats interface {
	GetJobStats() map[string]scheduler.JobStats
}

// SchedulerHandler exposes scheduled job statistics
type SchedulerHandler struct {
	stats SchedulerStats
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(stats SchedulerStats) *SchedulerHandler {
	return &SchedulerHandler{stats: stats}
}

// GetStats returns per-job run statistics
// GET /api/v1/scheduler/jobs
func (h *SchedulerHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.stats.GetJobStats(),
	})
}
