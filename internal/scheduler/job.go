package scheduler

import (
	"context"
	"time"
)

// historySize caps the results kept per job
const historySize = 100

// Job is one cron-driven batch trigger
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string

	// Run triggers the batch; permanent errors (duplicate run, invalid input) are not retried
	Run(ctx context.Context) error

	// Schedule is a six-field cron expression (seconds first), e.g. "0 0 2 1 * *"
	Schedule() string
}

// JobResult is one scheduled execution, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Permanent bool          `json:"permanent,omitempty"` // 재시도 없이 종료
	Error     string        `json:"error,omitempty"`
}

// JobHistory keeps the latest results of one job, oldest first
type JobHistory struct {
	Results []JobResult
}

// AddResult appends result, dropping the oldest beyond historySize
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)
	if len(h.Results) > historySize {
		h.Results = h.Results[len(h.Results)-historySize:]
	}
}

// Last returns the most recent result
func (h *JobHistory) Last() (JobResult, bool) {
	if len(h.Results) == 0 {
		return JobResult{}, false
	}
	return h.Results[len(h.Results)-1], true
}

// GetLatestResults returns the latest n results
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}
	if n <= 0 {
		return []JobResult{}
	}
	return h.Results[len(h.Results)-n:]
}

// GetFailedResults returns every failed result
func (h *JobHistory) GetFailedResults() []JobResult {
	failed := make([]JobResult, 0)
	for _, result := range h.Results {
		if !result.Success {
			failed = append(failed, result)
		}
	}
	return failed
}

// GetSuccessRate returns the success rate (0.0 - 1.0)
func (h *JobHistory) GetSuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0.0
	}

	successCount := 0
	for _, result := range h.Results {
		if result.Success {
			successCount++
		}
	}
	return float64(successCount) / float64(len(h.Results))
}

// lastOutcome returns the start time of the latest success and latest failure
func (h *JobHistory) lastOutcome() (success, failure *time.Time) {
	for i := len(h.Results) - 1; i >= 0 && (success == nil || failure == nil); i-- {
		t := h.Results[i].StartTime
		if h.Results[i].Success && success == nil {
			success = &t
		} else if !h.Results[i].Success && failure == nil {
			failure = &t
		}
	}
	return success, failure
}
