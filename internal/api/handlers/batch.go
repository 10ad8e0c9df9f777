package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ChaneHaDa/stock-batch-server/internal/batch"
	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/importfile"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// BatchRunner is the orchestrator surface the trigger endpoints use
type BatchRunner interface {
	RunAggregation(ctx context.Context, year, month int) (batch.Job, error)
	RunAggregationRange(ctx context.Context, start, end time.Time) ([]batch.Job, error)
	SubmitAggregationRange(ctx context.Context, start, end time.Time) ([]batch.Job, error)
	RunImport(ctx context.Context, name string, r io.Reader) (batch.Job, error)
	Job(id string) (batch.Job, error)
	Jobs() []batch.Job
}

// BatchHandler serves the batch trigger and job status endpoints
// ⭐ SSOT: 배치 트리거 API 핸들러는 이 구조체에서만
type BatchHandler struct {
	runner   BatchRunner
	validate *validator.Validate
	logger   *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(runner BatchRunner, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		runner:   runner,
		validate: newValidator(),
		logger:   log.WithField("module", "api.batch"),
	}
}

// MonthlyRequest is the query of POST /batch/monthly
type MonthlyRequest struct {
	Year  int `json:"year" validate:"required,min=1900,max=9999"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

// RangeRequest is the query of POST /batch/monthly-range
type RangeRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
	Async     bool   `json:"async"`
}

// RunMonthly aggregates one month synchronously
// POST /api/v1/batch/monthly?year=2024&month=6
func (h *BatchHandler) RunMonthly(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := MonthlyRequest{Year: atoi(q.Get("year")), Month: atoi(q.Get("month"))}
	if err := h.validate.Struct(req); err != nil {
		respondFields(w, http.StatusBadRequest, "invalid request", validationFailure(err))
		return
	}

	job, err := h.runner.RunAggregation(r.Context(), req.Year, req.Month)
	if err != nil {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"year":  req.Year,
			"month": req.Month,
		}).Warn("Monthly aggregation trigger failed")
		respondErr(w, err, jobOrNil(job))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    job,
	})
}

// RunMonthlyRange aggregates every month in [startDate, endDate]
// POST /api/v1/batch/monthly-range?startDate=2024-01-01&endDate=2024-03-31[&async=true]
func (h *BatchHandler) RunMonthlyRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	async, _ := strconv.ParseBool(q.Get("async"))
	req := RangeRequest{StartDate: q.Get("startDate"), EndDate: q.Get("endDate"), Async: async}
	if err := h.validate.Struct(req); err != nil {
		respondFields(w, http.StatusBadRequest, "invalid request", validationFailure(err))
		return
	}

	start, _ := contracts.ParseDate(req.StartDate)
	end, _ := contracts.ParseDate(req.EndDate)
	if end.Before(start) {
		respondFields(w, http.StatusBadRequest, "invalid request", []contracts.FieldError{{Field: "endDate", Reason: "must not be before startDate"}})
		return
	}

	if req.Async {
		jobs, err := h.runner.SubmitAggregationRange(r.Context(), start, end)
		if err != nil && len(jobs) == 0 {
			respondErr(w, err, nil)
			return
		}
		body := map[string]interface{}{
			"success": err == nil,
			"data":    jobIDs(jobs),
		}
		if err != nil {
			body["error"] = err.Error()
		}
		respondJSON(w, http.StatusAccepted, body)
		return
	}

	jobs, err := h.runner.RunAggregationRange(r.Context(), start, end)
	if err != nil {
		respondErr(w, err, jobs)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    jobs,
	})
}

// RunImport ingests one uploaded file (multipart field "file")
// POST /api/v1/batch/import
func (h *BatchHandler) RunImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, importfile.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		respondFields(w, http.StatusBadRequest, "invalid request", []contracts.FieldError{{Field: "file", Reason: "is required"}})
		return
	}
	defer file.Close()

	job, err := h.runner.RunImport(r.Context(), hdr.Filename, file)
	if err != nil {
		h.logger.WithError(err).WithField("file", hdr.Filename).Warn("Import failed")
		respondErr(w, err, jobOrNil(job))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    job,
	})
}

// GetJob returns one job
// GET /api/v1/jobs/{id}
func (h *BatchHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Job(pathVar(r, "id"))
	if err != nil {
		respondErr(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    job,
	})
}

// ListJobs returns recent jobs, newest first
// GET /api/v1/jobs
func (h *BatchHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.runner.Jobs(),
	})
}

func jobOrNil(job batch.Job) interface{} {
	if job.ID == "" {
		return nil
	}
	return job
}

func jobIDs(jobs []batch.Job) []map[string]string {
	out := make([]map[string]string, len(jobs))
	for i, j := range jobs {
		out[i] = map[string]string{
			"id":          j.ID,
			"fingerprint": j.Fingerprint.String(),
			"state":       string(j.State),
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
