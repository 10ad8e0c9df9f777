package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/identity"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
	"github.com/ChaneHaDa/stock-batch-server/pkg/redis"
)

// InstrumentHandler serves instrument read endpoints
type InstrumentHandler struct {
	reader   store.Reader
	resolver *identity.Resolver
	cache    *redis.Cache
	today    func() time.Time
	validate *validator.Validate
	logger   *logger.Logger
}

// NewInstrumentHandler creates a new instrument handler; today is the batch-timezone date
func NewInstrumentHandler(reader store.Reader, resolver *identity.Resolver, cache *redis.Cache, today func() time.Time, log *logger.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		reader:   reader,
		resolver: resolver,
		cache:    cache,
		today:    today,
		validate: newValidator(),
		logger:   log.WithField("module", "api.instruments"),
	}
}

// AggregatesRequest is the query of GET /instruments/{id}/aggregates
type AggregatesRequest struct {
	From string `json:"from" validate:"omitempty,datetime=2006-01"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01"`
}

// NameIntervalResponse is one entry of the name history
type NameIntervalResponse struct {
	Name    string  `json:"name"`
	StartAt string  `json:"startAt"`
	EndAt   *string `json:"endAt"`
}

// GetNameHistory returns the instrument's names, newest first
// GET /api/v1/instruments/{id}/name-history
func (h *InstrumentHandler) GetNameHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := instrumentID(w, r)
	if !ok {
		return
	}

	var result []NameIntervalResponse
	err := h.cache.GetOrSet(r.Context(), redis.NameHistoryKey(id), &result, redis.TTLMedium, func() (interface{}, error) {
		history, err := h.resolver.NameHistory(r.Context(), h.reader, id)
		if err != nil {
			return nil, err
		}
		out := make([]NameIntervalResponse, len(history))
		for i, iv := range history {
			out[i] = NameIntervalResponse{Name: iv.Name, StartAt: iv.StartAt.Format(contracts.DateLayout)}
			if iv.EndAt != nil {
				end := iv.EndAt.Format(contracts.DateLayout)
				out[i].EndAt = &end
			}
		}
		return out, nil
	})
	if err != nil {
		h.fail(w, err, id, "Failed to get name history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

// GetCurrentName returns the name valid on asOf (default today)
// GET /api/v1/instruments/{id}/current-name?asOf=2024-06-10
func (h *InstrumentHandler) GetCurrentName(w http.ResponseWriter, r *http.Request) {
	id, ok := instrumentID(w, r)
	if !ok {
		return
	}

	asOf := contracts.Day(h.today())
	if s := r.URL.Query().Get("asOf"); s != "" {
		d, err := contracts.ParseDate(s)
		if err != nil {
			respondFields(w, http.StatusBadRequest, "invalid request", []contracts.FieldError{{Field: "asOf", Reason: "must be a date formatted 2006-01-02"}})
			return
		}
		asOf = d
	}

	name, err := h.resolver.CurrentName(r.Context(), h.reader, id, asOf)
	if err != nil {
		h.fail(w, err, id, "Failed to get current name")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"instrumentId": id,
			"asOf":         asOf.Format(contracts.DateLayout),
			"name":         name,
		},
	})
}

// GetAggregates returns monthly aggregates in [from, to] (YYYY-MM, both optional)
// GET /api/v1/instruments/{id}/aggregates?from=2024-01&to=2024-06
func (h *InstrumentHandler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	id, ok := instrumentID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := AggregatesRequest{From: q.Get("from"), To: q.Get("to")}
	if err := h.validate.Struct(req); err != nil {
		respondFields(w, http.StatusBadRequest, "invalid request", validationFailure(err))
		return
	}

	from := contracts.Period{Year: 1900, Month: time.January}
	to := contracts.Period{Year: 9999, Month: time.December}
	if req.From != "" {
		from, _ = contracts.ParsePeriod(req.From)
	}
	if req.To != "" {
		to, _ = contracts.ParsePeriod(req.To)
	}

	var result []contracts.MonthlyAggregate
	err := h.cache.GetOrSet(r.Context(), redis.AggregatesKey(id, from.String(), to.String()), &result, redis.TTLShort, func() (interface{}, error) {
		if _, err := h.reader.Instrument(r.Context(), id); err != nil {
			return nil, err
		}
		return h.reader.Aggregates(r.Context(), id, from, to)
	})
	if err != nil {
		h.fail(w, err, id, "Failed to get aggregates")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

func (h *InstrumentHandler) fail(w http.ResponseWriter, err error, id int64, msg string) {
	h.logger.WithError(err).WithField("instrument_id", id).Warn(msg)
	respondErr(w, err, nil)
}

func instrumentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(pathVar(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondFields(w, http.StatusBadRequest, "invalid request", []contracts.FieldError{{Field: "id", Reason: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
