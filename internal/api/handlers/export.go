package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// AggregateExporter renders aggregates as a workbook
type AggregateExporter interface {
	Export(ctx context.Context, w io.Writer, from, to contracts.Period) (int, error)
}

// ExportHandler serves the Excel export
type ExportHandler struct {
	exporter AggregateExporter
	logger   *logger.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(exporter AggregateExporter, log *logger.Logger) *ExportHandler {
	return &ExportHandler{
		exporter: exporter,
		logger:   log.WithField("module", "api.export"),
	}
}

// ExportAggregates streams an .xlsx of every aggregate in [from, to]
// GET /api/v1/export/aggregates?from=2024-01&to=2024-06
func (h *ExportHandler) ExportAggregates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, errFrom := contracts.ParsePeriod(q.Get("from"))
	to, errTo := contracts.ParsePeriod(q.Get("to"))
	if errFrom != nil || errTo != nil || to.Before(from) {
		respondFields(w, http.StatusBadRequest, "invalid request", []contracts.FieldError{
			{Field: "from", Reason: "must be a month formatted 2006-01"},
			{Field: "to", Reason: "must be a month formatted 2006-01, not before from"},
		})
		return
	}

	// 헤더 전송 전 실패를 잡기 위해 버퍼에 먼저 기록
	var buf bytes.Buffer
	if _, err := h.exporter.Export(r.Context(), &buf, from, to); err != nil {
		h.logger.WithError(err).Error("Export failed")
		respondError(w, http.StatusInternalServerError, "Failed to export aggregates")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="aggregates_%s_%s.xlsx"`, from, to))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
