// Package export writes monthly aggregates to an Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/identity"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// SheetName is the worksheet holding the aggregates
const SheetName = "Aggregates"

var header = []interface{}{
	"ISIN", "Name", "Short Code", "Market", "Period", "Method",
	"Start Price", "End Price", "Average Price", "Rate of Return", "Days",
}

// Exporter renders aggregates from a store
type Exporter struct {
	reader store.Reader
	logger *logger.Logger
}

// NewExporter creates an exporter
func NewExporter(reader store.Reader, log *logger.Logger) *Exporter {
	return &Exporter{
		reader: reader,
		logger: log.WithField("module", "export"),
	}
}

// Export writes every aggregate in [from, to] as an .xlsx workbook to w and returns the row count.
// Each row carries the name that was valid at the end of its period.
func (e *Exporter) Export(ctx context.Context, w io.Writer, from, to contracts.Period) (int, error) {
	aggs, err := e.reader.Aggregates(ctx, 0, from, to)
	if err != nil {
		return 0, fmt.Errorf("load aggregates: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return 0, err
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return 0, err
	}

	pct, err := f.NewStyle(&excelize.Style{NumFmt: 10}) // 0.00%
	if err != nil {
		return 0, err
	}
	if err := f.SetColStyle(SheetName, "J", pct); err != nil {
		return 0, err
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return 0, err
	}

	cache := make(map[int64]instrumentNames)
	for i, a := range aggs {
		names, ok := cache[a.InstrumentID]
		if !ok {
			names, err = e.loadNames(ctx, a.InstrumentID)
			if err != nil {
				return 0, err
			}
			cache[a.InstrumentID] = names
		}

		row := []interface{}{
			names.inst.ISIN,
			identity.CurrentValidName(names.intervals, names.inst.Name, a.Period.Last()),
			names.inst.ShortCode,
			names.inst.MarketCategory,
			a.Period.String(),
			a.Method,
			a.StartPrice.InexactFloat64(),
			a.EndPrice.InexactFloat64(),
			a.AveragePrice.InexactFloat64(),
			a.RateOfReturn.InexactFloat64(),
			a.Days,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return 0, err
		}
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}

	e.logger.WithFields(map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
		"rows": len(aggs),
	}).Info("Aggregates exported")

	return len(aggs), nil
}

type instrumentNames struct {
	inst      *contracts.Instrument
	intervals []contracts.NameInterval
}

func (e *Exporter) loadNames(ctx context.Context, id int64) (instrumentNames, error) {
	inst, err := e.reader.Instrument(ctx, id)
	if err != nil {
		return instrumentNames{}, fmt.Errorf("load instrument %d: %w", id, err)
	}
	intervals, err := e.reader.NameIntervals(ctx, id)
	if err != nil {
		return instrumentNames{}, fmt.Errorf("load name intervals %d: %w", id, err)
	}
	return instrumentNames{inst: inst, intervals: intervals}, nil
}
