// Package aggregate reduces one month of daily prices into a MonthlyAggregate.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

// Method names how start/end prices are chosen
type Method string

const (
	// MethodFirstLastClose: start = close of the earliest day, end = close of the latest day
	MethodFirstLastClose Method = "first_last_close"
	// MethodOpenCloseExtremes: start = lowest open, end = highest close
	MethodOpenCloseExtremes Method = "open_close_extremes"
)

const (
	returnScale  = 12
	averageScale = 8
)

// ParseMethod validates a configured method name
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodFirstLastClose, MethodOpenCloseExtremes:
		return Method(s), nil
	case "":
		return MethodFirstLastClose, nil
	}
	return "", fmt.Errorf("unknown aggregation method %q", s)
}

// Compute derives the aggregate for records of one instrument in period p.
// Average is always the mean of the available closes.
// Returns *contracts.AggregationError when the return is undefined.
func Compute(method Method, instrumentID int64, p contracts.Period, records []contracts.PriceRecord) (contracts.MonthlyAggregate, error) {
	fail := func(reason string) (contracts.MonthlyAggregate, error) {
		return contracts.MonthlyAggregate{}, &contracts.AggregationError{InstrumentID: instrumentID, Period: p, Reason: reason}
	}

	inPeriod := make([]contracts.PriceRecord, 0, len(records))
	for _, r := range records {
		if p.Contains(r.BaseDate) {
			inPeriod = append(inPeriod, r)
		}
	}
	if len(inPeriod) == 0 {
		return fail("no price records in period")
	}
	sort.Slice(inPeriod, func(i, j int) bool { return inPeriod[i].BaseDate.Before(inPeriod[j].BaseDate) })

	var start, end decimal.NullDecimal
	switch method {
	case MethodFirstLastClose, "":
		method = MethodFirstLastClose
		start = inPeriod[0].Close
		end = inPeriod[len(inPeriod)-1].Close
	case MethodOpenCloseExtremes:
		start, end = extremes(inPeriod)
	default:
		return fail(fmt.Sprintf("unknown method %q", method))
	}

	if !start.Valid {
		return fail("start price missing")
	}
	if start.Decimal.IsZero() {
		return fail("start price is zero")
	}
	if !end.Valid {
		return fail("end price missing")
	}

	avg, ok := meanClose(inPeriod)
	if !ok {
		return fail("no close prices in period")
	}

	return contracts.MonthlyAggregate{
		InstrumentID: instrumentID,
		Period:       p,
		Method:       string(method),
		StartPrice:   start.Decimal,
		EndPrice:     end.Decimal,
		AveragePrice: avg,
		RateOfReturn: RateOfReturn(start.Decimal, end.Decimal),
		Days:         len(inPeriod),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// RateOfReturn = (end - start) / start; start must be non-zero
func RateOfReturn(start, end decimal.Decimal) decimal.Decimal {
	return end.Sub(start).DivRound(start, returnScale)
}

// extremes: 0 시가는 거래정지일로 보고 제외
func extremes(records []contracts.PriceRecord) (minOpen, maxClose decimal.NullDecimal) {
	for _, r := range records {
		if r.Open.Valid && r.Open.Decimal.IsPositive() {
			if !minOpen.Valid || r.Open.Decimal.LessThan(minOpen.Decimal) {
				minOpen = r.Open
			}
		}
		if r.Close.Valid {
			if !maxClose.Valid || r.Close.Decimal.GreaterThan(maxClose.Decimal) {
				maxClose = r.Close
			}
		}
	}
	return minOpen, maxClose
}

func meanClose(records []contracts.PriceRecord) (decimal.Decimal, bool) {
	sum := decimal.Zero
	n := 0
	for _, r := range records {
		if r.Close.Valid {
			sum = sum.Add(r.Close.Decimal)
			n++
		}
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return sum.DivRound(decimal.NewFromInt(int64(n)), averageScale), true
}
