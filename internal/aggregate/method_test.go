package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

var june = contracts.Period{Year: 2024, Month: time.June}

func day(s string) time.Time {
	t, err := contracts.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func nd(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func rec(date, open, closePrice string) contracts.PriceRecord {
	return contracts.PriceRecord{InstrumentID: 1, BaseDate: day(date), Open: nd(open), Close: nd(closePrice)}
}

func decEq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestCompute_FirstLastClose(t *testing.T) {
	records := []contracts.PriceRecord{
		rec("2024-06-28", "108", "110"),
		rec("2024-06-03", "99", "100"),
		rec("2024-06-14", "104", "105"),
	}

	agg, err := Compute(MethodFirstLastClose, 1, june, records)
	require.NoError(t, err)

	assert.Equal(t, string(MethodFirstLastClose), agg.Method)
	decEq(t, "100", agg.StartPrice)
	decEq(t, "110", agg.EndPrice)
	decEq(t, "105", agg.AveragePrice)
	decEq(t, "0.1", agg.RateOfReturn)
	assert.Equal(t, 3, agg.Days)
	assert.Equal(t, june, agg.Period)
}

func TestCompute_OpenCloseExtremes(t *testing.T) {
	records := []contracts.PriceRecord{
		rec("2024-06-03", "95", "100"),
		rec("2024-06-04", "0", "120"), // 거래정지
		rec("2024-06-05", "98", "110"),
	}

	agg, err := Compute(MethodOpenCloseExtremes, 1, june, records)
	require.NoError(t, err)

	decEq(t, "95", agg.StartPrice)
	decEq(t, "120", agg.EndPrice)
	decEq(t, "110", agg.AveragePrice)
	decEq(t, "0.263157894737", agg.RateOfReturn)
}

func TestCompute_UndefinedReturn(t *testing.T) {
	tests := []struct {
		name    string
		method  Method
		records []contracts.PriceRecord
		reason  string
	}{
		{"zero start", MethodFirstLastClose, []contracts.PriceRecord{rec("2024-06-03", "", "0"), rec("2024-06-04", "", "10")}, "start price is zero"},
		{"missing start", MethodFirstLastClose, []contracts.PriceRecord{rec("2024-06-03", "", ""), rec("2024-06-04", "", "10")}, "start price missing"},
		{"missing end", MethodFirstLastClose, []contracts.PriceRecord{rec("2024-06-03", "", "10"), rec("2024-06-04", "", "")}, "end price missing"},
		{"no opens", MethodOpenCloseExtremes, []contracts.PriceRecord{rec("2024-06-03", "0", "10")}, "start price missing"},
		{"empty", MethodFirstLastClose, nil, "no price records in period"},
		{"outside period", MethodFirstLastClose, []contracts.PriceRecord{rec("2024-07-01", "", "10")}, "no price records in period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.method, 7, june, tt.records)
			require.Error(t, err)

			var aggErr *contracts.AggregationError
			require.True(t, errors.As(err, &aggErr))
			assert.Equal(t, int64(7), aggErr.InstrumentID)
			assert.Equal(t, june, aggErr.Period)
			assert.Equal(t, tt.reason, aggErr.Reason)
		})
	}
}

func TestCompute_AverageIgnoresMissingCloses(t *testing.T) {
	records := []contracts.PriceRecord{
		rec("2024-06-03", "", "100"),
		rec("2024-06-04", "", ""),
		rec("2024-06-05", "", "101"),
	}

	agg, err := Compute(MethodFirstLastClose, 1, june, records)
	require.NoError(t, err)
	decEq(t, "100.5", agg.AveragePrice)
	assert.Equal(t, 3, agg.Days)
}

func TestRateOfReturn_Rounding(t *testing.T) {
	decEq(t, "0.333333333333", RateOfReturn(decimal.NewFromInt(3), decimal.NewFromInt(4)))
	decEq(t, "-0.5", RateOfReturn(decimal.NewFromInt(200), decimal.NewFromInt(100)))
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("open_close_extremes")
	require.NoError(t, err)
	assert.Equal(t, MethodOpenCloseExtremes, m)

	m, err = ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodFirstLastClose, m)

	_, err = ParseMethod("vwap")
	assert.Error(t, err)
}
