package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// ImportEntry is one instrument worth of raw import data, decoded but not yet validated.
// 공공데이터포털 item 1건 = Prices 1건, 번들 포맷은 여러 건
type ImportEntry struct {
	Source         string // "item[3]", "stocks[0]"
	ISIN           string
	Name           string
	ShortCode      string
	MarketCategory string
	Kind           Kind
	StartAt        *time.Time
	EndAt          *time.Time
	NameHistory    []SuppliedInterval
	Prices         []DailyPrice
}

// SuppliedInterval is an externally supplied historical name interval
type SuppliedInterval struct {
	Name    string
	StartAt *time.Time
	EndAt   *time.Time
}

// DailyPrice is one raw day. Unparsable numbers are already nil/invalid here.
type DailyPrice struct {
	BaseDate      *time.Time
	Open          decimal.NullDecimal
	High          decimal.NullDecimal
	Low           decimal.NullDecimal
	Close         decimal.NullDecimal
	TradeQuantity *int64
	TradeAmount   *int64
	IssuedCount   *int64
}

// Instrument returns the instrument fields carried by the entry
func (e ImportEntry) Instrument() Instrument {
	return Instrument{
		ISIN:           e.ISIN,
		Name:           e.Name,
		ShortCode:      e.ShortCode,
		MarketCategory: e.MarketCategory,
		Kind:           e.Kind,
		StartAt:        e.StartAt,
		EndAt:          e.EndAt,
	}
}

// Record converts a validated DailyPrice to a PriceRecord
func (d DailyPrice) Record(instrumentID int64) PriceRecord {
	return PriceRecord{
		InstrumentID:  instrumentID,
		BaseDate:      Day(*d.BaseDate),
		Open:          d.Open,
		High:          d.High,
		Low:           d.Low,
		Close:         d.Close,
		TradeQuantity: d.TradeQuantity,
		TradeAmount:   d.TradeAmount,
		IssuedCount:   d.IssuedCount,
	}
}
