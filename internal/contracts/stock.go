package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes equities from market indices
type Kind string

const (
	KindEquity Kind = "equity"
	KindIndex  Kind = "index"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindEquity || k == KindIndex
}

// Instrument is a tracked equity or index, keyed by surrogate ID and ISIN.
// ⭐ SSOT: 종목 마스터 정의
type Instrument struct {
	ID             int64      `json:"id"`
	ISIN           string     `json:"isin_code"`
	Name           string     `json:"name"`
	ShortCode      string     `json:"short_code,omitempty"`
	MarketCategory string     `json:"market_category,omitempty"`
	Kind           Kind       `json:"kind"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"` // nil = 상장 유지
}

// Merge returns old refreshed with every non-empty field of incoming.
// ID and ISIN always come from old.
func Merge(old, incoming Instrument) Instrument {
	merged := old
	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if incoming.ShortCode != "" {
		merged.ShortCode = incoming.ShortCode
	}
	if incoming.MarketCategory != "" {
		merged.MarketCategory = incoming.MarketCategory
	}
	if incoming.Kind != "" {
		merged.Kind = incoming.Kind
	}
	if incoming.StartAt != nil {
		merged.StartAt = incoming.StartAt
	}
	if incoming.EndAt != nil {
		merged.EndAt = incoming.EndAt
	}
	return merged
}

// PriceRecord is one trading day for one instrument.
// (InstrumentID, BaseDate) 당 최대 1건, 생성 후 불변
type PriceRecord struct {
	InstrumentID  int64               `json:"instrument_id"`
	BaseDate      time.Time           `json:"base_date"`
	Open          decimal.NullDecimal `json:"open_price"`
	High          decimal.NullDecimal `json:"high_price"`
	Low           decimal.NullDecimal `json:"low_price"`
	Close         decimal.NullDecimal `json:"close_price"`
	TradeQuantity *int64              `json:"trade_quantity,omitempty"` // 거래량
	TradeAmount   *int64              `json:"trade_amount,omitempty"`   // 거래대금
	IssuedCount   *int64              `json:"issued_count,omitempty"`   // 상장주식수
}

// NameInterval is a date range during which an instrument carried Name.
type NameInterval struct {
	ID           int64      `json:"id"`
	InstrumentID int64      `json:"instrument_id"`
	Name         string     `json:"name"`
	StartAt      time.Time  `json:"start_at"`
	EndAt        *time.Time `json:"end_at,omitempty"`
}

// IsOpen reports whether the interval has no end date
func (n NameInterval) IsOpen() bool {
	return n.EndAt == nil
}

// Covers reports whether day falls inside the interval (both ends inclusive)
func (n NameInterval) Covers(day time.Time) bool {
	if day.Before(n.StartAt) {
		return false
	}
	return n.EndAt == nil || !day.After(*n.EndAt)
}

// SameAs is exact equality on name, start and end. An open end only matches an open end.
func (n NameInterval) SameAs(o NameInterval) bool {
	if n.Name != o.Name || !n.StartAt.Equal(o.StartAt) {
		return false
	}
	if n.EndAt == nil || o.EndAt == nil {
		return n.EndAt == nil && o.EndAt == nil
	}
	return n.EndAt.Equal(*o.EndAt)
}

// Overlaps reports whether the two intervals share at least one day
func (n NameInterval) Overlaps(o NameInterval) bool {
	if n.EndAt != nil && n.EndAt.Before(o.StartAt) {
		return false
	}
	if o.EndAt != nil && o.EndAt.Before(n.StartAt) {
		return false
	}
	return true
}

// MonthlyAggregate is the derived monthly summary for one instrument and period.
// ⭐ SSOT: (InstrumentID, Period) 당 정확히 1건 (upsert)
type MonthlyAggregate struct {
	InstrumentID int64           `json:"instrument_id"`
	Period       Period          `json:"period"`
	Method       string          `json:"method"`
	StartPrice   decimal.Decimal `json:"start_price"`
	EndPrice     decimal.Decimal `json:"end_price"`
	AveragePrice decimal.Decimal `json:"average_price"`
	RateOfReturn decimal.Decimal `json:"rate_of_return"`
	Days         int             `json:"days"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
