package importfile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

// Bundle is the multi-day import format: {"stocks":[...]}
type Bundle struct {
	Stocks []BundleStock `json:"stocks"`
}

// Validate rejects a bundle whose stocks collection is null; an empty array is fine
func (b *Bundle) Validate() error {
	if b.Stocks == nil {
		return fmt.Errorf("missing stocks")
	}
	return nil
}

// BundleStock carries one instrument with validity window, name history and prices
type BundleStock struct {
	IsinCode       string        `json:"isinCode"`
	CurrentName    string        `json:"currentName"`
	ShortCode      string        `json:"shortCode"`
	MarketCategory string        `json:"marketCategory"`
	Kind           string        `json:"kind"`
	StartAt        flexDate      `json:"startAt"`
	EndAt          flexDate      `json:"endAt"`
	NameHistory    []BundleName  `json:"nameHistory"`
	PriceData      []BundlePrice `json:"priceData"`
}

// BundleName is one supplied historical name interval
type BundleName struct {
	Name    string   `json:"name"`
	StartAt flexDate `json:"startAt"`
	EndAt   flexDate `json:"endAt"`
}

// BundlePrice is one day
type BundlePrice struct {
	BaseDate      flexDate   `json:"baseDate"`
	OpenPrice     flexNumber `json:"openPrice"`
	ClosePrice    flexNumber `json:"closePrice"`
	HighPrice     flexNumber `json:"highPrice"`
	LowPrice      flexNumber `json:"lowPrice"`
	TradeQuantity flexNumber `json:"tradeQuantity"`
	TradeAmount   flexNumber `json:"tradeAmount"`
	IssuedCount   flexNumber `json:"issuedCount"`
}

// Entries converts the bundle into import entries
func (b *Bundle) Entries() []contracts.ImportEntry {
	out := make([]contracts.ImportEntry, 0, len(b.Stocks))
	for i, s := range b.Stocks {
		// kind 생략 시 빈 값: 재임포트가 지수를 equity 로 바꾸지 않도록
		kind := contracts.Kind(strings.ToLower(strings.TrimSpace(s.Kind)))

		entry := contracts.ImportEntry{
			Source:         fmt.Sprintf("stocks[%d]", i),
			ISIN:           strings.TrimSpace(s.IsinCode),
			Name:           strings.TrimSpace(s.CurrentName),
			ShortCode:      strings.TrimSpace(s.ShortCode),
			MarketCategory: strings.TrimSpace(s.MarketCategory),
			Kind:           kind,
			StartAt:        s.StartAt.t,
			EndAt:          s.EndAt.t,
		}
		for _, h := range s.NameHistory {
			entry.NameHistory = append(entry.NameHistory, contracts.SuppliedInterval{
				Name:    strings.TrimSpace(h.Name),
				StartAt: h.StartAt.t,
				EndAt:   h.EndAt.t,
			})
		}
		for _, p := range s.PriceData {
			entry.Prices = append(entry.Prices, contracts.DailyPrice{
				BaseDate:      p.BaseDate.t,
				Open:          p.OpenPrice.decimal(),
				High:          p.HighPrice.decimal(),
				Low:           p.LowPrice.decimal(),
				Close:         p.ClosePrice.decimal(),
				TradeQuantity: p.TradeQuantity.int64(),
				TradeAmount:   p.TradeAmount.int64(),
				IssuedCount:   p.IssuedCount.int64(),
			})
		}
		out = append(out, entry)
	}
	return out
}

// flexDate accepts "2006-01-02", "20060102" or null. Anything else decodes as absent.
type flexDate struct {
	t *time.Time
}

func (f *flexDate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// 숫자 등 비문자열은 값 없음으로 취급
		return nil
	}
	s = strings.TrimSpace(s)
	if len(s) == len(contracts.BasDtLayout) {
		f.t = parseDate(s, contracts.BasDtLayout)
		return nil
	}
	f.t = parseDate(s, contracts.DateLayout)
	return nil
}

// flexNumber accepts a JSON number or a numeric string. Unparsable values decode as absent.
type flexNumber struct {
	raw string
}

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		f.raw = n.String()
	}
	return nil
}

func (f flexNumber) decimal() decimal.NullDecimal {
	return parseDecimal(f.raw)
}

func (f flexNumber) int64() *int64 {
	return parseInt(f.raw)
}
