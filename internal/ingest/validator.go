package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

var isinPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

const (
	maxNameLength      = 100
	maxShortCodeLength = 20
)

// Validator checks one import entry and collects every field-level failure
type Validator struct {
	today func() time.Time
}

// NewValidator creates a validator; today is the calendar date in the batch timezone
func NewValidator(today func() time.Time) *Validator {
	return &Validator{today: today}
}

// Validate returns nil or a *contracts.ValidationError listing every problem
func (v *Validator) Validate(e contracts.ImportEntry) error {
	var errs []contracts.FieldError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, contracts.FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	// 종목 기본정보
	switch {
	case strings.TrimSpace(e.ISIN) == "":
		add("isinCode", "is required")
	case !isinPattern.MatchString(e.ISIN):
		add("isinCode", "must follow the standard format (2 country letters + 9 alphanumeric + 1 check digit)")
	}

	switch {
	case strings.TrimSpace(e.Name) == "":
		add("name", "is required")
	case utf8.RuneCountInString(e.Name) > maxNameLength:
		add("name", "must not exceed %d characters", maxNameLength)
	}

	if utf8.RuneCountInString(e.ShortCode) > maxShortCodeLength {
		add("shortCode", "must not exceed %d characters", maxShortCodeLength)
	}

	if e.Kind != "" && !e.Kind.Valid() {
		add("kind", "must be one of: equity, index")
	}

	if e.StartAt != nil && e.EndAt != nil && e.StartAt.After(*e.EndAt) {
		add("startAt", "must be before or equal to endAt")
	}

	// 종목명 이력
	limit := v.today().AddDate(1, 0, 0)
	for i, h := range e.NameHistory {
		field := fmt.Sprintf("nameHistory[%d]", i)
		switch {
		case strings.TrimSpace(h.Name) == "":
			add(field+".name", "is required")
		case utf8.RuneCountInString(h.Name) > maxNameLength:
			add(field+".name", "must not exceed %d characters", maxNameLength)
		}
		if h.StartAt == nil {
			add(field+".startAt", "is required")
			continue
		}
		if h.EndAt != nil && h.StartAt.After(*h.EndAt) {
			add(field+".startAt", "must be before or equal to endAt")
		}
		if h.StartAt.After(limit) {
			add(field+".startAt", "cannot be more than 1 year in the future")
		}
	}

	// 가격 데이터
	for i, p := range e.Prices {
		errs = append(errs, validatePrice(fmt.Sprintf("priceData[%d]", i), p)...)
	}

	if len(errs) == 0 {
		return nil
	}
	return &contracts.ValidationError{ISIN: e.ISIN, Fields: errs}
}

func validatePrice(prefix string, p contracts.DailyPrice) []contracts.FieldError {
	var errs []contracts.FieldError
	add := func(field, reason string) {
		errs = append(errs, contracts.FieldError{Field: prefix + "." + field, Reason: reason})
	}

	if p.BaseDate == nil {
		add("baseDate", "is required")
	}

	prices := []struct {
		field string
		value decimal.NullDecimal
	}{
		{"openPrice", p.Open},
		{"closePrice", p.Close},
		{"highPrice", p.High},
		{"lowPrice", p.Low},
	}
	for _, pr := range prices {
		if pr.value.Valid && pr.value.Decimal.IsNegative() {
			add(pr.field, "cannot be negative")
		}
	}

	// 0 은 값 없음으로 보고 관계 검증에서 제외
	positive := func(d decimal.NullDecimal) bool { return d.Valid && d.Decimal.IsPositive() }
	if positive(p.High) && positive(p.Low) && p.High.Decimal.LessThan(p.Low.Decimal) {
		add("highPrice", "must be greater than or equal to lowPrice")
	}
	if positive(p.High) && positive(p.Open) && p.High.Decimal.LessThan(p.Open.Decimal) {
		add("highPrice", "must be greater than or equal to openPrice")
	}
	if positive(p.High) && positive(p.Close) && p.High.Decimal.LessThan(p.Close.Decimal) {
		add("highPrice", "must be greater than or equal to closePrice")
	}
	if positive(p.Low) && positive(p.Open) && p.Low.Decimal.GreaterThan(p.Open.Decimal) {
		add("lowPrice", "must be less than or equal to openPrice")
	}
	if positive(p.Low) && positive(p.Close) && p.Low.Decimal.GreaterThan(p.Close.Decimal) {
		add("lowPrice", "must be less than or equal to closePrice")
	}

	counts := []struct {
		field string
		value *int64
	}{
		{"tradeQuantity", p.TradeQuantity},
		{"tradeAmount", p.TradeAmount},
		{"issuedCount", p.IssuedCount},
	}
	for _, c := range counts {
		if c.value != nil && *c.value < 0 {
			add(c.field, "cannot be negative")
		}
	}
	return errs
}
