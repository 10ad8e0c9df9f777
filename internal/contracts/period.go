package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Period is a calendar month, represented by its first day
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates year and month (1-12)
func NewPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("month must be between 1 and 12, got %d", month)
	}
	if year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("year out of range: %d", year)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// PeriodOf returns the month containing t
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "2006-01"
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return PeriodOf(t), nil
}

// First is the first day of the month (UTC midnight)
func (p Period) First() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Last is the last day of the month
func (p Period) Last() time.Time {
	return p.First().AddDate(0, 1, -1)
}

// Next returns the following month
func (p Period) Next() Period {
	return PeriodOf(p.First().AddDate(0, 1, 0))
}

// Prev returns the preceding month
func (p Period) Prev() Period {
	return PeriodOf(p.First().AddDate(0, -1, 0))
}

// Before orders periods chronologically
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// Contains reports whether day falls in the month
func (p Period) Contains(day time.Time) bool {
	return day.Year() == p.Year && day.Month() == p.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalJSON encodes as "2006-01"
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes "2006-01"
func (p *Period) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Months decomposes the inclusive [start, end] date range into its calendar months, ascending.
func Months(start, end time.Time) ([]Period, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s is before start date %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	var out []Period
	last := PeriodOf(end)
	for p := PeriodOf(start); !last.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out, nil
}

// DateLayout is the ISO calendar date layout used on the API and CLI
const DateLayout = "2006-01-02"

// BasDtLayout is the data portal base date layout (yyyyMMdd)
const BasDtLayout = "20060102"

// Day truncates t to its calendar date in t's location, returned as UTC midnight
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses "2006-01-02" as a UTC calendar date
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
