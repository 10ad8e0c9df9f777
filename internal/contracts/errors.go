package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// ⭐ SSOT: 배치 에러 분류는 여기서만

var (
	// ErrNotFound is returned by stores when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRun: 같은 fingerprint 의 작업이 이미 실행 중
	ErrDuplicateRun = errors.New("duplicate run: fingerprint already in flight")

	// ErrInvalidTransition is returned for an illegal job state change
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrConcurrencyConflict signals a lost-update risk on instrument identity.
	// Keyed locking prevents it; stores return it only if serialization was bypassed.
	ErrConcurrencyConflict = errors.New("concurrent modification of instrument")
)

// FieldError is one offending field with a human-readable reason
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Reason
}

// ValidationError collects every field-level failure of one import entry
type ValidationError struct {
	ISIN   string       `json:"isin_code"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("validation failed for %s: %s", e.ISIN, strings.Join(parts, ", "))
}

// AggregationError signals undefined arithmetic for one (instrument, period)
type AggregationError struct {
	InstrumentID int64  `json:"instrument_id"`
	Period       Period `json:"period"`
	Reason       string `json:"reason"`
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed for instrument %d period %s: %s", e.InstrumentID, e.Period, e.Reason)
}

// ImportError is a structurally invalid import document; fatal for that file only
type ImportError struct {
	File  string
	Cause error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("invalid import file %s: %v", e.File, e.Cause)
}

func (e *ImportError) Unwrap() error {
	return e.Cause
}
