// Package store defines the persistence boundary of the batch pipeline.
//
// Writes only happen inside WithTx: one call is one chunk, committed atomically.
// Child rows (prices, name intervals, aggregates) carry the parent instrument ID only.
package store

import (
	"context"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

// Reader is the read side shared by Store and Tx
type Reader interface {
	Instrument(ctx context.Context, id int64) (*contracts.Instrument, error)
	InstrumentByISIN(ctx context.Context, isin string) (*contracts.Instrument, error)

	// NameIntervals returns the instrument's intervals sorted by start ascending
	NameIntervals(ctx context.Context, instrumentID int64) ([]contracts.NameInterval, error)

	// PricesInPeriod returns the instrument's records in p sorted by date ascending
	PricesInPeriod(ctx context.Context, instrumentID int64, p contracts.Period) ([]contracts.PriceRecord, error)

	// InstrumentsWithPrices lists instrument IDs (ascending) with at least one record in p
	InstrumentsWithPrices(ctx context.Context, p contracts.Period) ([]int64, error)

	Aggregate(ctx context.Context, instrumentID int64, p contracts.Period) (*contracts.MonthlyAggregate, error)

	// Aggregates lists aggregates in [from, to]; instrumentID 0 means all instruments.
	// Ordered by instrument, then period.
	Aggregates(ctx context.Context, instrumentID int64, from, to contracts.Period) ([]contracts.MonthlyAggregate, error)
}

// Tx is one unit of work
type Tx interface {
	Reader

	// LockInstrument serializes identity mutation of one instrument until commit
	LockInstrument(ctx context.Context, id int64) error

	CreateInstrument(ctx context.Context, inst *contracts.Instrument) error
	UpdateInstrument(ctx context.Context, inst contracts.Instrument) error

	// InsertPrice appends rec; inserted is false when (instrument, date) already exists
	InsertPrice(ctx context.Context, rec contracts.PriceRecord) (inserted bool, err error)

	InsertNameInterval(ctx context.Context, iv *contracts.NameInterval) error
	UpdateNameInterval(ctx context.Context, iv contracts.NameInterval) error

	// UpsertAggregate replaces the (instrument, period) row; replaced reports a prior row existed
	UpsertAggregate(ctx context.Context, agg contracts.MonthlyAggregate) (replaced bool, err error)
}

// Store is the persistence root
// ⭐ SSOT: 트랜잭션 경계는 WithTx 로만
type Store interface {
	Reader

	// WithTx commits when fn returns nil, rolls back otherwise
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close()
}
