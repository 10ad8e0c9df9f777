// Package pgstore implements store.Store on PostgreSQL (pgx).
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/database"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store
// ⭐ SSOT: 배치 테이블 접근은 여기서만
type Store struct {
	reader
	db     *database.DB
	logger *logger.Logger
}

// New creates a PostgreSQL-backed store
func New(db *database.DB, log *logger.Logger) *Store {
	return &Store{
		reader: reader{q: db.Pool},
		db:     db,
		logger: log.WithField("module", "pgstore"),
	}
}

// Migrate creates the schema if missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("Schema applied")
	return nil
}

// WithTx runs fn in one database transaction
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.WithTx(ctx, func(ptx pgx.Tx) error {
		return fn(&txStore{reader: reader{q: ptx}, tx: ptx})
	})
}

// Close closes the underlying pool
func (s *Store) Close() {
	s.db.Close()
}

type reader struct {
	q querier
}

const instrumentColumns = `id, isin_code, name, COALESCE(short_code, ''), COALESCE(market_category, ''), kind, start_at, end_at`

func scanInstrument(row pgx.Row) (*contracts.Instrument, error) {
	var inst contracts.Instrument
	var kind string
	err := row.Scan(&inst.ID, &inst.ISIN, &inst.Name, &inst.ShortCode, &inst.MarketCategory, &kind, &inst.StartAt, &inst.EndAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	inst.Kind = contracts.Kind(kind)
	return &inst, nil
}

func (r reader) Instrument(ctx context.Context, id int64) (*contracts.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE id = $1`
	inst, err := scanInstrument(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("instrument %d: %w", id, err)
	}
	return inst, nil
}

func (r reader) InstrumentByISIN(ctx context.Context, isin string) (*contracts.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE isin_code = $1`
	inst, err := scanInstrument(r.q.QueryRow(ctx, query, isin))
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", isin, err)
	}
	return inst, nil
}

func (r reader) NameIntervals(ctx context.Context, instrumentID int64) ([]contracts.NameInterval, error) {
	query := `
		SELECT id, instrument_id, name, start_at, end_at
		FROM name_intervals
		WHERE instrument_id = $1
		ORDER BY start_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("query name intervals: %w", err)
	}
	defer rows.Close()

	var out []contracts.NameInterval
	for rows.Next() {
		var iv contracts.NameInterval
		if err := rows.Scan(&iv.ID, &iv.InstrumentID, &iv.Name, &iv.StartAt, &iv.EndAt); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (r reader) PricesInPeriod(ctx context.Context, instrumentID int64, p contracts.Period) ([]contracts.PriceRecord, error) {
	query := `
		SELECT instrument_id, base_date, open_price, high_price, low_price, close_price,
		       trade_quantity, trade_amount, issued_count
		FROM price_records
		WHERE instrument_id = $1 AND base_date BETWEEN $2 AND $3
		ORDER BY base_date ASC
	`

	rows, err := r.q.Query(ctx, query, instrumentID, p.First(), p.Last())
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []contracts.PriceRecord
	for rows.Next() {
		var rec contracts.PriceRecord
		if err := rows.Scan(
			&rec.InstrumentID, &rec.BaseDate,
			&rec.Open, &rec.High, &rec.Low, &rec.Close,
			&rec.TradeQuantity, &rec.TradeAmount, &rec.IssuedCount,
		); err != nil {
			return nil, err
		}
		rec.BaseDate = contracts.Day(rec.BaseDate)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r reader) InstrumentsWithPrices(ctx context.Context, p contracts.Period) ([]int64, error) {
	query := `
		SELECT DISTINCT instrument_id
		FROM price_records
		WHERE base_date BETWEEN $1 AND $2
		ORDER BY instrument_id ASC
	`

	rows, err := r.q.Query(ctx, query, p.First(), p.Last())
	if err != nil {
		return nil, fmt.Errorf("query instruments with prices: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const aggregateColumns = `instrument_id, period, method, start_price, end_price, average_price, rate_of_return, days, updated_at`

func scanAggregate(row pgx.Row) (contracts.MonthlyAggregate, error) {
	var agg contracts.MonthlyAggregate
	var period time.Time
	err := row.Scan(
		&agg.InstrumentID, &period, &agg.Method,
		&agg.StartPrice, &agg.EndPrice, &agg.AveragePrice, &agg.RateOfReturn,
		&agg.Days, &agg.UpdatedAt,
	)
	agg.Period = contracts.PeriodOf(period)
	return agg, err
}

func (r reader) Aggregate(ctx context.Context, instrumentID int64, p contracts.Period) (*contracts.MonthlyAggregate, error) {
	query := `SELECT ` + aggregateColumns + ` FROM monthly_aggregates WHERE instrument_id = $1 AND period = $2`
	agg, err := scanAggregate(r.q.QueryRow(ctx, query, instrumentID, p.First()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = contracts.ErrNotFound
		}
		return nil, fmt.Errorf("aggregate %d/%s: %w", instrumentID, p, err)
	}
	return &agg, nil
}

func (r reader) Aggregates(ctx context.Context, instrumentID int64, from, to contracts.Period) ([]contracts.MonthlyAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM monthly_aggregates
		WHERE ($1::bigint = 0 OR instrument_id = $1) AND period BETWEEN $2 AND $3
		ORDER BY instrument_id ASC, period ASC
	`

	rows, err := r.q.Query(ctx, query, instrumentID, from.First(), to.First())
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var out []contracts.MonthlyAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// txStore implements store.Tx on a pgx transaction
type txStore struct {
	reader
	tx pgx.Tx
}

// LockInstrument: 커밋까지 행 잠금 (다른 프로세스의 동시 식별정보 변경 차단)
func (t *txStore) LockInstrument(ctx context.Context, id int64) error {
	var locked int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM instruments WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("instrument %d: %w", id, contracts.ErrNotFound)
		}
		return fmt.Errorf("lock instrument %d: %w", id, err)
	}
	return nil
}

func (t *txStore) CreateInstrument(ctx context.Context, inst *contracts.Instrument) error {
	query := `
		INSERT INTO instruments (isin_code, name, short_code, market_category, kind, start_at, end_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (isin_code) DO NOTHING
		RETURNING id
	`

	err := t.tx.QueryRow(ctx, query,
		inst.ISIN, inst.Name, inst.ShortCode, inst.MarketCategory, string(inst.Kind), inst.StartAt, inst.EndAt,
	).Scan(&inst.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("instrument %s already exists: %w", inst.ISIN, contracts.ErrConcurrencyConflict)
		}
		return fmt.Errorf("insert instrument: %w", err)
	}
	return nil
}

func (t *txStore) UpdateInstrument(ctx context.Context, inst contracts.Instrument) error {
	query := `
		UPDATE instruments SET
			name = $2,
			short_code = NULLIF($3, ''),
			market_category = NULLIF($4, ''),
			kind = $5,
			start_at = $6,
			end_at = $7,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := t.tx.Exec(ctx, query,
		inst.ID, inst.Name, inst.ShortCode, inst.MarketCategory, string(inst.Kind), inst.StartAt, inst.EndAt,
	)
	if err != nil {
		return fmt.Errorf("update instrument: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %d: %w", inst.ID, contracts.ErrNotFound)
	}
	return nil
}

func (t *txStore) InsertPrice(ctx context.Context, rec contracts.PriceRecord) (bool, error) {
	query := `
		INSERT INTO price_records
			(instrument_id, base_date, open_price, high_price, low_price, close_price,
			 trade_quantity, trade_amount, issued_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instrument_id, base_date) DO NOTHING
	`

	tag, err := t.tx.Exec(ctx, query,
		rec.InstrumentID, contracts.Day(rec.BaseDate),
		nullDecimal(rec.Open), nullDecimal(rec.High), nullDecimal(rec.Low), nullDecimal(rec.Close),
		rec.TradeQuantity, rec.TradeAmount, rec.IssuedCount,
	)
	if err != nil {
		return false, fmt.Errorf("insert price: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txStore) InsertNameInterval(ctx context.Context, iv *contracts.NameInterval) error {
	query := `
		INSERT INTO name_intervals (instrument_id, name, start_at, end_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	if err := t.tx.QueryRow(ctx, query, iv.InstrumentID, iv.Name, iv.StartAt, iv.EndAt).Scan(&iv.ID); err != nil {
		return fmt.Errorf("insert name interval: %w", err)
	}
	return nil
}

func (t *txStore) UpdateNameInterval(ctx context.Context, iv contracts.NameInterval) error {
	query := `UPDATE name_intervals SET name = $2, start_at = $3, end_at = $4 WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, iv.ID, iv.Name, iv.StartAt, iv.EndAt)
	if err != nil {
		return fmt.Errorf("update name interval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("name interval %d: %w", iv.ID, contracts.ErrNotFound)
	}
	return nil
}

func (t *txStore) UpsertAggregate(ctx context.Context, agg contracts.MonthlyAggregate) (bool, error) {
	query := `
		INSERT INTO monthly_aggregates
			(instrument_id, period, method, start_price, end_price, average_price, rate_of_return, days, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (instrument_id, period) DO UPDATE SET
			method = EXCLUDED.method,
			start_price = EXCLUDED.start_price,
			end_price = EXCLUDED.end_price,
			average_price = EXCLUDED.average_price,
			rate_of_return = EXCLUDED.rate_of_return,
			days = EXCLUDED.days,
			updated_at = now()
		RETURNING (xmax <> 0) AS replaced
	`

	var replaced bool
	err := t.tx.QueryRow(ctx, query,
		agg.InstrumentID, agg.Period.First(), agg.Method,
		agg.StartPrice, agg.EndPrice, agg.AveragePrice, agg.RateOfReturn, agg.Days,
	).Scan(&replaced)
	if err != nil {
		return false, fmt.Errorf("upsert aggregate: %w", err)
	}
	return replaced, nil
}

// nullDecimal maps an invalid NullDecimal to SQL NULL
func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*txStore)(nil)
)
