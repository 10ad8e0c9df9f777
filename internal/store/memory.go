package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

type priceKey struct {
	instrumentID int64
	day          time.Time
}

type aggKey struct {
	instrumentID int64
	period       contracts.Period
}

// Memory is an in-process Store.
// 트랜잭션은 단일 writer 락 + undo 로그로 롤백
type Memory struct {
	mu sync.RWMutex

	nextInstrumentID int64
	nextIntervalID   int64

	instruments map[int64]contracts.Instrument
	byISIN      map[string]int64
	prices      map[priceKey]contracts.PriceRecord
	intervals   map[int64][]contracts.NameInterval
	aggregates  map[aggKey]contracts.MonthlyAggregate
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		instruments: make(map[int64]contracts.Instrument),
		byISIN:      make(map[string]int64),
		prices:      make(map[priceKey]contracts.PriceRecord),
		intervals:   make(map[int64][]contracts.NameInterval),
		aggregates:  make(map[aggKey]contracts.MonthlyAggregate),
	}
}

// Close is a no-op
func (m *Memory) Close() {}

// WithTx runs fn holding the write lock
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.done = true
	return nil
}

func (m *Memory) Instrument(ctx context.Context, id int64) (*contracts.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instrument(id)
}

func (m *Memory) InstrumentByISIN(ctx context.Context, isin string) (*contracts.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instrumentByISIN(isin)
}

func (m *Memory) NameIntervals(ctx context.Context, instrumentID int64) ([]contracts.NameInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nameIntervals(instrumentID), nil
}

func (m *Memory) PricesInPeriod(ctx context.Context, instrumentID int64, p contracts.Period) ([]contracts.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pricesInPeriod(instrumentID, p), nil
}

func (m *Memory) InstrumentsWithPrices(ctx context.Context, p contracts.Period) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instrumentsWithPrices(p), nil
}

func (m *Memory) Aggregate(ctx context.Context, instrumentID int64, p contracts.Period) (*contracts.MonthlyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregate(instrumentID, p)
}

func (m *Memory) Aggregates(ctx context.Context, instrumentID int64, from, to contracts.Period) ([]contracts.MonthlyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregatesBetween(instrumentID, from, to), nil
}

// unlocked helpers, shared with memTx

func (m *Memory) instrument(id int64) (*contracts.Instrument, error) {
	inst, ok := m.instruments[id]
	if !ok {
		return nil, fmt.Errorf("instrument %d: %w", id, contracts.ErrNotFound)
	}
	return &inst, nil
}

func (m *Memory) instrumentByISIN(isin string) (*contracts.Instrument, error) {
	id, ok := m.byISIN[isin]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", isin, contracts.ErrNotFound)
	}
	return m.instrument(id)
}

func (m *Memory) nameIntervals(instrumentID int64) []contracts.NameInterval {
	src := m.intervals[instrumentID]
	out := make([]contracts.NameInterval, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (m *Memory) pricesInPeriod(instrumentID int64, p contracts.Period) []contracts.PriceRecord {
	var out []contracts.PriceRecord
	for k, rec := range m.prices {
		if k.instrumentID == instrumentID && p.Contains(k.day) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseDate.Before(out[j].BaseDate) })
	return out
}

func (m *Memory) instrumentsWithPrices(p contracts.Period) []int64 {
	seen := make(map[int64]struct{})
	for k := range m.prices {
		if p.Contains(k.day) {
			seen[k.instrumentID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Memory) aggregate(instrumentID int64, p contracts.Period) (*contracts.MonthlyAggregate, error) {
	agg, ok := m.aggregates[aggKey{instrumentID, p}]
	if !ok {
		return nil, fmt.Errorf("aggregate %d/%s: %w", instrumentID, p, contracts.ErrNotFound)
	}
	return &agg, nil
}

func (m *Memory) aggregatesBetween(instrumentID int64, from, to contracts.Period) []contracts.MonthlyAggregate {
	var out []contracts.MonthlyAggregate
	for k, agg := range m.aggregates {
		if instrumentID != 0 && k.instrumentID != instrumentID {
			continue
		}
		if k.period.Before(from) || to.Before(k.period) {
			continue
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InstrumentID != out[j].InstrumentID {
			return out[i].InstrumentID < out[j].InstrumentID
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out
}

// memTx mutates Memory directly and records an undo step per write
type memTx struct {
	m    *Memory
	undo []func()
	done bool
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.done = true
}

func (t *memTx) check(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	return ctx.Err()
}

func (t *memTx) Instrument(ctx context.Context, id int64) (*contracts.Instrument, error) {
	return t.m.instrument(id)
}

func (t *memTx) InstrumentByISIN(ctx context.Context, isin string) (*contracts.Instrument, error) {
	return t.m.instrumentByISIN(isin)
}

func (t *memTx) NameIntervals(ctx context.Context, instrumentID int64) ([]contracts.NameInterval, error) {
	return t.m.nameIntervals(instrumentID), nil
}

func (t *memTx) PricesInPeriod(ctx context.Context, instrumentID int64, p contracts.Period) ([]contracts.PriceRecord, error) {
	return t.m.pricesInPeriod(instrumentID, p), nil
}

func (t *memTx) InstrumentsWithPrices(ctx context.Context, p contracts.Period) ([]int64, error) {
	return t.m.instrumentsWithPrices(p), nil
}

func (t *memTx) Aggregate(ctx context.Context, instrumentID int64, p contracts.Period) (*contracts.MonthlyAggregate, error) {
	return t.m.aggregate(instrumentID, p)
}

func (t *memTx) Aggregates(ctx context.Context, instrumentID int64, from, to contracts.Period) ([]contracts.MonthlyAggregate, error) {
	return t.m.aggregatesBetween(instrumentID, from, to), nil
}

// LockInstrument: 메모리 스토어는 트랜잭션 전체가 이미 배타적
func (t *memTx) LockInstrument(ctx context.Context, id int64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	_, err := t.m.instrument(id)
	return err
}

func (t *memTx) CreateInstrument(ctx context.Context, inst *contracts.Instrument) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, exists := t.m.byISIN[inst.ISIN]; exists {
		return fmt.Errorf("instrument %s already exists: %w", inst.ISIN, contracts.ErrConcurrencyConflict)
	}

	t.m.nextInstrumentID++
	inst.ID = t.m.nextInstrumentID
	t.m.instruments[inst.ID] = *inst
	t.m.byISIN[inst.ISIN] = inst.ID

	id, isin := inst.ID, inst.ISIN
	t.undo = append(t.undo, func() {
		delete(t.m.instruments, id)
		delete(t.m.byISIN, isin)
		t.m.nextInstrumentID--
	})
	return nil
}

func (t *memTx) UpdateInstrument(ctx context.Context, inst contracts.Instrument) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	prev, ok := t.m.instruments[inst.ID]
	if !ok {
		return fmt.Errorf("instrument %d: %w", inst.ID, contracts.ErrNotFound)
	}
	t.m.instruments[inst.ID] = inst
	t.undo = append(t.undo, func() { t.m.instruments[prev.ID] = prev })
	return nil
}

func (t *memTx) InsertPrice(ctx context.Context, rec contracts.PriceRecord) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	key := priceKey{rec.InstrumentID, contracts.Day(rec.BaseDate)}
	if _, exists := t.m.prices[key]; exists {
		return false, nil
	}
	rec.BaseDate = key.day
	t.m.prices[key] = rec
	t.undo = append(t.undo, func() { delete(t.m.prices, key) })
	return true, nil
}

func (t *memTx) InsertNameInterval(ctx context.Context, iv *contracts.NameInterval) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.m.nextIntervalID++
	iv.ID = t.m.nextIntervalID

	id := iv.InstrumentID
	prev := t.m.intervals[id]
	next := make([]contracts.NameInterval, len(prev), len(prev)+1)
	copy(next, prev)
	t.m.intervals[id] = append(next, *iv)

	t.undo = append(t.undo, func() {
		t.m.intervals[id] = prev
		t.m.nextIntervalID--
	})
	return nil
}

func (t *memTx) UpdateNameInterval(ctx context.Context, iv contracts.NameInterval) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	prev := t.m.intervals[iv.InstrumentID]
	for i := range prev {
		if prev[i].ID != iv.ID {
			continue
		}
		next := make([]contracts.NameInterval, len(prev))
		copy(next, prev)
		next[i] = iv
		t.m.intervals[iv.InstrumentID] = next
		t.undo = append(t.undo, func() { t.m.intervals[iv.InstrumentID] = prev })
		return nil
	}
	return fmt.Errorf("name interval %d: %w", iv.ID, contracts.ErrNotFound)
}

func (t *memTx) UpsertAggregate(ctx context.Context, agg contracts.MonthlyAggregate) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	key := aggKey{agg.InstrumentID, agg.Period}
	prev, existed := t.m.aggregates[key]
	t.m.aggregates[key] = agg
	t.undo = append(t.undo, func() {
		if existed {
			t.m.aggregates[key] = prev
		} else {
			delete(t.m.aggregates, key)
		}
	})
	return existed, nil
}

var _ Store = (*Memory)(nil)
