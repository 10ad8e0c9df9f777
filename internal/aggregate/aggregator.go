package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/metrics"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// ChunkResult summarizes one aggregation chunk
type ChunkResult struct {
	Instruments int                           `json:"instruments"`
	Written     int                           `json:"written"`
	Replaced    int                           `json:"replaced"`
	ByMethod    map[string]int                `json:"by_method,omitempty"`
	Failed      []*contracts.AggregationError `json:"failed,omitempty"`
}

// Add accumulates o into r
func (r *ChunkResult) Add(o ChunkResult) {
	r.Instruments += o.Instruments
	r.Written += o.Written
	r.Replaced += o.Replaced
	for m, n := range o.ByMethod {
		if r.ByMethod == nil {
			r.ByMethod = make(map[string]int)
		}
		r.ByMethod[m] += n
	}
	r.Failed = append(r.Failed, o.Failed...)
}

// Err joins the per-instrument failures, nil when there are none
func (r ChunkResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Aggregator is the monthly aggregation step
// ⭐ SSOT: 월별 집계 upsert 는 여기서만
type Aggregator struct {
	methods map[contracts.Kind]Method
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewAggregator creates an aggregator with one named method per instrument kind
func NewAggregator(equity, index Method, m *metrics.Metrics, log *logger.Logger) *Aggregator {
	if equity == "" {
		equity = MethodFirstLastClose
	}
	if index == "" {
		index = MethodFirstLastClose
	}
	return &Aggregator{
		methods: map[contracts.Kind]Method{
			contracts.KindEquity: equity,
			contracts.KindIndex:  index,
		},
		metrics: m,
		logger:  log.WithField("module", "aggregate"),
	}
}

// MethodFor returns the method used for kind
func (a *Aggregator) MethodFor(kind contracts.Kind) Method {
	if m, ok := a.methods[kind]; ok {
		return m
	}
	return a.methods[contracts.KindEquity]
}

// Aggregate computes and upserts the aggregate of one instrument inside tx.
// An *contracts.AggregationError leaves the stored aggregate untouched.
func (a *Aggregator) Aggregate(ctx context.Context, tx store.Tx, instrumentID int64, p contracts.Period) (agg contracts.MonthlyAggregate, replaced bool, err error) {
	inst, err := tx.Instrument(ctx, instrumentID)
	if err != nil {
		return agg, false, fmt.Errorf("load instrument %d: %w", instrumentID, err)
	}

	records, err := tx.PricesInPeriod(ctx, instrumentID, p)
	if err != nil {
		return agg, false, fmt.Errorf("load prices: %w", err)
	}

	agg, err = Compute(a.MethodFor(inst.Kind), instrumentID, p, records)
	if err != nil {
		return agg, false, err
	}

	replaced, err = tx.UpsertAggregate(ctx, agg)
	if err != nil {
		return agg, false, fmt.Errorf("upsert aggregate: %w", err)
	}
	return agg, replaced, nil
}

// AggregateChunk aggregates ids for period p in one transaction.
// AggregationErrors are collected in the result and do not fail the chunk;
// any other error rolls the chunk back.
func (a *Aggregator) AggregateChunk(ctx context.Context, st store.Store, ids []int64, p contracts.Period) (ChunkResult, error) {
	var res ChunkResult
	err := st.WithTx(ctx, func(tx store.Tx) error {
		res = ChunkResult{Instruments: len(ids)}
		for _, id := range ids {
			if err := a.aggregateInto(ctx, tx, id, p, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ChunkResult{Instruments: len(ids)}, err
	}

	a.record(res)
	return res, nil
}

// AggregateInstrumentRange recomputes one instrument over [from, to] in ascending period order,
// one transaction per period.
func (a *Aggregator) AggregateInstrumentRange(ctx context.Context, st store.Store, instrumentID int64, from, to contracts.Period) (ChunkResult, error) {
	var total ChunkResult
	for p := from; !to.Before(p); p = p.Next() {
		var res ChunkResult
		err := st.WithTx(ctx, func(tx store.Tx) error {
			res = ChunkResult{Instruments: 1}
			return a.aggregateInto(ctx, tx, instrumentID, p, &res)
		})
		if err != nil {
			return total, fmt.Errorf("period %s: %w", p, err)
		}
		a.record(res)
		total.Add(res)
	}
	return total, nil
}

func (a *Aggregator) aggregateInto(ctx context.Context, tx store.Tx, id int64, p contracts.Period, res *ChunkResult) error {
	agg, replaced, err := a.Aggregate(ctx, tx, id, p)
	var aggErr *contracts.AggregationError
	switch {
	case errors.As(err, &aggErr):
		res.Failed = append(res.Failed, aggErr)
		a.logger.WithFields(map[string]interface{}{
			"instrument_id": id,
			"period":        p.String(),
			"reason":        aggErr.Reason,
		}).Warn("Aggregation skipped")
		return nil
	case err != nil:
		return err
	}

	res.Written++
	if res.ByMethod == nil {
		res.ByMethod = make(map[string]int)
	}
	res.ByMethod[agg.Method]++
	if replaced {
		res.Replaced++
	}
	return nil
}

func (a *Aggregator) record(r ChunkResult) {
	if a.metrics == nil {
		return
	}
	a.metrics.AggregationErrors.Add(float64(len(r.Failed)))
	for method, n := range r.ByMethod {
		a.metrics.AggregatesWritten.WithLabelValues(method).Add(float64(n))
	}
}
