// Package ingest merges validated import entries into instruments, price history and
// name intervals, one chunk per store transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/identity"
	"github.com/ChaneHaDa/stock-batch-server/internal/metrics"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// Policy decides what a validation failure does to its chunk
type Policy string

const (
	// PolicyAbortChunk rejects the whole chunk when any entry is invalid (default)
	PolicyAbortChunk Policy = "abort_chunk"
	// PolicySkipItem drops invalid entries and commits the rest
	PolicySkipItem Policy = "skip_item"
)

// ChunkResult summarizes one committed (or rejected) chunk
type ChunkResult struct {
	Entries            int                          `json:"entries"`
	InstrumentsCreated int                          `json:"instruments_created"`
	InstrumentsUpdated int                          `json:"instruments_updated"`
	PricesInserted     int                          `json:"prices_inserted"`
	PricesSkipped      int                          `json:"prices_skipped"` // 이미 존재 (DuplicateSkip)
	NameChanges        int                          `json:"name_changes"`
	IntervalsAdded     int                          `json:"intervals_added"`
	IntervalsExtended  int                          `json:"intervals_extended"`
	IntervalConflicts  int                          `json:"interval_conflicts"`
	Invalid            []*contracts.ValidationError `json:"invalid,omitempty"`
}

// Add accumulates o into r
func (r *ChunkResult) Add(o ChunkResult) {
	r.Entries += o.Entries
	r.InstrumentsCreated += o.InstrumentsCreated
	r.InstrumentsUpdated += o.InstrumentsUpdated
	r.PricesInserted += o.PricesInserted
	r.PricesSkipped += o.PricesSkipped
	r.NameChanges += o.NameChanges
	r.IntervalsAdded += o.IntervalsAdded
	r.IntervalsExtended += o.IntervalsExtended
	r.IntervalConflicts += o.IntervalConflicts
	r.Invalid = append(r.Invalid, o.Invalid...)
}

// Ingestor is the price ingestion step
// ⭐ SSOT: 종목/가격 upsert 는 여기서만
type Ingestor struct {
	resolver  *identity.Resolver
	validator *Validator
	locks     *KeyedLocks
	policy    Policy
	today     func() time.Time
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewIngestor creates an ingestor. today returns the current calendar date in the batch timezone.
func NewIngestor(resolver *identity.Resolver, locks *KeyedLocks, policy Policy, today func() time.Time, m *metrics.Metrics, log *logger.Logger) *Ingestor {
	if policy == "" {
		policy = PolicyAbortChunk
	}
	return &Ingestor{
		resolver:  resolver,
		validator: NewValidator(today),
		locks:     locks,
		policy:    policy,
		today:     today,
		metrics:   m,
		logger:    log.WithField("module", "ingest"),
	}
}

// IngestChunk validates entries and writes them in one transaction.
// Under PolicyAbortChunk any invalid entry fails the chunk before anything is written;
// the returned error wraps every *contracts.ValidationError.
func (i *Ingestor) IngestChunk(ctx context.Context, st store.Store, entries []contracts.ImportEntry) (ChunkResult, error) {
	res := ChunkResult{Entries: len(entries)}

	valid := make([]contracts.ImportEntry, 0, len(entries))
	var invalidErrs []error
	for _, e := range entries {
		if err := i.validator.Validate(e); err != nil {
			var ve *contracts.ValidationError
			if errors.As(err, &ve) {
				res.Invalid = append(res.Invalid, ve)
			}
			invalidErrs = append(invalidErrs, fmt.Errorf("%s: %w", e.Source, err))
			continue
		}
		valid = append(valid, e)
	}

	if len(invalidErrs) > 0 {
		i.countValidationFailures(len(invalidErrs))
		if i.policy == PolicyAbortChunk {
			return res, errors.Join(invalidErrs...)
		}
		i.logger.WithFields(map[string]interface{}{
			"skipped": len(invalidErrs),
			"error":   errors.Join(invalidErrs...).Error(),
		}).Warn("Invalid entries skipped")
	}

	if len(valid) == 0 {
		return res, nil
	}

	keys := make([]string, len(valid))
	for idx, e := range valid {
		keys[idx] = e.ISIN
	}
	unlock := i.locks.LockAll(keys)
	defer unlock()

	today := contracts.Day(i.today())
	var written ChunkResult
	err := st.WithTx(ctx, func(tx store.Tx) error {
		written = ChunkResult{}
		for _, e := range valid {
			if err := i.ingestEntry(ctx, tx, e, today, &written); err != nil {
				return fmt.Errorf("%s (%s): %w", e.Source, e.ISIN, err)
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	written.Entries = res.Entries
	written.Invalid = res.Invalid
	i.record(written)
	return written, nil
}

// ingestEntry: 종목 조회/생성 → 이력 정합 → 명칭 변경 감지 → 가격 append
func (i *Ingestor) ingestEntry(ctx context.Context, tx store.Tx, e contracts.ImportEntry, today time.Time, res *ChunkResult) error {
	incoming := e.Instrument()

	inst, err := tx.InstrumentByISIN(ctx, e.ISIN)
	created := false
	var storedName string

	switch {
	case errors.Is(err, contracts.ErrNotFound):
		fresh := incoming
		if fresh.StartAt == nil {
			fresh.StartAt = &today
		}
		if fresh.Kind == "" {
			fresh.Kind = contracts.KindEquity
		}
		if err := tx.CreateInstrument(ctx, &fresh); err != nil {
			return err
		}
		inst = &fresh
		storedName = fresh.Name
		created = true
		res.InstrumentsCreated++

	case err != nil:
		return fmt.Errorf("find instrument: %w", err)

	default:
		if err := tx.LockInstrument(ctx, inst.ID); err != nil {
			return err
		}
		storedName = inst.Name
		merged := contracts.Merge(*inst, incoming)
		if !sameInstrument(*inst, merged) {
			if err := tx.UpdateInstrument(ctx, merged); err != nil {
				return err
			}
			res.InstrumentsUpdated++
		}
		inst = &merged
	}

	rec, err := i.resolver.ReconcileHistoricalIntervals(ctx, tx, inst.ID, e.NameHistory)
	if err != nil {
		return fmt.Errorf("reconcile name history: %w", err)
	}
	res.IntervalsAdded += rec.Added
	res.IntervalsExtended += rec.Extended
	res.IntervalConflicts += rec.Conflicts

	if created {
		if _, err := i.resolver.EnsureInitial(ctx, tx, inst.ID, inst.Name, today); err != nil {
			return fmt.Errorf("open initial name interval: %w", err)
		}
	}

	action, err := i.resolver.ResolveNameChange(ctx, tx, inst.ID, storedName, inst.Name, today)
	if err != nil {
		return fmt.Errorf("resolve name change: %w", err)
	}
	if action == identity.ActionRolled || action == identity.ActionRenamed || action == identity.ActionOpened {
		res.NameChanges++
	}

	for _, p := range e.Prices {
		inserted, err := tx.InsertPrice(ctx, p.Record(inst.ID))
		if err != nil {
			return err
		}
		if inserted {
			res.PricesInserted++
		} else {
			res.PricesSkipped++
		}
	}
	return nil
}

func (i *Ingestor) countValidationFailures(n int) {
	if i.metrics != nil {
		i.metrics.ValidationFailures.Add(float64(n))
	}
}

func (i *Ingestor) record(r ChunkResult) {
	if i.metrics == nil {
		return
	}
	i.metrics.PricesInserted.Add(float64(r.PricesInserted))
	i.metrics.PricesSkipped.Add(float64(r.PricesSkipped))
	i.metrics.InstrumentsCreated.Add(float64(r.InstrumentsCreated))
	i.metrics.NameChanges.Add(float64(r.NameChanges))
}

func sameInstrument(a, b contracts.Instrument) bool {
	return a.Name == b.Name &&
		a.ShortCode == b.ShortCode &&
		a.MarketCategory == b.MarketCategory &&
		a.Kind == b.Kind &&
		sameDate(a.StartAt, b.StartAt) &&
		sameDate(a.EndAt, b.EndAt)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
