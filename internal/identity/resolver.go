// Package identity maintains the name-interval history of instruments.
//
// Invariant: per instrument at most one interval is open and no two intervals overlap.
// Every mutation here preserves it; callers must hold the instrument's lock (ingest.KeyedLocks)
// and run inside a store transaction.
package identity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/store"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

// Action is the outcome of a name change resolution
type Action string

const (
	ActionNone    Action = "none"    // observed name already valid
	ActionStale   Action = "stale"   // observation predates stored history, ignored
	ActionRenamed Action = "renamed" // open interval started on asOf, renamed in place
	ActionRolled  Action = "rolled"  // open interval closed at asOf-1, new one opened at asOf
	ActionOpened  Action = "opened"  // no open interval, new one opened at asOf
)

// Plan is the pure decision for one observation
type Plan struct {
	Action Action
	Close  *contracts.NameInterval // interval to update (closed or renamed)
	Open   *contracts.NameInterval // interval to insert
}

// CurrentValidName returns the name whose interval covers asOf, else fallback.
// intervals must belong to one instrument.
func CurrentValidName(intervals []contracts.NameInterval, fallback string, asOf time.Time) string {
	day := contracts.Day(asOf)
	var best *contracts.NameInterval
	for i := range intervals {
		iv := &intervals[i]
		if !iv.Covers(day) {
			continue
		}
		if best == nil || iv.StartAt.After(best.StartAt) {
			best = iv
		}
	}
	if best == nil {
		return fallback
	}
	return best.Name
}

// Decide computes the mutation for observing name on asOf
func Decide(intervals []contracts.NameInterval, fallback, observed string, asOf time.Time) Plan {
	day := contracts.Day(asOf)
	if CurrentValidName(intervals, fallback, day) == observed {
		return Plan{Action: ActionNone}
	}

	var open *contracts.NameInterval
	for i := range intervals {
		if intervals[i].IsOpen() && (open == nil || intervals[i].StartAt.After(open.StartAt)) {
			iv := intervals[i]
			open = &iv
		}
	}

	next := &contracts.NameInterval{Name: observed, StartAt: day}

	if open != nil {
		switch {
		case open.StartAt.After(day):
			return Plan{Action: ActionStale}
		case open.StartAt.Equal(day):
			renamed := *open
			renamed.Name = observed
			return Plan{Action: ActionRenamed, Close: &renamed}
		default:
			end := day.AddDate(0, 0, -1)
			closed := *open
			closed.EndAt = &end
			next.InstrumentID = open.InstrumentID
			return Plan{Action: ActionRolled, Close: &closed, Open: next}
		}
	}

	// 열린 구간이 없으면 asOf 이후를 덮는 닫힌 구간과 겹치지 않을 때만 새로 연다
	for _, iv := range intervals {
		if iv.EndAt != nil && !iv.EndAt.Before(day) {
			return Plan{Action: ActionStale}
		}
	}
	return Plan{Action: ActionOpened, Open: next}
}

// Resolver applies name-interval mutations through a store transaction
// ⭐ SSOT: 종목명 이력 변경은 여기서만
type Resolver struct {
	logger *logger.Logger
}

// NewResolver creates a resolver
func NewResolver(log *logger.Logger) *Resolver {
	return &Resolver{
		logger: log.WithField("module", "identity"),
	}
}

// ResolveNameChange records observed as the instrument's name from asOf on.
// storedName is the instrument's name before this import refreshed it.
func (r *Resolver) ResolveNameChange(ctx context.Context, tx store.Tx, instrumentID int64, storedName, observed string, asOf time.Time) (Action, error) {
	intervals, err := tx.NameIntervals(ctx, instrumentID)
	if err != nil {
		return "", fmt.Errorf("load name intervals: %w", err)
	}

	plan := Decide(intervals, storedName, observed, asOf)
	if plan.Close != nil {
		if err := tx.UpdateNameInterval(ctx, *plan.Close); err != nil {
			return "", err
		}
	}
	if plan.Open != nil {
		plan.Open.InstrumentID = instrumentID
		if err := tx.InsertNameInterval(ctx, plan.Open); err != nil {
			return "", err
		}
	}

	switch plan.Action {
	case ActionNone:
	case ActionStale:
		r.logger.WithFields(map[string]interface{}{
			"instrument_id": instrumentID,
			"observed":      observed,
			"as_of":         asOf.Format(contracts.DateLayout),
		}).Warn("Stale name observation ignored")
	default:
		r.logger.WithFields(map[string]interface{}{
			"instrument_id": instrumentID,
			"from":          storedName,
			"to":            observed,
			"action":        string(plan.Action),
			"as_of":         asOf.Format(contracts.DateLayout),
		}).Info("Name change recorded")
	}
	return plan.Action, nil
}

// EnsureInitial opens (name, asOf, open) when the instrument has no history yet
func (r *Resolver) EnsureInitial(ctx context.Context, tx store.Tx, instrumentID int64, name string, asOf time.Time) (bool, error) {
	intervals, err := tx.NameIntervals(ctx, instrumentID)
	if err != nil {
		return false, fmt.Errorf("load name intervals: %w", err)
	}
	if len(intervals) > 0 {
		return false, nil
	}
	iv := &contracts.NameInterval{InstrumentID: instrumentID, Name: name, StartAt: contracts.Day(asOf)}
	if err := tx.InsertNameInterval(ctx, iv); err != nil {
		return false, err
	}
	return true, nil
}

// ReconcileResult counts what happened to supplied intervals
type ReconcileResult struct {
	Added      int `json:"added"`
	Extended   int `json:"extended"`
	Duplicates int `json:"duplicates"`
	Conflicts  int `json:"conflicts"`
}

// ReconcileHistoricalIntervals appends each supplied interval not already present
// (exact match on name, start and end). A supplied interval that starts earlier than
// the one stored interval it overlaps, under the same name and within its end, moves
// that interval's start back instead. Any other overlap with stored history,
// including intervals appended earlier in the same call, is skipped as a conflict.
// Supplied entries must already be validated (start present).
func (r *Resolver) ReconcileHistoricalIntervals(ctx context.Context, tx store.Tx, instrumentID int64, supplied []contracts.SuppliedInterval) (ReconcileResult, error) {
	var res ReconcileResult
	if len(supplied) == 0 {
		return res, nil
	}

	existing, err := tx.NameIntervals(ctx, instrumentID)
	if err != nil {
		return res, fmt.Errorf("load name intervals: %w", err)
	}

	for _, s := range supplied {
		if s.StartAt == nil {
			continue
		}
		candidate := contracts.NameInterval{
			InstrumentID: instrumentID,
			Name:         s.Name,
			StartAt:      contracts.Day(*s.StartAt),
		}
		if s.EndAt != nil {
			end := contracts.Day(*s.EndAt)
			candidate.EndAt = &end
		}

		if containsSame(existing, candidate) {
			res.Duplicates++
			continue
		}
		if idx, ok := extendable(existing, candidate); ok {
			widened := existing[idx]
			widened.StartAt = candidate.StartAt
			if err := tx.UpdateNameInterval(ctx, widened); err != nil {
				return res, err
			}
			existing[idx] = widened
			res.Extended++
			continue
		}
		if overlapsAny(existing, candidate) {
			res.Conflicts++
			r.logger.WithFields(map[string]interface{}{
				"instrument_id": instrumentID,
				"name":          candidate.Name,
				"start_at":      candidate.StartAt.Format(contracts.DateLayout),
			}).Warn("Supplied name interval overlaps stored history, skipped")
			continue
		}

		if err := tx.InsertNameInterval(ctx, &candidate); err != nil {
			return res, err
		}
		existing = append(existing, candidate)
		res.Added++
	}
	return res, nil
}

// CurrentName answers the valid name of an instrument on asOf (read-only)
func (r *Resolver) CurrentName(ctx context.Context, rd store.Reader, instrumentID int64, asOf time.Time) (string, error) {
	inst, err := rd.Instrument(ctx, instrumentID)
	if err != nil {
		return "", err
	}
	intervals, err := rd.NameIntervals(ctx, instrumentID)
	if err != nil {
		return "", fmt.Errorf("load name intervals: %w", err)
	}
	return CurrentValidName(intervals, inst.Name, asOf), nil
}

// NameHistory returns the instrument's intervals, most recent start first
func (r *Resolver) NameHistory(ctx context.Context, rd store.Reader, instrumentID int64) ([]contracts.NameInterval, error) {
	if _, err := rd.Instrument(ctx, instrumentID); err != nil {
		return nil, err
	}
	intervals, err := rd.NameIntervals(ctx, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("load name intervals: %w", err)
	}
	sort.SliceStable(intervals, func(i, j int) bool { return intervals[i].StartAt.After(intervals[j].StartAt) })
	return intervals, nil
}

func containsSame(intervals []contracts.NameInterval, c contracts.NameInterval) bool {
	for _, iv := range intervals {
		if iv.SameAs(c) {
			return true
		}
	}
	return false
}

// extendable finds the single stored interval c may widen backwards: same name,
// c starts strictly earlier and ends no later, and the widened interval still
// overlaps nothing else.
func extendable(intervals []contracts.NameInterval, c contracts.NameInterval) (int, bool) {
	idx := -1
	for i, iv := range intervals {
		if !iv.Overlaps(c) {
			continue
		}
		if idx >= 0 {
			return -1, false
		}
		idx = i
	}
	if idx < 0 {
		return -1, false
	}

	target := intervals[idx]
	if target.Name != c.Name || !c.StartAt.Before(target.StartAt) {
		return -1, false
	}
	switch {
	case c.EndAt == nil && !target.IsOpen():
		return -1, false
	case c.EndAt != nil && target.EndAt != nil && c.EndAt.After(*target.EndAt):
		return -1, false
	}

	widened := target
	widened.StartAt = c.StartAt
	for i, iv := range intervals {
		if i != idx && iv.Overlaps(widened) {
			return -1, false
		}
	}
	return idx, true
}

func overlapsAny(intervals []contracts.NameInterval, c contracts.NameInterval) bool {
	for _, iv := range intervals {
		if iv.Overlaps(c) {
			return true
		}
	}
	return false
}
