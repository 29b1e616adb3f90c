package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Debouncer turns raw zone observations into committed history
type Debouncer struct {
	store    Store
	settings SettingsProvider
	zones    ZoneCatalog
	logger   *slog.Logger
}

// Result reports what one observation did
type Result struct {
	Outcome  Outcome
	Decision Decision

	// Current is the tag's open interval after the commit
	Current *Interval
	// Discarded is the too-short interval that was erased, if any
	Discarded *Interval
	// Closed is the interval ended at the observation time, if any
	Closed *Interval
}

// Changed reports whether the commit altered the history
func (r Result) Changed() bool {
	return r.Outcome != OutcomeUnchanged
}

// NewDebouncer creates a debouncer. Thresholds are read from settings on
// every observation.
func NewDebouncer(store Store, settings SettingsProvider, zones ZoneCatalog, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		store:    store,
		settings: settings,
		zones:    zones,
		logger:   logger,
	}
}

// Observe applies one observation to the tag's history as a single atomic update
func (d *Debouncer) Observe(ctx context.Context, obs Observation) (Result, error) {
	if obs.TagID == "" {
		return Result{}, invalidf("tag id is required")
	}
	if obs.ZoneID == "" {
		return Result{}, invalidf("zone id is required for tag %s", obs.TagID)
	}
	if obs.Timestamp.IsZero() {
		return Result{}, invalidf("timestamp is required for tag %s", obs.TagID)
	}
	now := obs.Timestamp.UTC().Truncate(time.Microsecond)

	zone, err := d.zones.Lookup(ctx, obs.ZoneID)
	if err != nil {
		return Result{}, err
	}
	th, err := LoadThresholds(ctx, d.settings)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = d.store.Update(ctx, obs.TagID, func(tx TagTx) error {
		res = Result{}

		state, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if open, ok := state.(Open); ok {
			if open.Current.ZoneID == obs.ZoneID {
				res.Outcome = OutcomeUnchanged
				res.Current = &open.Current
				return nil
			}
			if now.Before(open.Current.Start) {
				return fmt.Errorf("%w: tag %s observed at %s, open since %s", ErrStaleObservation,
					obs.TagID, now.Format(time.RFC3339Nano), open.Current.Start.Format(time.RFC3339Nano))
			}
		}

		res.Decision = Decide(state, obs.ZoneID, now, th)
		res.Outcome = res.Decision.Outcome
		return apply(ctx, tx, state, res.Decision, OpenParams{
			ZoneID:   zone.ID,
			ZoneName: zone.Name,
			Distance: obs.Distance,
			Start:    now,
		}, &res)
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to debounce tag %s: %w", obs.TagID, err)
	}

	if res.Changed() {
		d.logger.Debug("Zone history updated",
			"tag_id", obs.TagID,
			"zone_id", obs.ZoneID,
			"outcome", res.Outcome,
			"dwell", res.Decision.Dwell,
			"threshold", res.Decision.Threshold)
	}
	return res, nil
}

// loadState reads the tag's open interval and the one closed right before it
func loadState(ctx context.Context, tx TagTx) (TagState, error) {
	current, err := tx.CurrentOpen(ctx)
	if err != nil {
		return nil, err
	}
	prev, err := tx.MostRecentClosed(ctx)
	if err != nil {
		return nil, err
	}

	if current == nil {
		if prev != nil {
			return nil, fmt.Errorf("%w: tag %s has closed history but no open interval",
				ErrInvariantViolation, prev.TagID)
		}
		return Unseen{}, nil
	}
	return Open{Current: *current, Previous: prev}, nil
}

// apply executes a decision: delete current, reopen previous, close open, open new
func apply(ctx context.Context, tx TagTx, state TagState, dec Decision, next OpenParams, res *Result) error {
	open, _ := state.(Open)

	if dec.DeleteCurrent {
		if err := tx.Delete(ctx, open.Current.ID); err != nil {
			return err
		}
		discarded := open.Current
		res.Discarded = &discarded
	}

	if dec.ReopenPrevious {
		if err := tx.Reopen(ctx, open.Previous.ID); err != nil {
			return err
		}
		reopened := *open.Previous
		reopened.End = nil
		res.Current = &reopened
	}

	if dec.CloseOpen {
		current, err := tx.CurrentOpen(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			if err := tx.Close(ctx, current.ID, next.Start); err != nil {
				return err
			}
			current.End = timePtr(next.Start)
			res.Closed = current
		}
	}

	if dec.OpenNew {
		iv, err := tx.Open(ctx, next)
		if err != nil {
			return err
		}
		res.Current = &iv
	}
	return nil
}
