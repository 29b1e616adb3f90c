package history

import "time"

// TagState is the debouncer's view of one tag: Unseen or Open
type TagState interface {
	isTagState()
}

// Unseen is a tag with no history
type Unseen struct{}

// Open is a tag with exactly one open interval. Previous is the most recently
// closed interval, if any.
type Open struct {
	Current  Interval
	Previous *Interval
}

func (Unseen) isTagState() {}
func (Open) isTagState()   {}

// Outcome classifies what an observation did to the history
type Outcome string

const (
	// OutcomeFirstSeen opened the first interval of a tag
	OutcomeFirstSeen Outcome = "first_seen"
	// OutcomeUnchanged means the observation matched the open zone
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeAccepted committed a real transition
	OutcomeAccepted Outcome = "accepted"
	// OutcomeReverted erased a short stay; the tag returned to the previous zone
	OutcomeReverted Outcome = "reverted"
	// OutcomeRevertedMoved erased a short stay, gave its time to the previous
	// zone and then moved the tag to a third zone
	OutcomeRevertedMoved Outcome = "reverted_moved"
)

// Decision is the plan for one observation. Steps apply in field order:
// delete current, reopen previous, close whatever is open, open new.
type Decision struct {
	Outcome   Outcome
	Returning bool
	Dwell     time.Duration
	Threshold time.Duration

	DeleteCurrent  bool
	ReopenPrevious bool
	CloseOpen      bool
	OpenNew        bool
}

// Decide applies the hysteresis rules to an observation of newZone at now.
// The caller has already filtered out observations of the open zone.
func Decide(state TagState, newZone string, now time.Time, th Thresholds) Decision {
	open, ok := state.(Open)
	if !ok {
		return Decision{Outcome: OutcomeFirstSeen, OpenNew: true}
	}

	prev := open.Previous
	d := Decision{
		Returning: prev != nil && prev.ZoneID == newZone,
		Dwell:     now.Sub(open.Current.Start),
	}
	d.Threshold = th.For(d.Returning)

	if d.Dwell >= d.Threshold {
		d.Outcome = OutcomeAccepted
		d.CloseOpen = true
		d.OpenNew = true
		return d
	}

	// The stay in the current zone was too short to trust: erase it.
	// prev is reopened even when the tag is not returning to it.
	d.DeleteCurrent = true
	d.ReopenPrevious = prev != nil

	if d.Returning {
		d.Outcome = OutcomeReverted
		return d
	}

	d.Outcome = OutcomeRevertedMoved
	d.CloseOpen = true
	d.OpenNew = true
	return d
}
