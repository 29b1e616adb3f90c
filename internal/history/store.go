package history

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Store is the durable, ordered interval log keyed by tag
type Store interface {
	// Update runs fn as one atomic unit for tagID. Updates of the same tag are
	// linearized; when fn or the commit fails nothing is applied.
	Update(ctx context.Context, tagID string, fn func(TagTx) error) error

	// Query lazily yields intervals matching f ordered by Start ascending.
	// Each range over the sequence re-runs the query.
	Query(ctx context.Context, f Filter) iter.Seq2[Interval, error]

	// HasTag reports whether the tag has any history
	HasTag(ctx context.Context, tagID string) (bool, error)
}

// TagTx holds the primitive operations available inside Store.Update. All of
// them act on the tag the update was opened for.
type TagTx interface {
	CurrentOpen(ctx context.Context) (*Interval, error)
	MostRecentClosed(ctx context.Context) (*Interval, error)
	Open(ctx context.Context, p OpenParams) (Interval, error)
	Close(ctx context.Context, id uuid.UUID, end time.Time) error
	Reopen(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// OpenParams describes a new open interval
type OpenParams struct {
	ZoneID   string
	ZoneName string
	Distance float64
	Start    time.Time
}

// Filter selects intervals for Query. Zero fields do not filter.
type Filter struct {
	TagID        string
	ExcludeTagID string
	ZoneIDs      []string
	Range        *TimeRange
}

// Matches reports whether iv passes the filter
func (f Filter) Matches(iv Interval) bool {
	if f.TagID != "" && iv.TagID != f.TagID {
		return false
	}
	if f.ExcludeTagID != "" && iv.TagID == f.ExcludeTagID {
		return false
	}
	if len(f.ZoneIDs) > 0 && !slices.Contains(f.ZoneIDs, iv.ZoneID) {
		return false
	}
	if f.Range != nil && !iv.Intersects(*f.Range) {
		return false
	}
	return true
}

// Collect drains a query into a slice, stopping at the first error
func Collect(seq iter.Seq2[Interval, error]) ([]Interval, error) {
	var out []Interval
	for iv, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// ValidateChain checks one tag's intervals: at most one open, none inverted,
// no overlaps, and an open interval whenever there is any history.
func ValidateChain(intervals []Interval) error {
	sorted := slices.Clone(intervals)
	sortIntervals(sorted)

	open := 0
	for i, iv := range sorted {
		if iv.End == nil {
			open++
			if open > 1 {
				return fmt.Errorf("%w: tag %s", ErrOpenIntervalExists, iv.TagID)
			}
		} else if iv.End.Before(iv.Start) {
			return fmt.Errorf("%w: interval %s", ErrInvertedInterval, iv.ID)
		}
		if i == 0 {
			continue
		}
		before := sorted[i-1]
		if before.End == nil || before.End.After(iv.Start) {
			return fmt.Errorf("%w: intervals %s and %s", ErrOverlap, before.ID, iv.ID)
		}
	}
	if len(sorted) > 0 && open == 0 {
		return fmt.Errorf("%w: tag %s has history but no open interval", ErrInvariantViolation, sorted[0].TagID)
	}
	return nil
}

// sortIntervals orders by Start, then End (open last), then tag and id
func sortIntervals(ivs []Interval) {
	sort.Slice(ivs, func(i, j int) bool {
		a, b := ivs[i], ivs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if (a.End == nil) != (b.End == nil) {
			return b.End == nil
		}
		if a.End != nil && !a.End.Equal(*b.End) {
			return a.End.Before(*b.End)
		}
		if a.TagID != b.TagID {
			return a.TagID < b.TagID
		}
		return a.ID.String() < b.ID.String()
	})
}
