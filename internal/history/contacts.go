package history

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultContactLimit is the page size used when the caller has no preference
	DefaultContactLimit = 100
	// MaxContactLimit caps a single page of contacts
	MaxContactLimit = 1000
)

// contactNamespace seeds the name-based contact ids
var contactNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a10-7c2d4e6b8f01")

// ContactQuery selects a page of contacts for one tag. A nil Range covers the
// tag's whole history up to now. A zero Limit selects an empty page.
type ContactQuery struct {
	TagID  string
	Range  *TimeRange
	Limit  int
	Offset int
}

// Validate checks the query arguments
func (q ContactQuery) Validate() error {
	if q.TagID == "" {
		return invalidf("tag id is required")
	}
	if q.Range != nil {
		if err := q.Range.Validate(); err != nil {
			return err
		}
	}
	return validatePage(q.Limit, q.Offset, MaxContactLimit)
}

func validatePage(limit, offset, max int) error {
	if limit < 0 || limit > max {
		return invalidf("limit must be between 0 and %d, got %d", max, limit)
	}
	if offset < 0 {
		return invalidf("offset must not be negative, got %d", offset)
	}
	return nil
}

// ContactDetector finds periods during which a tag shared a zone with other tags.
// It only reads the store.
type ContactDetector struct {
	store Store
	now   func() time.Time
}

// NewContactDetector creates a detector. now bounds open intervals; nil means time.Now.
func NewContactDetector(store Store, now func() time.Time) *ContactDetector {
	if now == nil {
		now = time.Now
	}
	return &ContactDetector{store: store, now: now}
}

// span is an interval clipped to the query window
type span struct {
	tagID    string
	zoneID   string
	zoneName string
	start    time.Time
	end      time.Time
}

func clip(iv Interval, r TimeRange, now time.Time) (span, bool) {
	s := span{
		tagID:    iv.TagID,
		zoneID:   iv.ZoneID,
		zoneName: iv.ZoneName,
		start:    iv.Start,
		end:      iv.EndOr(now),
	}
	if s.start.Before(r.Start) {
		s.start = r.Start
	}
	if s.end.After(r.End) {
		s.end = r.End
	}
	return s, s.end.After(s.start)
}

// GetContacts returns the tag's contacts in the window, newest overlap first
func (c *ContactDetector) GetContacts(ctx context.Context, q ContactQuery) ([]ContactEvent, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	exists, err := c.store.HasTag(ctx, q.TagID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, q.TagID)
	}

	now := c.now().UTC()
	if q.Limit == 0 {
		return []ContactEvent{}, nil
	}
	window, err := c.window(ctx, q, now)
	if err != nil {
		return nil, err
	}

	// Per zone, the target's spans stay sorted and disjoint.
	targets := make(map[string][]span)
	for iv, err := range c.store.Query(ctx, Filter{TagID: q.TagID, Range: &window}) {
		if err != nil {
			return nil, fmt.Errorf("failed to read history of tag %s: %w", q.TagID, err)
		}
		if s, ok := clip(iv, window, now); ok {
			targets[s.zoneID] = append(targets[s.zoneID], s)
		}
	}
	if len(targets) == 0 {
		return []ContactEvent{}, nil
	}

	zoneIDs := make([]string, 0, len(targets))
	for id := range targets {
		zoneIDs = append(zoneIDs, id)
	}
	slices.Sort(zoneIDs)

	contacts := []ContactEvent{}
	others := c.store.Query(ctx, Filter{ExcludeTagID: q.TagID, ZoneIDs: zoneIDs, Range: &window})
	for iv, err := range others {
		if err != nil {
			return nil, fmt.Errorf("failed to read contacts of tag %s: %w", q.TagID, err)
		}
		o, ok := clip(iv, window, now)
		if !ok {
			continue
		}

		spans := targets[o.zoneID]
		i := sort.Search(len(spans), func(i int) bool { return spans[i].end.After(o.start) })
		for ; i < len(spans) && spans[i].start.Before(o.end); i++ {
			t := spans[i]
			start, end := laterOf(t.start, o.start), earlierOf(t.end, o.end)
			if !end.After(start) {
				continue
			}
			contacts = append(contacts, ContactEvent{
				ContactID:    ContactID(t.tagID, o.tagID, t.zoneID, start, end),
				TagA:         t.tagID,
				TagB:         o.tagID,
				ZoneID:       t.zoneID,
				ZoneName:     t.zoneName,
				OverlapStart: start,
				OverlapEnd:   end,
				Duration:     end.Sub(start),
			})
		}
	}

	sortContacts(contacts)
	return page(contacts, q.Offset, q.Limit), nil
}

// window returns the query range, or the span from the tag's first interval to now
func (c *ContactDetector) window(ctx context.Context, q ContactQuery, now time.Time) (TimeRange, error) {
	if q.Range != nil {
		return *q.Range, nil
	}
	for iv, err := range c.store.Query(ctx, Filter{TagID: q.TagID}) {
		if err != nil {
			return TimeRange{}, fmt.Errorf("failed to read history of tag %s: %w", q.TagID, err)
		}
		return TimeRange{Start: iv.Start, End: laterOf(iv.Start, now)}, nil
	}
	return TimeRange{Start: now, End: now}, nil
}

// ContactID is the stable id of an overlap. Swapping the tags yields the same id.
func ContactID(tagA, tagB, zoneID string, start, end time.Time) uuid.UUID {
	if tagB < tagA {
		tagA, tagB = tagB, tagA
	}
	name := fmt.Sprintf("%s\x1f%s\x1f%s\x1f%d\x1f%d", tagA, tagB, zoneID, start.UnixNano(), end.UnixNano())
	return uuid.NewSHA1(contactNamespace, []byte(name))
}

func sortContacts(contacts []ContactEvent) {
	slices.SortFunc(contacts, func(a, b ContactEvent) int {
		if c := b.OverlapStart.Compare(a.OverlapStart); c != 0 {
			return c
		}
		if c := b.OverlapEnd.Compare(a.OverlapEnd); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TagB, b.TagB); c != 0 {
			return c
		}
		return cmp.Compare(a.ContactID.String(), b.ContactID.String())
	})
}

func page(contacts []ContactEvent, offset, limit int) []ContactEvent {
	if offset >= len(contacts) {
		return []ContactEvent{}
	}
	end := min(offset+limit, len(contacts))
	return contacts[offset:end]
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
