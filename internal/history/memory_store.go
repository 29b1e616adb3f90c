package history

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps history in process. Writers of the same tag are serialized
// by a per-tag mutex; each update works on a private copy of the tag's chain
// which is validated and then swapped in, so readers never see a partial update.
type MemoryStore struct {
	mu   sync.RWMutex // guards the tags map only
	tags map[string]*tagLog

	newID func() uuid.UUID
}

type tagLog struct {
	write sync.Mutex // held for the whole Update

	mu        sync.RWMutex
	intervals []Interval // published chain, never modified in place
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tags:  make(map[string]*tagLog),
		newID: uuid.New,
	}
}

func (s *MemoryStore) logFor(tagID string, create bool) *tagLog {
	s.mu.RLock()
	l, ok := s.tags[tagID]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.tags[tagID]; !ok {
		l = &tagLog{}
		s.tags[tagID] = l
	}
	return l
}

func (l *tagLog) snapshot() []Interval {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.intervals
}

func (l *tagLog) publish(intervals []Interval) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intervals = intervals
}

// Update runs fn atomically for one tag
func (s *MemoryStore) Update(ctx context.Context, tagID string, fn func(TagTx) error) error {
	if tagID == "" {
		return invalidf("tag id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.logFor(tagID, true)
	l.write.Lock()
	defer l.write.Unlock()

	tx := &memoryTx{
		tagID:     tagID,
		intervals: slices.Clone(l.snapshot()),
		newID:     s.newID,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ValidateChain(tx.intervals); err != nil {
		return err
	}

	sortIntervals(tx.intervals)
	l.publish(tx.intervals)
	return nil
}

// Query yields matching intervals across tags ordered by Start
func (s *MemoryStore) Query(ctx context.Context, f Filter) iter.Seq2[Interval, error] {
	return func(yield func(Interval, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(Interval{}, err)
			return
		}

		var logs []*tagLog
		if f.TagID != "" {
			if l := s.logFor(f.TagID, false); l != nil {
				logs = append(logs, l)
			}
		} else {
			s.mu.RLock()
			for _, l := range s.tags {
				logs = append(logs, l)
			}
			s.mu.RUnlock()
		}

		var matched []Interval
		for _, l := range logs {
			for _, iv := range l.snapshot() {
				if f.Matches(iv) {
					matched = append(matched, copyInterval(iv))
				}
			}
		}
		sortIntervals(matched)

		for _, iv := range matched {
			if !yield(iv, nil) {
				return
			}
		}
	}
}

// HasTag reports whether the tag has any committed history
func (s *MemoryStore) HasTag(ctx context.Context, tagID string) (bool, error) {
	l := s.logFor(tagID, false)
	return l != nil && len(l.snapshot()) > 0, nil
}

func copyInterval(iv Interval) Interval {
	if iv.End != nil {
		iv.End = timePtr(*iv.End)
	}
	return iv
}

// memoryTx mutates a private copy of one tag's chain. Elements are replaced,
// never written through, so the published chain stays intact.
type memoryTx struct {
	tagID     string
	intervals []Interval
	newID     func() uuid.UUID
}

func (tx *memoryTx) index(id uuid.UUID) (int, error) {
	for i, iv := range tx.intervals {
		if iv.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrIntervalNotFound, id)
}

func (tx *memoryTx) openIndex() int {
	for i, iv := range tx.intervals {
		if iv.End == nil {
			return i
		}
	}
	return -1
}

func (tx *memoryTx) CurrentOpen(ctx context.Context) (*Interval, error) {
	i := tx.openIndex()
	if i < 0 {
		return nil, nil
	}
	iv := copyInterval(tx.intervals[i])
	return &iv, nil
}

func (tx *memoryTx) MostRecentClosed(ctx context.Context) (*Interval, error) {
	best := -1
	for i, iv := range tx.intervals {
		if iv.End == nil {
			continue
		}
		if best < 0 || iv.End.After(*tx.intervals[best].End) {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}
	iv := copyInterval(tx.intervals[best])
	return &iv, nil
}

func (tx *memoryTx) Open(ctx context.Context, p OpenParams) (Interval, error) {
	for _, iv := range tx.intervals {
		if iv.End == nil {
			return Interval{}, fmt.Errorf("%w: tag %s, interval %s", ErrOpenIntervalExists, tx.tagID, iv.ID)
		}
		if iv.End.After(p.Start) {
			return Interval{}, fmt.Errorf("%w: interval %s ends after %s", ErrOverlap, iv.ID, p.Start.Format(time.RFC3339Nano))
		}
	}

	iv := Interval{
		ID:       tx.newID(),
		TagID:    tx.tagID,
		ZoneID:   p.ZoneID,
		ZoneName: p.ZoneName,
		Distance: p.Distance,
		Start:    p.Start,
	}
	tx.intervals = append(tx.intervals, iv)
	return iv, nil
}

func (tx *memoryTx) Close(ctx context.Context, id uuid.UUID, end time.Time) error {
	i, err := tx.index(id)
	if err != nil {
		return err
	}
	iv := tx.intervals[i]
	if iv.End != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, id)
	}
	if end.Before(iv.Start) {
		return fmt.Errorf("%w: %s", ErrInvertedInterval, id)
	}
	iv.End = timePtr(end)
	tx.intervals[i] = iv
	return nil
}

func (tx *memoryTx) Reopen(ctx context.Context, id uuid.UUID) error {
	i, err := tx.index(id)
	if err != nil {
		return err
	}
	if tx.intervals[i].End == nil {
		return fmt.Errorf("%w: %s", ErrNotClosed, id)
	}
	if open := tx.openIndex(); open >= 0 {
		return fmt.Errorf("%w: tag %s, interval %s", ErrOpenIntervalExists, tx.tagID, tx.intervals[open].ID)
	}
	iv := tx.intervals[i]
	for j, other := range tx.intervals {
		if j != i && other.End != nil && other.End.After(iv.Start) {
			return fmt.Errorf("%w: reopening %s would overlap %s", ErrOverlap, id, other.ID)
		}
	}
	iv.End = nil
	tx.intervals[i] = iv
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id uuid.UUID) error {
	i, err := tx.index(id)
	if err != nil {
		return err
	}
	tx.intervals = slices.Delete(tx.intervals, i, i+1)
	return nil
}
