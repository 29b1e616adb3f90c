package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultHistoryLimit is the page size used when the caller has no preference
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps a single page of intervals
	MaxHistoryLimit = 1000
)

// HistoryQuery selects a page of one tag's intervals. A nil Range returns the
// whole history. A zero Limit selects an empty page.
type HistoryQuery struct {
	TagID  string
	Range  *TimeRange
	Limit  int
	Offset int
}

// Validate checks the query arguments
func (q HistoryQuery) Validate() error {
	if q.TagID == "" {
		return invalidf("tag id is required")
	}
	if q.Range != nil {
		if err := q.Range.Validate(); err != nil {
			return err
		}
	}
	return validatePage(q.Limit, q.Offset, MaxHistoryLimit)
}

// Service is the entry point used by the ingest agent and the query API
type Service struct {
	store     Store
	debouncer *Debouncer
	contacts  *ContactDetector
	logger    *slog.Logger
}

// NewService wires a debouncer and a contact detector over one store
func NewService(store Store, settings SettingsProvider, zones ZoneCatalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		debouncer: NewDebouncer(store, settings, zones, logger),
		contacts:  NewContactDetector(store, time.Now),
		logger:    logger,
	}
}

// Observe debounces one raw zone observation
func (s *Service) Observe(ctx context.Context, obs Observation) (Result, error) {
	return s.debouncer.Observe(ctx, obs)
}

// GetHistory returns one page of the tag's intervals ordered by start
func (s *Service) GetHistory(ctx context.Context, q HistoryQuery) ([]Interval, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f := Filter{TagID: q.TagID}
	if q.Range != nil {
		r := *q.Range
		f.Range = &r
	}

	exists, err := s.store.HasTag(ctx, q.TagID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, q.TagID)
	}

	intervals := []Interval{}
	if q.Limit == 0 {
		return intervals, nil
	}

	skipped := 0
	for iv, err := range s.store.Query(ctx, f) {
		if err != nil {
			return nil, fmt.Errorf("failed to read history of tag %s: %w", q.TagID, err)
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		intervals = append(intervals, iv)
		if len(intervals) == q.Limit {
			break
		}
	}
	return intervals, nil
}

// GetContacts returns one page of the tag's contacts
func (s *Service) GetContacts(ctx context.Context, q ContactQuery) ([]ContactEvent, error) {
	return s.contacts.GetContacts(ctx, q)
}
