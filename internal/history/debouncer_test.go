package history

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDebouncer(t *testing.T) (*Debouncer, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	d := NewDebouncer(store, NewStaticSettings(5*time.Second, 15*time.Second), testZones(), quietLogger())
	return d, store
}

func observe(t *testing.T, d *Debouncer, tagID, zoneID string, sec int) Result {
	t.Helper()
	res, err := d.Observe(context.Background(), Observation{TagID: tagID, ZoneID: zoneID, Distance: 1.5, Timestamp: at(sec)})
	require.NoError(t, err)
	return res
}

func TestObserveScenario(t *testing.T) {
	d, store := newTestDebouncer(t)

	res := observe(t, d, "T", "A", 0)
	assert.Equal(t, OutcomeFirstSeen, res.Outcome)
	assert.Equal(t, []string{"A:0-"}, timeline(t, store, "T"))

	res = observe(t, d, "T", "B", 10)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store, "T"))

	res = observe(t, d, "T", "A", 12)
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.True(t, res.Decision.Returning)
	assert.Equal(t, 15*time.Second, res.Decision.Threshold)
	assert.Equal(t, []string{"A:0-"}, timeline(t, store, "T"))
	require.NotNil(t, res.Discarded)
	assert.Equal(t, "B", res.Discarded.ZoneID)
	require.NotNil(t, res.Current)
	assert.Equal(t, "A", res.Current.ZoneID)
	assert.True(t, res.Current.IsOpen())

	res = observe(t, d, "T", "C", 40)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, []string{"A:0-40", "C:40-"}, timeline(t, store, "T"))
	require.NotNil(t, res.Closed)
	assert.Equal(t, at(40), *res.Closed.End)
}

func TestObserveTransitions(t *testing.T) {
	type step struct {
		zone string
		sec  int
		want Outcome
	}

	tests := []struct {
		name     string
		steps    []step
		timeline []string
	}{
		{
			name:     "all dwells above threshold",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"B", 10, OutcomeAccepted}, {"C", 20, OutcomeAccepted}, {"B", 40, OutcomeAccepted}},
			timeline: []string{"A:0-10", "B:10-20", "C:20-40", "B:40-"},
		},
		{
			name:     "short stay donated to the previous zone",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"B", 10, OutcomeAccepted}, {"C", 12, OutcomeRevertedMoved}},
			timeline: []string{"A:0-12", "C:12-"},
		},
		{
			name:     "three zone flicker keeps merging into the first",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"B", 10, OutcomeAccepted}, {"C", 12, OutcomeRevertedMoved}, {"D", 14, OutcomeRevertedMoved}},
			timeline: []string{"A:0-14", "D:14-"},
		},
		{
			name:     "short first stay is erased",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"B", 2, OutcomeRevertedMoved}},
			timeline: []string{"B:2-"},
		},
		{
			name:     "return within returning threshold",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"B", 10, OutcomeAccepted}, {"A", 20, OutcomeReverted}},
			timeline: []string{"A:0-"},
		},
		{
			name:     "return after returning threshold",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"B", 10, OutcomeAccepted}, {"A", 25, OutcomeAccepted}},
			timeline: []string{"A:0-10", "B:10-25", "A:25-"},
		},
		{
			name:     "repeated zone is unchanged",
			steps:    []step{{"A", 0, OutcomeFirstSeen}, {"A", 3, OutcomeUnchanged}, {"B", 8, OutcomeAccepted}, {"B", 9, OutcomeUnchanged}},
			timeline: []string{"A:0-8", "B:8-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store := newTestDebouncer(t)
			for _, s := range tt.steps {
				res := observe(t, d, "T", s.zone, s.sec)
				assert.Equal(t, s.want, res.Outcome, "zone %s at %ds", s.zone, s.sec)
			}
			assert.Equal(t, tt.timeline, timeline(t, store, "T"))
		})
	}
}

func TestObserveSnapshotsZoneName(t *testing.T) {
	d, store := newTestDebouncer(t)
	observe(t, d, "T", "C", 0)

	intervals, err := Collect(store.Query(context.Background(), Filter{TagID: "T"}))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, "Corridor", intervals[0].ZoneName)
	assert.Equal(t, 1.5, intervals[0].Distance)
}

func TestObserveReplayConverges(t *testing.T) {
	d, store := newTestDebouncer(t)
	observe(t, d, "T", "A", 0)
	observe(t, d, "T", "B", 10)

	res := observe(t, d, "T", "B", 10)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.False(t, res.Changed())
	assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store, "T"))
}

func TestObserveNormalizesTimestamp(t *testing.T) {
	d, store := newTestDebouncer(t)
	local := time.FixedZone("CET", 3600)
	ts := at(0).In(local).Add(1234 * time.Nanosecond)

	_, err := d.Observe(context.Background(), Observation{TagID: "T", ZoneID: "A", Timestamp: ts})
	require.NoError(t, err)

	intervals, err := Collect(store.Query(context.Background(), Filter{TagID: "T"}))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.Equal(t, time.UTC, intervals[0].Start.Location())
	assert.Equal(t, at(0).Add(time.Microsecond), intervals[0].Start)
}

func TestObserveRejects(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		obs     Observation
		wantErr error
	}{
		{"missing tag", Observation{ZoneID: "A", Timestamp: at(20)}, ErrInvalidArgument},
		{"missing zone", Observation{TagID: "T", Timestamp: at(20)}, ErrInvalidArgument},
		{"missing timestamp", Observation{TagID: "T", ZoneID: "A"}, ErrInvalidArgument},
		{"unknown zone", Observation{TagID: "T", ZoneID: "Z", Timestamp: at(20)}, ErrUnknownZone},
		{"older than open interval", Observation{TagID: "T", ZoneID: "C", Timestamp: at(5)}, ErrStaleObservation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, store := newTestDebouncer(t)
			observe(t, d, "T", "A", 0)
			observe(t, d, "T", "B", 10)

			_, err := d.Observe(ctx, tt.obs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.False(t, IsRetryable(err))
			assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store, "T"))
		})
	}
}

func TestObserveUnknownZoneLeavesTagUnseen(t *testing.T) {
	d, store := newTestDebouncer(t)

	_, err := d.Observe(context.Background(), Observation{TagID: "T", ZoneID: "nowhere", Timestamp: at(0)})
	assert.ErrorIs(t, err, ErrUnknownZone)

	exists, err := store.HasTag(context.Background(), "T")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestObserveMissingSettings(t *testing.T) {
	d := NewDebouncer(NewMemoryStore(), StaticSettings{SettingMinDwell: time.Second}, testZones(), quietLogger())

	_, err := d.Observe(context.Background(), Observation{TagID: "T", ZoneID: "A", Timestamp: at(0)})
	assert.ErrorIs(t, err, ErrSettingMissing)
}

// flakyStore fails the first n updates with a transient error
type flakyStore struct {
	*MemoryStore
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) Update(ctx context.Context, tagID string, fn func(TagTx) error) error {
	f.mu.Lock()
	fail := f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()

	return f.MemoryStore.Update(ctx, tagID, func(tx TagTx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if fail {
			return fmt.Errorf("%w: connection reset", ErrTransient)
		}
		return nil
	})
}

func TestObserveTransientFailureRollsBack(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	d := NewDebouncer(store, NewStaticSettings(5*time.Second, 15*time.Second), testZones(), quietLogger())
	observe(t, d, "T", "A", 0)

	store.fails = 1
	_, err := d.Observe(context.Background(), Observation{TagID: "T", ZoneID: "B", Timestamp: at(10)})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, []string{"A:0-"}, timeline(t, store.MemoryStore, "T"))

	res := observe(t, d, "T", "B", 10)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store.MemoryStore, "T"))
}

func TestObserveRandomSequencesKeepChainValid(t *testing.T) {
	d, store := newTestDebouncer(t)
	rng := rand.New(rand.NewSource(42))
	zones := []string{"A", "B", "C", "D"}
	tags := []string{"T1", "T2", "T3"}
	clock := map[string]int{}

	for i := 0; i < 2000; i++ {
		tag := tags[rng.Intn(len(tags))]
		clock[tag] += rng.Intn(20)
		_, err := d.Observe(context.Background(), Observation{
			TagID:     tag,
			ZoneID:    zones[rng.Intn(len(zones))],
			Timestamp: at(clock[tag]),
		})
		require.NoError(t, err)
	}

	for _, tag := range tags {
		intervals, err := Collect(store.Query(context.Background(), Filter{TagID: tag}))
		require.NoError(t, err)
		require.NotEmpty(t, intervals)
		assert.NoError(t, ValidateChain(intervals), tag)
	}
}

func TestObserveConcurrentTags(t *testing.T) {
	d, store := newTestDebouncer(t)
	ctx := context.Background()
	zones := []string{"A", "B", "C"}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			tag := fmt.Sprintf("T%d", g%4)
			for i := 0; i < 200; i++ {
				_, err := d.Observe(ctx, Observation{
					TagID:     tag,
					ZoneID:    zones[(g+i)%len(zones)],
					Timestamp: at(i * 3),
				})
				if err != nil && !errors.Is(err, ErrStaleObservation) {
					t.Errorf("tag %s: %v", tag, err)
					return
				}
			}
		}(g)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			for g := 0; g < 4; g++ {
				intervals, err := Collect(store.Query(ctx, Filter{TagID: fmt.Sprintf("T%d", g)}))
				if err != nil {
					t.Errorf("query: %v", err)
					return
				}
				if err := ValidateChain(intervals); err != nil {
					t.Errorf("reader saw a partial update: %v", err)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	for g := 0; g < 4; g++ {
		intervals, err := Collect(store.Query(ctx, Filter{TagID: fmt.Sprintf("T%d", g)}))
		require.NoError(t, err)
		assert.NoError(t, ValidateChain(intervals))
	}
}
