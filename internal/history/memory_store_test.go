package history

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePrimitiveFaults(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func(tx TagTx) error
		wantErr error
	}{
		{
			name: "second open interval",
			run: func(tx TagTx) error {
				_, err := tx.Open(ctx, OpenParams{ZoneID: "B", Start: at(20)})
				return err
			},
			wantErr: ErrOpenIntervalExists,
		},
		{
			name: "open overlapping closed history",
			run: func(tx TagTx) error {
				cur, _ := tx.CurrentOpen(ctx)
				if err := tx.Close(ctx, cur.ID, at(20)); err != nil {
					return err
				}
				_, err := tx.Open(ctx, OpenParams{ZoneID: "C", Start: at(15)})
				return err
			},
			wantErr: ErrOverlap,
		},
		{
			name: "close already closed",
			run: func(tx TagTx) error {
				prev, _ := tx.MostRecentClosed(ctx)
				return tx.Close(ctx, prev.ID, at(30))
			},
			wantErr: ErrAlreadyClosed,
		},
		{
			name: "close before start",
			run: func(tx TagTx) error {
				cur, _ := tx.CurrentOpen(ctx)
				return tx.Close(ctx, cur.ID, at(5))
			},
			wantErr: ErrInvertedInterval,
		},
		{
			name: "reopen while another is open",
			run: func(tx TagTx) error {
				prev, _ := tx.MostRecentClosed(ctx)
				return tx.Reopen(ctx, prev.ID)
			},
			wantErr: ErrOpenIntervalExists,
		},
		{
			name: "reopen behind later history",
			run: func(tx TagTx) error {
				cur, _ := tx.CurrentOpen(ctx)
				prev, _ := tx.MostRecentClosed(ctx)
				if err := tx.Close(ctx, cur.ID, at(20)); err != nil {
					return err
				}
				return tx.Reopen(ctx, prev.ID)
			},
			wantErr: ErrOverlap,
		},
		{
			name: "reopen open interval",
			run: func(tx TagTx) error {
				cur, _ := tx.CurrentOpen(ctx)
				return tx.Reopen(ctx, cur.ID)
			},
			wantErr: ErrNotClosed,
		},
		{
			name: "delete unknown",
			run: func(tx TagTx) error {
				return tx.Delete(ctx, uuid.New())
			},
			wantErr: ErrIntervalNotFound,
		},
		{
			name: "commit without open interval",
			run: func(tx TagTx) error {
				cur, _ := tx.CurrentOpen(ctx)
				return tx.Close(ctx, cur.ID, at(30))
			},
			wantErr: ErrInvariantViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			seedTag(t, store, "T", seg{"A", 0, 10}, seg{"B", 10, -1})

			err := store.Update(ctx, "T", tt.run)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvariantViolation)
			assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store, "T"), "failed update must not apply")
		})
	}
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTag(t, store, "T", seg{"A", 0, 10}, seg{"B", 10, -1})

	boom := errors.New("boom")
	err := store.Update(ctx, "T", func(tx TagTx) error {
		cur, err := tx.CurrentOpen(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Delete(ctx, cur.ID))
		prev, err := tx.MostRecentClosed(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Reopen(ctx, prev.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store, "T"))
}

func TestMemoryStoreRevertSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTag(t, store, "T", seg{"A", 0, 10}, seg{"B", 10, -1})

	err := store.Update(ctx, "T", func(tx TagTx) error {
		cur, _ := tx.CurrentOpen(ctx)
		prev, _ := tx.MostRecentClosed(ctx)
		if err := tx.Delete(ctx, cur.ID); err != nil {
			return err
		}
		return tx.Reopen(ctx, prev.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A:0-"}, timeline(t, store, "T"))
}

func TestMemoryStoreUpdateValidation(t *testing.T) {
	store := NewMemoryStore()

	err := store.Update(context.Background(), "", func(TagTx) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidArgument)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.Update(ctx, "T", func(TagTx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTag(t, store, "T1", seg{"A", 0, 10}, seg{"B", 10, 30}, seg{"A", 30, -1})
	seedTag(t, store, "T2", seg{"B", 5, 20}, seg{"C", 20, -1})

	zonesOf := func(f Filter) []string {
		intervals, err := Collect(store.Query(ctx, f))
		require.NoError(t, err)
		out := []string{}
		for _, iv := range intervals {
			out = append(out, iv.TagID+"/"+iv.ZoneID)
		}
		return out
	}

	assert.Equal(t, []string{"T1/A", "T2/B", "T1/B", "T2/C", "T1/A"}, zonesOf(Filter{}))
	assert.Equal(t, []string{"T1/A", "T1/B", "T1/A"}, zonesOf(Filter{TagID: "T1"}))
	assert.Equal(t, []string{"T2/B", "T2/C"}, zonesOf(Filter{ExcludeTagID: "T1"}))
	assert.Equal(t, []string{"T2/B", "T1/B"}, zonesOf(Filter{ZoneIDs: []string{"B"}}))
	assert.Equal(t, []string{"T2/B", "T1/B"}, zonesOf(Filter{Range: &TimeRange{Start: at(12), End: at(18)}}))
	assert.Equal(t, []string{"T1/A", "T1/B"}, zonesOf(Filter{TagID: "T1", Range: &TimeRange{Start: at(10), End: at(10)}}),
		"range bounds are inclusive")
	assert.Equal(t, []string{"T2/C", "T1/A"}, zonesOf(Filter{Range: &TimeRange{Start: at(100), End: at(200)}}),
		"open intervals extend to the present")
	assert.Empty(t, zonesOf(Filter{TagID: "nobody"}))
}

func TestMemoryStoreQueryIsRestartable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTag(t, store, "T", seg{"A", 0, 10}, seg{"B", 10, 20}, seg{"C", 20, -1})

	seq := store.Query(ctx, Filter{TagID: "T"})
	first, err := Collect(seq)
	require.NoError(t, err)
	second, err := Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestMemoryStoreQueryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTag(t, store, "T", seg{"A", 0, 10}, seg{"B", 10, -1})

	intervals, err := Collect(store.Query(ctx, Filter{TagID: "T"}))
	require.NoError(t, err)
	*intervals[0].End = at(99)

	assert.Equal(t, []string{"A:0-10", "B:10-"}, timeline(t, store, "T"))
}

func TestMemoryStoreHasTag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	exists, err := store.HasTag(ctx, "T")
	require.NoError(t, err)
	assert.False(t, exists)

	require.Error(t, store.Update(ctx, "T", func(TagTx) error { return errors.New("nope") }))
	exists, _ = store.HasTag(ctx, "T")
	assert.False(t, exists, "a failed update does not create history")

	seedTag(t, store, "T", seg{"A", 0, -1})
	exists, _ = store.HasTag(ctx, "T")
	assert.True(t, exists)
}

func TestValidateChain(t *testing.T) {
	iv := func(start int, end int) Interval {
		out := Interval{ID: uuid.New(), TagID: "T", Start: at(start)}
		if end >= 0 {
			out.End = timePtr(at(end))
		}
		return out
	}

	tests := []struct {
		name    string
		chain   []Interval
		wantErr error
	}{
		{"empty", nil, nil},
		{"single open", []Interval{iv(0, -1)}, nil},
		{"touching", []Interval{iv(10, -1), iv(0, 10)}, nil},
		{"zero length closed", []Interval{iv(0, 0), iv(0, -1)}, nil},
		{"two open", []Interval{iv(0, -1), iv(10, -1)}, ErrOpenIntervalExists},
		{"overlap", []Interval{iv(0, 15), iv(10, -1)}, ErrOverlap},
		{"open before closed", []Interval{iv(0, -1), iv(10, 20)}, ErrOverlap},
		{"inverted", []Interval{iv(10, 5), iv(20, -1)}, ErrInvertedInterval},
		{"history without open", []Interval{iv(0, 10)}, ErrInvariantViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChain(tt.chain)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIntervalIntersects(t *testing.T) {
	r := TimeRange{Start: at(10), End: at(20)}
	closed := func(s, e int) Interval { return Interval{Start: at(s), End: timePtr(at(e))} }

	assert.True(t, closed(0, 10).Intersects(r))
	assert.True(t, closed(20, 30).Intersects(r))
	assert.True(t, closed(12, 15).Intersects(r))
	assert.False(t, closed(0, 9).Intersects(r))
	assert.False(t, closed(21, 30).Intersects(r))
	assert.True(t, Interval{Start: at(0)}.Intersects(r))
	assert.False(t, Interval{Start: at(25)}.Intersects(r))

	assert.Equal(t, at(5), Interval{Start: at(0)}.EndOr(at(5)))
	assert.Equal(t, at(10), closed(0, 10).EndOr(at(5)))
}
