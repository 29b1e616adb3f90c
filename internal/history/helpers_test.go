package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// at returns t0 plus sec seconds
func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testZones() StaticZones {
	return StaticZones{
		"A": {ID: "A", Name: "Ward A"},
		"B": {ID: "B", Name: "Ward B"},
		"C": {ID: "C", Name: "Corridor"},
		"D": {ID: "D", Name: "Dispensary"},
	}
}

// seg is one stay in a seeded chain; end < 0 leaves it open
type seg struct {
	zone       string
	start, end int
}

func seedTag(t *testing.T, s Store, tagID string, segs ...seg) {
	t.Helper()
	ctx := context.Background()
	err := s.Update(ctx, tagID, func(tx TagTx) error {
		for _, sg := range segs {
			iv, err := tx.Open(ctx, OpenParams{ZoneID: sg.zone, ZoneName: "Zone " + sg.zone, Start: at(sg.start)})
			if err != nil {
				return err
			}
			if sg.end >= 0 {
				if err := tx.Close(ctx, iv.ID, at(sg.end)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// timeline renders a tag's history as "zone:start-end" in seconds from t0
func timeline(t *testing.T, s Store, tagID string) []string {
	t.Helper()
	intervals, err := Collect(s.Query(context.Background(), Filter{TagID: tagID}))
	require.NoError(t, err)

	out := []string{}
	for _, iv := range intervals {
		entry := fmt.Sprintf("%s:%d-", iv.ZoneID, int(iv.Start.Sub(t0)/time.Second))
		if iv.End != nil {
			entry += fmt.Sprint(int(iv.End.Sub(t0) / time.Second))
		}
		out = append(out, entry)
	}
	return out
}
