package history

import (
	"time"

	"github.com/google/uuid"
)

// Zone is a named physical area a tag can occupy
type Zone struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Observation is a raw zone assignment produced by the sensor-fusion layer
type Observation struct {
	TagID     string    `json:"tag_id"`
	ZoneID    string    `json:"zone_id"`
	Distance  float64   `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
}

// Interval is one stay of a tag in a zone. A nil End marks the tag's open interval.
type Interval struct {
	ID       uuid.UUID  `json:"id"`
	TagID    string     `json:"tag_id"`
	ZoneID   string     `json:"zone_id"`
	ZoneName string     `json:"zone_name"`
	Distance float64    `json:"distance"`
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end"`
}

// IsOpen reports whether the interval is still ongoing
func (i Interval) IsOpen() bool {
	return i.End == nil
}

// EndOr returns End, or fallback for an open interval
func (i Interval) EndOr(fallback time.Time) time.Time {
	if i.End == nil {
		return fallback
	}
	return *i.End
}

// Intersects reports whether the interval touches r. Open intervals extend to infinity.
func (i Interval) Intersects(r TimeRange) bool {
	if i.Start.After(r.End) {
		return false
	}
	return i.End == nil || !i.End.Before(r.Start)
}

// TimeRange is a closed time window [Start, End]
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate returns ErrInvalidArgument when Start is after End
func (r TimeRange) Validate() error {
	if r.Start.After(r.End) {
		return invalidf("time range start %s is after end %s",
			r.Start.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano))
	}
	return nil
}

// ContactEvent is a period during which two tags occupied the same zone
type ContactEvent struct {
	ContactID    uuid.UUID     `json:"contact_id"`
	TagA         string        `json:"tag_a"`
	TagB         string        `json:"tag_b"`
	ZoneID       string        `json:"zone_id"`
	ZoneName     string        `json:"zone_name"`
	OverlapStart time.Time     `json:"overlap_start"`
	OverlapEnd   time.Time     `json:"overlap_end"`
	Duration     time.Duration `json:"duration"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}
