package mqtt

import (
	"fmt"
	"strings"
)

// Topic constants for the RTLS zone pipeline
const (
	// Raw zone assignments from the sensor-fusion layer (input)
	TopicRawZone = "rtls/raw/zone/+"

	// Debounced zone transitions (output)
	TopicHistoryBase = "rtls/history"
	TopicHistory     = "rtls/history/+"
)

// RawZoneTopic constructs the raw zone assignment topic for a tag
// Pattern: rtls/raw/zone/{tag_id}
func RawZoneTopic(tagID string) string {
	return fmt.Sprintf("rtls/raw/zone/%s", tagID)
}

// HistoryTopic constructs the transition topic for a tag
// Pattern: rtls/history/{tag_id}
func HistoryTopic(tagID string) string {
	return fmt.Sprintf("%s/%s", TopicHistoryBase, tagID)
}

// TagIDFromTopic returns the last topic level, which carries the tag id
// for both raw and history topics. Returns "" for topics without levels.
func TagIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
