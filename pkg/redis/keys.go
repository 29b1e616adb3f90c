package redis

import "fmt"

// Key construction helpers for the RTLS tracker

// SettingsKey is the hash holding runtime thresholds (MIN_DWELL, MIN_DWELL_RETURNING)
const SettingsKey = "settings:history"

// ZoneNamesKey is the hash mapping zone_id to display name
const ZoneNamesKey = "zones:names"

// TagStateKey returns the key for the cached tag state (hash)
// Pattern: tag:state:{tag_id}
func TagStateKey(tagID string) string {
	return fmt.Sprintf("tag:state:%s", tagID)
}
