package mqtt

import "testing"

func TestTagIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"rtls/raw/zone/tag-42", "tag-42"},
		{"rtls/history/badge_7", "badge_7"},
		{"rtls/raw/zone/", ""},
		{"no-levels", ""},
	}

	for _, tt := range tests {
		if got := TagIDFromTopic(tt.topic); got != tt.want {
			t.Errorf("TagIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestTopicBuilders(t *testing.T) {
	if got := RawZoneTopic("t1"); got != "rtls/raw/zone/t1" {
		t.Errorf("RawZoneTopic() = %q", got)
	}
	if got := HistoryTopic("t1"); got != "rtls/history/t1" {
		t.Errorf("HistoryTopic() = %q", got)
	}
}
