package tracker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/saaga0h/jeeves-rtls/internal/history"
	"github.com/saaga0h/jeeves-rtls/pkg/mqtt"
)

// Processor handles parsing of raw zone assignments and building of
// transition records
type Processor struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor creates a new message processor
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{
		logger: logger,
		now:    time.Now,
	}
}

// ZoneMessage is a parsed raw zone assignment
type ZoneMessage struct {
	TagID         string
	ZoneID        string
	Distance      float64
	Timestamp     time.Time
	OriginalTopic string
	ReceivedAt    time.Time
}

// Observation converts the message for the debouncer
func (m *ZoneMessage) Observation() history.Observation {
	return history.Observation{
		TagID:     m.TagID,
		ZoneID:    m.ZoneID,
		Distance:  m.Distance,
		Timestamp: m.Timestamp,
	}
}

// TransitionRecord is published after the history of a tag changed
type TransitionRecord struct {
	TagID           string          `json:"tag_id"`
	Outcome         history.Outcome `json:"outcome"`
	ZoneID          string          `json:"zone_id"`
	ZoneName        string          `json:"zone_name"`
	Since           time.Time       `json:"since"`
	PreviousZoneID  string          `json:"previous_zone_id,omitempty"`
	DiscardedZoneID string          `json:"discarded_zone_id,omitempty"`
	DwellMS         int64           `json:"dwell_ms"`
	ObservedAt      time.Time       `json:"observed_at"`
	Distance        float64         `json:"distance"`
}

// ParseMessage parses an MQTT message into a zone assignment.
// Topic pattern: rtls/raw/zone/{tag_id}
// Payload: {"data": {"zone_id": "...", "distance": 1.2, "timestamp": ...}}, the
// "data" wrapper is optional.
func (p *Processor) ParseMessage(topic string, payload []byte) (*ZoneMessage, error) {
	topicTag := mqtt.TagIDFromTopic(topic)

	var rawData map[string]interface{}
	if err := json.Unmarshal(payload, &rawData); err != nil {
		p.logger.Error("Failed to parse JSON payload", "topic", topic, "error", err)
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	data, ok := rawData["data"].(map[string]interface{})
	if !ok {
		data = rawData
	}

	now := p.now().UTC()
	msg := &ZoneMessage{
		TagID:         topicTag,
		OriginalTopic: topic,
		Timestamp:     now,
		ReceivedAt:    now,
	}

	if tagID, ok := data["tag_id"].(string); ok && tagID != "" {
		if topicTag != "" && tagID != topicTag {
			p.logger.Warn("Payload tag differs from topic", "topic", topic, "tag_id", tagID)
		}
		msg.TagID = tagID
	}
	if msg.TagID == "" {
		return nil, fmt.Errorf("no tag id in topic %s or payload", topic)
	}

	zoneID, ok := data["zone_id"].(string)
	if !ok || zoneID == "" {
		return nil, fmt.Errorf("missing zone_id for tag %s", msg.TagID)
	}
	msg.ZoneID = zoneID

	if raw, present := data["distance"]; present {
		distance, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("distance for tag %s must be a number, got %T", msg.TagID, raw)
		}
		msg.Distance = distance
	}

	if raw, present := data["timestamp"]; present {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp for tag %s: %w", msg.TagID, err)
		}
		msg.Timestamp = ts
	}

	p.logger.Debug("Parsed zone message",
		"tag_id", msg.TagID,
		"zone_id", msg.ZoneID,
		"topic", topic)

	return msg, nil
}

// parseTimestamp accepts RFC3339 strings and unix milliseconds
func parseTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

// BuildTransitionPayload builds the JSON published on rtls/history/{tag_id}
func (p *Processor) BuildTransitionPayload(msg *ZoneMessage, res history.Result) ([]byte, error) {
	if res.Current == nil {
		return nil, fmt.Errorf("no open interval for tag %s", msg.TagID)
	}

	record := TransitionRecord{
		TagID:      msg.TagID,
		Outcome:    res.Outcome,
		ZoneID:     res.Current.ZoneID,
		ZoneName:   res.Current.ZoneName,
		Since:      res.Current.Start,
		DwellMS:    res.Decision.Dwell.Milliseconds(),
		ObservedAt: msg.Timestamp,
		Distance:   msg.Distance,
	}
	if res.Closed != nil {
		record.PreviousZoneID = res.Closed.ZoneID
	}
	if res.Discarded != nil {
		record.DiscardedZoneID = res.Discarded.ZoneID
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition: %w", err)
	}
	return payload, nil
}
