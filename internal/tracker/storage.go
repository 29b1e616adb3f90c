package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/saaga0h/jeeves-rtls/pkg/redis"
)

// TTL for cached tag state
const tagStateTTL = 24 * time.Hour

// CachedTag is the last recorded zone of a tag
type CachedTag struct {
	ZoneID   string
	Distance float64
	LastSeen time.Time
}

// Storage keeps the per-tag zone cache in Redis.
// Pattern: tag:state:{tag_id} (hash with zone_id, distance, last_seen)
type Storage struct {
	redis  redis.Client
	logger *slog.Logger
}

// NewStorage creates a new storage handler
func NewStorage(redisClient redis.Client, logger *slog.Logger) *Storage {
	return &Storage{
		redis:  redisClient,
		logger: logger,
	}
}

// Load returns the cached state, or nil when the tag is not cached
func (s *Storage) Load(ctx context.Context, tagID string) (*CachedTag, error) {
	fields, err := s.redis.HGetAll(ctx, redis.TagStateKey(tagID))
	if err != nil {
		return nil, fmt.Errorf("failed to load tag state: %w", err)
	}
	zoneID := fields["zone_id"]
	if zoneID == "" {
		return nil, nil
	}

	state := &CachedTag{ZoneID: zoneID}
	if v, err := strconv.ParseFloat(fields["distance"], 64); err == nil {
		state.Distance = v
	}
	if v, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		state.LastSeen = time.UnixMilli(v).UTC()
	}
	return state, nil
}

// Save records the tag's zone
func (s *Storage) Save(ctx context.Context, tagID string, state CachedTag) error {
	return s.write(ctx, tagID, map[string]interface{}{
		"zone_id":   state.ZoneID,
		"distance":  strconv.FormatFloat(state.Distance, 'f', -1, 64),
		"last_seen": strconv.FormatInt(state.LastSeen.UnixMilli(), 10),
	})
}

// Touch refreshes distance and last_seen without changing the zone
func (s *Storage) Touch(ctx context.Context, tagID string, distance float64, seen time.Time) error {
	return s.write(ctx, tagID, map[string]interface{}{
		"distance":  strconv.FormatFloat(distance, 'f', -1, 64),
		"last_seen": strconv.FormatInt(seen.UnixMilli(), 10),
	})
}

func (s *Storage) write(ctx context.Context, tagID string, fields map[string]interface{}) error {
	key := redis.TagStateKey(tagID)
	if err := s.redis.HSetFields(ctx, key, fields); err != nil {
		return fmt.Errorf("failed to store tag state: %w", err)
	}
	if err := s.redis.Expire(ctx, key, tagStateTTL); err != nil {
		s.logger.Warn("Failed to set TTL on tag state", "key", key, "error", err)
	}
	return nil
}
