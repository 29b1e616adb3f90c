package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saaga0h/jeeves-rtls/pkg/redis"
)

// Setting names understood by the debouncer
const (
	SettingMinDwell          = "MIN_DWELL"
	SettingMinDwellReturning = "MIN_DWELL_RETURNING"
)

// SettingsProvider exposes named duration thresholds
type SettingsProvider interface {
	// GetDuration returns the named duration. Missing settings wrap ErrSettingMissing.
	GetDuration(ctx context.Context, name string) (time.Duration, error)
}

// Thresholds are the hysteresis grace periods in effect for one decision
type Thresholds struct {
	// MinDwell applies when moving to a zone other than the one just left
	MinDwell time.Duration
	// MinDwellReturning applies when bouncing back to the zone just left
	MinDwellReturning time.Duration
}

// For returns the threshold for a returning or non-returning transition
func (t Thresholds) For(returning bool) time.Duration {
	if returning {
		return t.MinDwellReturning
	}
	return t.MinDwell
}

// LoadThresholds reads both settings and checks them
func LoadThresholds(ctx context.Context, p SettingsProvider) (Thresholds, error) {
	minDwell, err := readPositive(ctx, p, SettingMinDwell)
	if err != nil {
		return Thresholds{}, err
	}
	returning, err := readPositive(ctx, p, SettingMinDwellReturning)
	if err != nil {
		return Thresholds{}, err
	}
	return Thresholds{MinDwell: minDwell, MinDwellReturning: returning}, nil
}

// CheckSettings verifies at startup that every required setting is present and valid
func CheckSettings(ctx context.Context, p SettingsProvider) error {
	_, err := LoadThresholds(ctx, p)
	return err
}

func readPositive(ctx context.Context, p SettingsProvider, name string) (time.Duration, error) {
	d, err := p.GetDuration(ctx, name)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s=%s", ErrInvalidSetting, name, d)
	}
	return d, nil
}

// StaticSettings serves fixed values, typically from flags or tests
type StaticSettings map[string]time.Duration

// NewStaticSettings builds a provider holding both thresholds
func NewStaticSettings(minDwell, minDwellReturning time.Duration) StaticSettings {
	return StaticSettings{
		SettingMinDwell:          minDwell,
		SettingMinDwellReturning: minDwellReturning,
	}
}

// GetDuration returns the named value
func (s StaticSettings) GetDuration(ctx context.Context, name string) (time.Duration, error) {
	d, ok := s[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSettingMissing, name)
	}
	return d, nil
}

// RedisSettings reads thresholds from a Redis hash on every call, so changes
// apply to the next decision without a restart. Values are Go duration
// strings ("5s") or plain integers taken as seconds.
type RedisSettings struct {
	redis redis.Client
	key   string
}

// NewRedisSettings reads from the default settings hash
func NewRedisSettings(client redis.Client) *RedisSettings {
	return &RedisSettings{redis: client, key: redis.SettingsKey}
}

// GetDuration reads and parses the named hash field
func (s *RedisSettings) GetDuration(ctx context.Context, name string) (time.Duration, error) {
	raw, err := s.redis.HGet(ctx, s.key, name)
	if errors.Is(err, redis.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrSettingMissing, name)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read setting %s: %w", ErrTransient, name, err)
	}
	return parseDuration(name, raw)
}

func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidSetting, name, raw)
}
