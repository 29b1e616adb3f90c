package history

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/saaga0h/jeeves-rtls/pkg/redis"
)

// ZoneCatalog resolves zone ids to reference data
type ZoneCatalog interface {
	// Lookup returns the zone or an error wrapping ErrUnknownZone
	Lookup(ctx context.Context, zoneID string) (Zone, error)
}

// StaticZones is a fixed catalog, usually loaded from YAML
type StaticZones map[string]Zone

// zoneFile is the on-disk catalog layout
type zoneFile struct {
	Zones []Zone `yaml:"zones"`
}

// LoadZoneCatalog loads a catalog from a YAML file
func LoadZoneCatalog(path string) (StaticZones, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone catalog: %w", err)
	}
	return ParseZoneCatalog(data)
}

// ParseZoneCatalog parses YAML of the form:
//
//	zones:
//	  - id: ward-a
//	    name: Ward A
func ParseZoneCatalog(data []byte) (StaticZones, error) {
	var file zoneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse zone catalog YAML: %w", err)
	}

	zones := make(StaticZones, len(file.Zones))
	for i, z := range file.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("zone %d: id is required", i)
		}
		if _, dup := zones[z.ID]; dup {
			return nil, fmt.Errorf("zone %d: duplicate id %q", i, z.ID)
		}
		if z.Name == "" {
			z.Name = z.ID
		}
		zones[z.ID] = z
	}
	return zones, nil
}

// Lookup returns the zone with the given id
func (s StaticZones) Lookup(ctx context.Context, zoneID string) (Zone, error) {
	z, ok := s[zoneID]
	if !ok {
		return Zone{}, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}
	return z, nil
}

// RedisZones resolves zone names from the zones hash maintained by the catalog service
type RedisZones struct {
	redis redis.Client
}

// NewRedisZones creates a Redis-backed catalog
func NewRedisZones(client redis.Client) *RedisZones {
	return &RedisZones{redis: client}
}

// Lookup reads the zone name for zoneID
func (r *RedisZones) Lookup(ctx context.Context, zoneID string) (Zone, error) {
	name, err := r.redis.HGet(ctx, redis.ZoneNamesKey, zoneID)
	if errors.Is(err, redis.ErrNotFound) {
		return Zone{}, fmt.Errorf("%w: %s", ErrUnknownZone, zoneID)
	}
	if err != nil {
		return Zone{}, fmt.Errorf("%w: lookup zone %s: %w", ErrTransient, zoneID, err)
	}
	return Zone{ID: zoneID, Name: name}, nil
}
