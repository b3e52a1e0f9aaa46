package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ridebook/internal/domain"
)

// DriverCacheTTL bounds how stale a cached online flag or vehicle bundle can be.
const DriverCacheTTL = 30 * time.Second

const (
	driverCachePrefix   = "cache:driver:"
	onlineDriversSetKey = "drivers:online"
)

// CachedDriver is the part of a driver the assignment path reads.
type CachedDriver struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	IsOnline bool                  `json:"is_online"`
	Vehicle  domain.VehicleDetails `json:"vehicle,omitempty"`
}

// CacheStore handles driver directory caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetDriver retrieves a driver from cache. Returns nil on a miss.
func (s *CacheStore) GetDriver(ctx context.Context, driverID string) (*CachedDriver, error) {
	data, err := s.client.Get(ctx, driverCachePrefix+driverID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var driver CachedDriver
	if err := json.Unmarshal(data, &driver); err != nil {
		return nil, err
	}
	return &driver, nil
}

// SetDriver stores a driver in cache and keeps the online set in step.
func (s *CacheStore) SetDriver(ctx context.Context, driver *CachedDriver) error {
	data, err := json.Marshal(driver)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, driverCachePrefix+driver.ID, data, DriverCacheTTL)
	if driver.IsOnline {
		pipe.SAdd(ctx, onlineDriversSetKey, driver.ID)
	} else {
		pipe.SRem(ctx, onlineDriversSetKey, driver.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// FillDriver caches a driver read on a miss. It writes only when no entry
// exists, so a fill that raced a mutation never replaces the mutation's entry.
func (s *CacheStore) FillDriver(ctx context.Context, driver *CachedDriver) (bool, error) {
	data, err := json.Marshal(driver)
	if err != nil {
		return false, err
	}

	stored, err := s.client.SetNX(ctx, driverCachePrefix+driver.ID, data, DriverCacheTTL).Result()
	if err != nil || !stored {
		return stored, err
	}

	if driver.IsOnline {
		err = s.client.SAdd(ctx, onlineDriversSetKey, driver.ID).Err()
	} else {
		err = s.client.SRem(ctx, onlineDriversSetKey, driver.ID).Err()
	}
	return true, err
}

// InvalidateDriver removes a driver from cache.
func (s *CacheStore) InvalidateDriver(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, driverCachePrefix+driverID).Err()
}

// GetDriversBatch retrieves multiple drivers from cache using a pipeline.
// Returns the hits and the IDs that missed.
func (s *CacheStore) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error) {
	result := make(map[string]*CachedDriver, len(driverIDs))
	if len(driverIDs) == 0 {
		return result, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(driverIDs))
	for i, id := range driverIDs {
		cmds[i] = pipe.Get(ctx, driverCachePrefix+id)
	}

	// Exec reports redis.Nil when any key is missing; per-command errors are checked below.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}

	var missing []string
	for i, cmd := range cmds {
		id := driverIDs[i]
		data, err := cmd.Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}

		var driver CachedDriver
		if err := json.Unmarshal(data, &driver); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &driver
	}

	return result, missing, nil
}

// IsDriverOnline checks if a driver is in the online set.
func (s *CacheStore) IsDriverOnline(ctx context.Context, driverID string) (bool, error) {
	return s.client.SIsMember(ctx, onlineDriversSetKey, driverID).Result()
}

// GetOnlineDrivers returns all online driver IDs.
func (s *CacheStore) GetOnlineDrivers(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, onlineDriversSetKey).Result()
}
