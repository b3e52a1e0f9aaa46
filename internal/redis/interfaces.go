package redis

import (
	"context"

	"ridebook/internal/domain"
)

// LocationStoreInterface defines the interface for driver position operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, driverID string, p domain.Point) error
	FindNearbyDrivers(ctx context.Context, p domain.Point, radiusKm float64, limit int) ([]DriverLocation, error)
	RemoveLocation(ctx context.Context, driverID string) error
}

// DriverCacheInterface defines the interface for the driver directory cache.
type DriverCacheInterface interface {
	GetDriver(ctx context.Context, driverID string) (*CachedDriver, error)
	SetDriver(ctx context.Context, driver *CachedDriver) error
	FillDriver(ctx context.Context, driver *CachedDriver) (bool, error)
	InvalidateDriver(ctx context.Context, driverID string) error
	GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error)
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ DriverCacheInterface   = (*CacheStore)(nil)
)
