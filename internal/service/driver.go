package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridebook/internal/domain"
	"ridebook/internal/redis"
	"ridebook/internal/repository"
)

const defaultSearchRadiusKm = 5.0

// DriverService is the driver directory: registration, availability, vehicle
// details and positions. It is the DriverDirectory the engine consults at assignment.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	cacheStore    redis.DriverCacheInterface
	driverRepo    repository.DriverRepository
	now           func() time.Time
}

var _ DriverDirectory = (*DriverService)(nil)

// NewDriverService creates a new DriverService. locationStore and cacheStore may be nil.
func NewDriverService(
	locationStore redis.LocationStoreInterface,
	cacheStore redis.DriverCacheInterface,
	driverRepo repository.DriverRepository,
) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		cacheStore:    cacheStore,
		driverRepo:    driverRepo,
		now:           time.Now,
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name    string
	Phone   string
	Vehicle domain.VehicleDetails
}

// RegisterDriver adds a driver to the directory. New drivers start offline.
func (s *DriverService) RegisterDriver(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidDriverName
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, ErrInvalidPhone
	}

	driver := &domain.Driver{
		ID:        uuid.New().String(),
		Name:      name,
		Phone:     phone,
		Vehicle:   req.Vehicle.Clone(),
		CreatedAt: s.now(),
	}

	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, err
	}

	return driver, nil
}

// GetDriver retrieves a driver by ID.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.driverRepo.GetByID(ctx, driverID)
}

// ListDrivers returns every registered driver.
func (s *DriverService) ListDrivers(ctx context.Context) ([]*domain.Driver, error) {
	return s.driverRepo.GetAll(ctx)
}

// Lookup returns the driver's availability and vehicle bundle as stored right
// now. Assign decides on this, so it never reads the cache.
func (s *DriverService) Lookup(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.driverRepo.GetByID(ctx, driverID)
}

// cachedDriver reads the driver cache first and fills it on a miss.
func (s *DriverService) cachedDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetDriver(ctx, driverID)
		if err != nil {
			log.Printf("Driver cache read failed for %s: %v", driverID, err)
		} else if cached != nil {
			return cachedToDriver(cached), nil
		}
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}

	s.fillCache(ctx, driver)
	return driver, nil
}

// SetDriverOnline updates the driver's self-reported availability. Going
// offline also drops the driver from the position index.
func (s *DriverService) SetDriverOnline(ctx context.Context, driverID string, online bool) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	if err := s.driverRepo.SetOnline(ctx, driverID, online); err != nil {
		return nil, err
	}

	if !online && s.locationStore != nil {
		if err := s.locationStore.RemoveLocation(ctx, driverID); err != nil {
			log.Printf("Failed to remove driver %s from location index: %v", driverID, err)
		}
	}

	return s.refresh(ctx, driverID)
}

// UpdateVehicle replaces the driver's vehicle bundle. Reservations that were
// already assigned keep the bundle they snapshotted.
func (s *DriverService) UpdateVehicle(ctx context.Context, driverID string, vehicle domain.VehicleDetails) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	if err := s.driverRepo.UpdateVehicle(ctx, driverID, vehicle.Clone()); err != nil {
		return nil, err
	}

	return s.refresh(ctx, driverID)
}

// UpdatePosition records where an online driver is, for nearby search.
func (s *DriverService) UpdatePosition(ctx context.Context, driverID string, p domain.Point) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	if !p.Valid() {
		return ErrInvalidLocation
	}

	if s.locationStore == nil {
		return ErrLocationIndexUnavailable
	}

	driver, err := s.cachedDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if !driver.IsOnline {
		return ErrDriverOffline
	}

	return s.locationStore.UpdateLocation(ctx, driverID, p)
}

// NearbyDriver is a search hit.
type NearbyDriver struct {
	Driver     *domain.Driver
	Position   domain.Point
	DistanceKm float64
}

// NearbyDrivers lists online drivers within radiusKm of p, closest first. It
// only informs the manager's choice; it never assigns.
func (s *DriverService) NearbyDrivers(ctx context.Context, p domain.Point, radiusKm float64, limit int) ([]NearbyDriver, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}

	if radiusKm < 0 {
		return nil, ErrInvalidRadius
	}
	if radiusKm == 0 {
		radiusKm = defaultSearchRadiusKm
	}

	if s.locationStore == nil {
		return nil, ErrLocationIndexUnavailable
	}

	locations, err := s.locationStore.FindNearbyDrivers(ctx, p, radiusKm, limit)
	if err != nil {
		return nil, err
	}

	if len(locations) == 0 {
		return []NearbyDriver{}, nil
	}

	driverIDs := make([]string, len(locations))
	for i, loc := range locations {
		driverIDs[i] = loc.DriverID
	}

	cached := make(map[string]*redis.CachedDriver)
	missing := driverIDs
	if s.cacheStore != nil {
		hits, miss, err := s.cacheStore.GetDriversBatch(ctx, driverIDs)
		if err != nil {
			log.Printf("Driver cache batch read failed: %v", err)
		} else {
			cached, missing = hits, miss
		}
	}

	loaded := make(map[string]*domain.Driver, len(missing))
	for _, id := range missing {
		driver, err := s.driverRepo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		loaded[id] = driver
		s.fillCache(ctx, driver)
	}

	out := make([]NearbyDriver, 0, len(locations))
	for _, loc := range locations {
		var driver *domain.Driver
		if c, ok := cached[loc.DriverID]; ok {
			driver = cachedToDriver(c)
		} else if d, ok := loaded[loc.DriverID]; ok {
			driver = d
		} else {
			continue
		}

		if !driver.IsOnline {
			continue
		}

		out = append(out, NearbyDriver{
			Driver:     driver,
			Position:   loc.Point,
			DistanceKm: loc.DistanceKm,
		})
	}

	return out, nil
}

// refresh re-reads the driver and rewrites its cache entry.
func (s *DriverService) refresh(ctx context.Context, driverID string) (*domain.Driver, error) {
	if s.cacheStore != nil {
		if err := s.cacheStore.InvalidateDriver(ctx, driverID); err != nil {
			log.Printf("Failed to invalidate cached driver %s: %v", driverID, err)
		}
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}

	s.storeCache(ctx, driver)
	return driver, nil
}

// storeCache overwrites the cache entry after a mutation.
func (s *DriverService) storeCache(ctx context.Context, driver *domain.Driver) {
	if s.cacheStore == nil {
		return
	}
	if err := s.cacheStore.SetDriver(ctx, toCachedDriver(driver)); err != nil {
		log.Printf("Failed to cache driver %s: %v", driver.ID, err)
	}
}

// fillCache caches a read unless a newer entry got there first.
func (s *DriverService) fillCache(ctx context.Context, driver *domain.Driver) {
	if s.cacheStore == nil {
		return
	}
	if _, err := s.cacheStore.FillDriver(ctx, toCachedDriver(driver)); err != nil {
		log.Printf("Failed to cache driver %s: %v", driver.ID, err)
	}
}

func toCachedDriver(driver *domain.Driver) *redis.CachedDriver {
	return &redis.CachedDriver{
		ID:       driver.ID,
		Name:     driver.Name,
		IsOnline: driver.IsOnline,
		Vehicle:  driver.Vehicle,
	}
}

func cachedToDriver(cached *redis.CachedDriver) *domain.Driver {
	return &domain.Driver{
		ID:       cached.ID,
		Name:     cached.Name,
		IsOnline: cached.IsOnline,
		Vehicle:  cached.Vehicle.Clone(),
	}
}
