package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebook/internal/domain"
	"ridebook/internal/lock"
	"ridebook/internal/redis"
	"ridebook/internal/repository/memory"
	"ridebook/internal/watch"
)

// fakeDriverCache is a map-backed DriverCacheInterface with the same
// overwrite and fill semantics as the Redis store.
type fakeDriverCache struct {
	mu      sync.Mutex
	drivers map[string]redis.CachedDriver
}

func newFakeDriverCache() *fakeDriverCache {
	return &fakeDriverCache{drivers: make(map[string]redis.CachedDriver)}
}

func (c *fakeDriverCache) GetDriver(ctx context.Context, driverID string) (*redis.CachedDriver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drivers[driverID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (c *fakeDriverCache) SetDriver(ctx context.Context, driver *redis.CachedDriver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers[driver.ID] = *driver
	return nil
}

func (c *fakeDriverCache) FillDriver(ctx context.Context, driver *redis.CachedDriver) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.drivers[driver.ID]; ok {
		return false, nil
	}
	c.drivers[driver.ID] = *driver
	return true, nil
}

func (c *fakeDriverCache) InvalidateDriver(ctx context.Context, driverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, driverID)
	return nil
}

func (c *fakeDriverCache) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*redis.CachedDriver, []string, error) {
	hits := make(map[string]*redis.CachedDriver)
	var missing []string
	for _, id := range driverIDs {
		d, _ := c.GetDriver(ctx, id)
		if d == nil {
			missing = append(missing, id)
			continue
		}
		hits[id] = d
	}
	return hits, missing, nil
}

// pausingDriverRepo blocks the first GetByID after reading until release is closed.
type pausingDriverRepo struct {
	*memory.DriverRepository
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (r *pausingDriverRepo) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	d, err := r.DriverRepository.GetByID(ctx, id)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	return d, err
}

func TestRegisterDriver(t *testing.T) {
	svc := NewDriverService(nil, nil, memory.NewDriverRepository())
	ctx := context.Background()

	_, err := svc.RegisterDriver(ctx, RegisterDriverRequest{Name: " ", Phone: "+31"})
	assert.ErrorIs(t, err, ErrInvalidDriverName)

	_, err = svc.RegisterDriver(ctx, RegisterDriverRequest{Name: "Ana"})
	assert.ErrorIs(t, err, ErrInvalidPhone)

	vehicle := domain.VehicleDetails{"plate": "AB-123-C"}
	d, err := svc.RegisterDriver(ctx, RegisterDriverRequest{Name: "Ana", Phone: "+31600000001", Vehicle: vehicle})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.IsOnline)

	vehicle["plate"] = "changed"
	got, err := svc.GetDriver(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB-123-C", got.Vehicle["plate"])

	all, err := svc.ListDrivers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSetDriverOnline_ReflectsInLookup(t *testing.T) {
	svc := NewDriverService(nil, nil, memory.NewDriverRepository())
	ctx := context.Background()

	d, err := svc.RegisterDriver(ctx, RegisterDriverRequest{Name: "Ana", Phone: "+31600000001"})
	require.NoError(t, err)

	got, err := svc.Lookup(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)

	_, err = svc.SetDriverOnline(ctx, d.ID, true)
	require.NoError(t, err)

	got, err = svc.Lookup(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)

	_, err = svc.SetDriverOnline(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Lookup(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidDriverID)
}

func TestDriverPositions_RequireIndex(t *testing.T) {
	svc := NewDriverService(nil, nil, memory.NewDriverRepository())
	ctx := context.Background()

	_, err := svc.NearbyDrivers(ctx, domain.Point{Lat: 52, Lng: 4}, 5, 10)
	assert.ErrorIs(t, err, ErrLocationIndexUnavailable)

	_, err = svc.NearbyDrivers(ctx, domain.Point{Lat: 52, Lng: 4}, -1, 10)
	assert.ErrorIs(t, err, ErrInvalidRadius)

	_, err = svc.NearbyDrivers(ctx, domain.Point{Lat: 95, Lng: 4}, 5, 10)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	err = svc.UpdatePosition(ctx, "d1", domain.Point{Lat: 52, Lng: 4})
	assert.ErrorIs(t, err, ErrLocationIndexUnavailable)
}

func TestAssign_ReadsOnlineFlagPastStaleCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeDriverCache()
	repo := memory.NewDriverRepository()
	drivers := NewDriverService(nil, cache, repo)

	d, err := drivers.RegisterDriver(ctx, RegisterDriverRequest{Name: "Ana", Phone: "+31600000001"})
	require.NoError(t, err)
	_, err = drivers.SetDriverOnline(ctx, d.ID, true)
	require.NoError(t, err)

	// The driver went offline but the cache still says online.
	require.NoError(t, repo.SetOnline(ctx, d.ID, false))
	cached, err := cache.GetDriver(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, cached.IsOnline)

	store := memory.NewStore()
	svc := NewReservationService(store.Reservations(), drivers, lock.NewKeyedMutex(), nil, watch.NewHub())
	res, err := svc.CreateReservation(ctx, CreateReservationRequest{
		CustomerID: customer.ID,
		Pickup:     domain.Place{Point: domain.Point{Lat: 52.37, Lng: 4.89}},
		Dropoff:    domain.Place{Point: domain.Point{Lat: 52.31, Lng: 4.76}},
		Cost:       40,
		Paid:       true,
	})
	require.NoError(t, err)

	_, err = svc.Assign(ctx, res.ID, d.ID, manager)
	assert.ErrorIs(t, err, ErrDriverOffline)
}

func TestDriverCache_FillNeverReplacesNewerEntry(t *testing.T) {
	ctx := context.Background()
	cache := newFakeDriverCache()
	repo := &pausingDriverRepo{
		DriverRepository: memory.NewDriverRepository(),
		read:             make(chan struct{}),
		release:          make(chan struct{}),
	}
	require.NoError(t, repo.Create(ctx, &domain.Driver{ID: "d1", Name: "Ana", Phone: "+31", IsOnline: true, CreatedAt: time.Now()}))
	drivers := NewDriverService(nil, cache, repo)

	// A cache miss reads online=true and stalls before filling.
	done := make(chan error, 1)
	go func() {
		_, err := drivers.cachedDriver(ctx, "d1")
		done <- err
	}()
	<-repo.read

	_, err := drivers.SetDriverOnline(ctx, "d1", false)
	require.NoError(t, err)

	close(repo.release)
	require.NoError(t, <-done)

	cached, err := cache.GetDriver(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.False(t, cached.IsOnline)

	got, err := drivers.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
}
