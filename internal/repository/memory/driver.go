package memory

import (
	"context"
	"sort"
	"sync"

	"ridebook/internal/domain"
	"ridebook/internal/repository"
)

// DriverRepository is an in-memory implementation of repository.DriverRepository.
type DriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver
}

var _ repository.DriverRepository = (*DriverRepository)(nil)

// NewDriverRepository creates an empty DriverRepository.
func NewDriverRepository() *DriverRepository {
	return &DriverRepository{drivers: make(map[string]*domain.Driver)}
}

func (m *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[driver.ID]; ok {
		return repository.ErrDuplicate
	}
	m.drivers[driver.ID] = cloneDriver(driver)
	return nil
}

func (m *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneDriver(d), nil
}

func (m *DriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.Phone == phone {
			return cloneDriver(d), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *DriverRepository) GetAll(ctx context.Context) ([]*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, cloneDriver(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *DriverRepository) SetOnline(ctx context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.IsOnline = online
	return nil
}

func (m *DriverRepository) UpdateVehicle(ctx context.Context, id string, vehicle domain.VehicleDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Vehicle = vehicle.Clone()
	return nil
}

func cloneDriver(d *domain.Driver) *domain.Driver {
	c := *d
	c.Vehicle = d.Vehicle.Clone()
	return &c
}
