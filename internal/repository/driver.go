package repository

import (
	"context"

	"ridebook/internal/domain"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetByPhone retrieves a driver by phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.Driver, error)

	// GetAll retrieves all drivers.
	GetAll(ctx context.Context) ([]*domain.Driver, error)

	// SetOnline updates the self-reported availability of a driver.
	SetOnline(ctx context.Context, id string, online bool) error

	// UpdateVehicle replaces the driver's vehicle bundle.
	UpdateVehicle(ctx context.Context, id string, vehicle domain.VehicleDetails) error
}
