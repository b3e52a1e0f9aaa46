package domain

import "time"

// VehicleDetails is the driver's vehicle and license bundle. The engine carries it
// through without interpreting it.
type VehicleDetails map[string]string

// Clone returns an independent copy of the bundle.
func (v VehicleDetails) Clone() VehicleDetails {
	if v == nil {
		return nil
	}
	c := make(VehicleDetails, len(v))
	for k, val := range v {
		c[k] = val
	}
	return c
}

// Driver represents a driver in the system.
type Driver struct {
	ID        string
	Name      string
	Phone     string
	IsOnline  bool
	Vehicle   VehicleDetails
	CreatedAt time.Time
}
