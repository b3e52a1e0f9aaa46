package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDriverBusy is returned when a write would give a driver a second active reservation.
	ErrDriverBusy = errors.New("driver already holds an active reservation")

	// ErrDuplicate is returned when an entity with the same key already exists.
	ErrDuplicate = errors.New("entity already exists")
)
