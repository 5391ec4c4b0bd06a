package repository

import (
	"context"
	"time"

	"github.com/LockTrip/b2b-integration/internal/domain"
)

// RunRepository defines the interface for booking run persistence operations.
type RunRepository interface {
	// Create inserts a new booking run into the store.
	Create(ctx context.Context, run *domain.BookingRun) error

	// GetByID retrieves a booking run by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.BookingRun, error)

	// Update modifies an existing booking run in the store.
	Update(ctx context.Context, run *domain.BookingRun) error

	// List returns the most recent runs, newest first.
	List(ctx context.Context, limit int) ([]domain.BookingRun, error)

	// ListStale returns non-terminal runs not updated since the given time.
	ListStale(ctx context.Context, before time.Time) ([]domain.BookingRun, error)
}
