package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LockTrip/b2b-integration/internal/domain"
	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

// DB is the subset of pgxpool.Pool the repository needs. Satisfied by both
// *pgxpool.Pool and pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunRepository implements repository.RunRepository using PostgreSQL.
type RunRepository struct {
	pool DB
}

// NewRunRepository creates a new PostgreSQL-backed booking run repository.
func NewRunRepository(pool DB) *RunRepository {
	return &RunRepository{pool: pool}
}

const runColumns = `id, mode, state, query, session,
	hotel_id, hotel_name, hotel_fallback,
	offer_id, package_id, offer_fallback, poll_attempts,
	prepare_id, booking_id, price, currency,
	failure_reason, compensation_error,
	created_at, updated_at`

// Create inserts a new booking run into the database.
func (r *RunRepository) Create(ctx context.Context, run *domain.BookingRun) error {
	sessionJSON, err := json.Marshal(run.Session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	query := `
		INSERT INTO booking_runs (
			id, mode, state, query, session,
			hotel_id, hotel_name, hotel_fallback,
			offer_id, package_id, offer_fallback, poll_attempts,
			prepare_id, booking_id, price, currency,
			failure_reason, compensation_error,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18,
			$19, $20
		)`

	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Mode,
		run.State,
		nullableString(run.Query),
		sessionJSON,
		nullableString(run.HotelID),
		nullableString(run.HotelName),
		run.HotelFallback,
		nullableString(run.OfferID),
		nullableString(run.PackageID),
		run.OfferFallback,
		run.PollAttempts,
		nullableString(run.PrepareID),
		nullableString(run.BookingID),
		run.Price,
		nullableString(run.Currency),
		nullableString(run.FailureReason),
		nullableString(run.CompensationError),
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking run: %w", err)
	}

	return nil
}

// GetByID retrieves a booking run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.BookingRun, error) {
	query := `SELECT ` + runColumns + ` FROM booking_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("booking_run", id)
		}
		return nil, fmt.Errorf("get booking run: %w", err)
	}
	return run, nil
}

// Update modifies an existing booking run in the database.
func (r *RunRepository) Update(ctx context.Context, run *domain.BookingRun) error {
	sessionJSON, err := json.Marshal(run.Session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	run.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE booking_runs
		SET mode = $1, state = $2, query = $3, session = $4,
			hotel_id = $5, hotel_name = $6, hotel_fallback = $7,
			offer_id = $8, package_id = $9, offer_fallback = $10, poll_attempts = $11,
			prepare_id = $12, booking_id = $13, price = $14, currency = $15,
			failure_reason = $16, compensation_error = $17,
			updated_at = $18
		WHERE id = $19`

	ct, err := r.pool.Exec(ctx, query,
		run.Mode,
		run.State,
		nullableString(run.Query),
		sessionJSON,
		nullableString(run.HotelID),
		nullableString(run.HotelName),
		run.HotelFallback,
		nullableString(run.OfferID),
		nullableString(run.PackageID),
		run.OfferFallback,
		run.PollAttempts,
		nullableString(run.PrepareID),
		nullableString(run.BookingID),
		run.Price,
		nullableString(run.Currency),
		nullableString(run.FailureReason),
		nullableString(run.CompensationError),
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update booking run: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("booking_run", run.ID)
	}

	return nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.BookingRun, error) {
	query := `SELECT ` + runColumns + ` FROM booking_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list booking runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListStale returns non-terminal runs not updated since the given time. Used
// by the reaper to mark abandoned runs as failed.
func (r *RunRepository) ListStale(ctx context.Context, before time.Time) ([]domain.BookingRun, error) {
	query := `SELECT ` + runColumns + ` FROM booking_runs
		WHERE updated_at < $1 AND state NOT IN ('done', 'cancelled', 'failed')
		ORDER BY updated_at ASC`

	rows, err := r.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("list stale booking runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]domain.BookingRun, error) {
	var runs []domain.BookingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking run row: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking run rows: %w", err)
	}

	if runs == nil {
		runs = []domain.BookingRun{}
	}
	return runs, nil
}

// scanRun reads one booking run from a row. Works for both QueryRow and Rows
// since pgx exposes the same Scan shape on each.
func scanRun(row pgx.Row) (*domain.BookingRun, error) {
	var (
		run               domain.BookingRun
		query             *string
		sessionJSON       []byte
		hotelID           *string
		hotelName         *string
		offerID           *string
		packageID         *string
		prepareID         *string
		bookingID         *string
		currency          *string
		failureReason     *string
		compensationError *string
	)

	if err := row.Scan(
		&run.ID,
		&run.Mode,
		&run.State,
		&query,
		&sessionJSON,
		&hotelID,
		&hotelName,
		&run.HotelFallback,
		&offerID,
		&packageID,
		&run.OfferFallback,
		&run.PollAttempts,
		&prepareID,
		&bookingID,
		&run.Price,
		&currency,
		&failureReason,
		&compensationError,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if sessionJSON != nil {
		if err := json.Unmarshal(sessionJSON, &run.Session); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
	}

	run.Query = deref(query)
	run.HotelID = deref(hotelID)
	run.HotelName = deref(hotelName)
	run.OfferID = deref(offerID)
	run.PackageID = deref(packageID)
	run.PrepareID = deref(prepareID)
	run.BookingID = deref(bookingID)
	run.Currency = deref(currency)
	run.FailureReason = deref(failureReason)
	run.CompensationError = deref(compensationError)

	return &run, nil
}

// nullableString returns nil if the string is empty, otherwise a pointer to the string.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
