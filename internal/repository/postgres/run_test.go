package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LockTrip/b2b-integration/internal/domain"
	"github.com/LockTrip/b2b-integration/pkg/database"
	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

func newTestRepo(t *testing.T) (*RunRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	repo := NewRunRepository(mock)
	return repo, mock
}

func sampleRun() *domain.BookingRun {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.BookingRun{
		ID:    "run-001",
		Mode:  domain.ModeVerify,
		State: domain.StateConfirmed,
		Query: "bali, indonesia",
		Session: domain.SearchSession{
			SessionID:   "sess-001",
			RegionID:    "r-1",
			CheckIn:     "2026-11-10",
			CheckOut:    "2026-11-14",
			Currency:    "EUR",
			Nationality: "DE",
			Rooms:       []domain.RoomRequest{{Adults: 2, ChildAges: []int{5}}},
			SearchKey:   "sk-1",
		},
		HotelID:      "482910",
		HotelName:    "Grand Plaza",
		OfferID:      "p-9f27ab_482910",
		PackageID:    "p-9f27ab",
		PollAttempts: 3,
		PrepareID:    "prep-001",
		BookingID:    "bk-001",
		Price:        412.50,
		Currency:     "EUR",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func runRow(t *testing.T, r *domain.BookingRun) []any {
	t.Helper()

	sessionJSON, err := json.Marshal(r.Session)
	require.NoError(t, err)

	return []any{
		r.ID, r.Mode, r.State, nullableString(r.Query), sessionJSON,
		nullableString(r.HotelID), nullableString(r.HotelName), r.HotelFallback,
		nullableString(r.OfferID), nullableString(r.PackageID), r.OfferFallback, r.PollAttempts,
		nullableString(r.PrepareID), nullableString(r.BookingID), r.Price, nullableString(r.Currency),
		nullableString(r.FailureReason), nullableString(r.CompensationError),
		r.CreatedAt, r.UpdatedAt,
	}
}

func runColumnNames() []string {
	return []string{
		"id", "mode", "state", "query", "session",
		"hotel_id", "hotel_name", "hotel_fallback",
		"offer_id", "package_id", "offer_fallback", "poll_attempts",
		"prepare_id", "booking_id", "price", "currency",
		"failure_reason", "compensation_error",
		"created_at", "updated_at",
	}
}

func TestRunRepository_Create(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	run := sampleRun()

	mock.ExpectExec("INSERT INTO booking_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), run)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_GetByID(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	want := sampleRun()

	mock.ExpectQuery("SELECT (.+) FROM booking_runs WHERE id").
		WithArgs(want.ID).
		WillReturnRows(pgxmock.NewRows(runColumnNames()).AddRow(runRow(t, want)...))

	got, err := repo.GetByID(context.Background(), want.ID)

	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Session.SearchKey, got.Session.SearchKey)
	assert.Equal(t, want.PackageID, got.PackageID)
	assert.Equal(t, want.BookingID, got.BookingID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM booking_runs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_Update(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	run := sampleRun()
	run.State = domain.StateCancelled

	mock.ExpectExec("UPDATE booking_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Update(context.Background(), run)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_Update_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	run := sampleRun()

	mock.ExpectExec("UPDATE booking_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), run)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_List(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	first := sampleRun()
	second := sampleRun()
	second.ID = "run-002"
	second.State = domain.StateFailed
	second.FailureReason = "poll attempt budget exhausted"

	mock.ExpectQuery("SELECT (.+) FROM booking_runs ORDER BY created_at DESC").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(runColumnNames()).
			AddRow(runRow(t, second)...).
			AddRow(runRow(t, first)...))

	runs, err := repo.List(context.Background(), 20)

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-002", runs[0].ID)
	assert.Equal(t, "poll attempt budget exhausted", runs[0].FailureReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_ListStale_Empty(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	before := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM booking_runs").
		WithArgs(before).
		WillReturnRows(pgxmock.NewRows(runColumnNames()))

	runs, err := repo.ListStale(context.Background(), before)

	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NotNil(t, runs, "empty result is a slice, not nil")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_Create_Error(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO booking_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err := repo.Create(context.Background(), sampleRun())

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
