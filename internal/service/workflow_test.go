package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LockTrip/b2b-integration/internal/domain"
	"github.com/LockTrip/b2b-integration/internal/poll"
	"github.com/LockTrip/b2b-integration/internal/remote"
	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

// --- In-memory run repository ---

type memoryRunRepository struct {
	mu   sync.Mutex
	runs map[string]domain.BookingRun
	// states records every persisted state in order, per run.
	states map[string][]string
}

func newMemoryRunRepository() *memoryRunRepository {
	return &memoryRunRepository{
		runs:   make(map[string]domain.BookingRun),
		states: make(map[string][]string),
	}
}

func (m *memoryRunRepository) Create(_ context.Context, run *domain.BookingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	m.states[run.ID] = append(m.states[run.ID], run.State)
	return nil
}

func (m *memoryRunRepository) GetByID(_ context.Context, id string) (*domain.BookingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.NotFound("booking_run", id)
	}
	return &run, nil
}

func (m *memoryRunRepository) Update(_ context.Context, run *domain.BookingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return apperrors.NotFound("booking_run", run.ID)
	}
	m.runs[run.ID] = *run
	m.states[run.ID] = append(m.states[run.ID], run.State)
	return nil
}

func (m *memoryRunRepository) List(_ context.Context, limit int) ([]domain.BookingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]domain.BookingRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
		if len(runs) == limit {
			break
		}
	}
	return runs, nil
}

func (m *memoryRunRepository) ListStale(_ context.Context, before time.Time) ([]domain.BookingRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := []domain.BookingRun{}
	for _, run := range m.runs {
		if !run.IsTerminal() && run.UpdatedAt.Before(before) {
			stale = append(stale, run)
		}
	}
	return stale, nil
}

func (m *memoryRunRepository) statesOf(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.states[id]...)
}

// --- Fake supplier ---

// fakeSupplier scripts a happy-path hotel supplier. Individual calls can be
// overridden per test; call counts are recorded for at-most-once assertions.
type fakeSupplier struct {
	checksUntilFinished int

	confirmCalls int
	cancelCalls  int
	checkCalls   int

	resolveFn func(ctx context.Context, query string) ([]domain.Region, error)
	confirmFn func(ctx context.Context, session *domain.SearchSession, prepareID string) (domain.ConfirmedBooking, error)
	cancelFn  func(ctx context.Context, bookingID string) (bool, error)
	roomsFn   func(ctx context.Context, session *domain.SearchSession, hotelID domain.HotelID) (remote.RoomList, error)
}

func newFakeSupplier() *fakeSupplier {
	return &fakeSupplier{checksUntilFinished: 2}
}

func (f *fakeSupplier) ResolveLocation(ctx context.Context, query string) ([]domain.Region, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, query)
	}
	return []domain.Region{
		{ID: "r-bali", Name: "Bali", Country: "Indonesia", Type: "region"},
		{ID: "r-bali-city", Name: "Bali City Center", Country: "Indonesia", Type: "city"},
	}, nil
}

func (f *fakeSupplier) StartSearch(_ context.Context, session *domain.SearchSession) error {
	session.SessionID = "sess-1"
	session.AdoptSearchKey("sk-initial")
	return nil
}

func (f *fakeSupplier) CheckSearch(_ context.Context, session *domain.SearchSession) (remote.SearchStatus, error) {
	f.checkCalls++
	if f.checkCalls < f.checksUntilFinished {
		return remote.SearchStatus{Finished: false}, nil
	}
	session.AdoptSearchKey("sk-search")
	return remote.SearchStatus{
		Finished:  true,
		SearchKey: "sk-search",
		Hotels: []domain.HotelCandidate{
			{ID: "900", Name: "Palm Grand", Price: 480, StarRating: 5},
			{ID: "901", Name: "Ocean View", Price: 130, StarRating: 4},
			{ID: "902", Name: "Budget Inn", Price: 95, StarRating: 2},
		},
	}, nil
}

func (f *fakeSupplier) ListRooms(ctx context.Context, session *domain.SearchSession, hotelID domain.HotelID) (remote.RoomList, error) {
	if f.roomsFn != nil {
		return f.roomsFn(ctx, session, hotelID)
	}
	session.AdoptSearchKey("sk-rooms")
	return remote.RoomList{
		SearchKey: "sk-rooms",
		Offers: []domain.RoomOffer{
			{OfferID: "pkg-a_901", Refundable: false, Price: 118, MealType: "room_only"},
			{OfferID: "pkg-b_901", Refundable: true, Price: 130, MealType: "breakfast"},
		},
	}, nil
}

func (f *fakeSupplier) CancellationPolicy(_ context.Context, _ *domain.SearchSession, packageID string) (domain.CancellationPolicy, error) {
	return domain.CancellationPolicy{
		PackageID:  packageID,
		Refundable: true,
		FeeSchedule: []domain.CancellationFee{
			{From: time.Now().UTC().Add(24 * time.Hour), Amount: 65},
		},
	}, nil
}

func (f *fakeSupplier) PrepareBooking(_ context.Context, session *domain.SearchSession, _ string, _ []domain.RoomGuests) (domain.PreparedBooking, error) {
	session.AdoptSearchKey("sk-prepared")
	return domain.PreparedBooking{PrepareID: "prep-1", Price: 130, Currency: "EUR"}, nil
}

func (f *fakeSupplier) ConfirmBooking(ctx context.Context, session *domain.SearchSession, prepareID string) (domain.ConfirmedBooking, error) {
	f.confirmCalls++
	if f.confirmFn != nil {
		return f.confirmFn(ctx, session, prepareID)
	}
	return domain.ConfirmedBooking{BookingID: "bk-77", Accepted: true}, nil
}

func (f *fakeSupplier) CancelBooking(ctx context.Context, bookingID string) (bool, error) {
	f.cancelCalls++
	if f.cancelFn != nil {
		return f.cancelFn(ctx, bookingID)
	}
	return true, nil
}

// --- Fake event publisher ---

type fakePublisher struct {
	mu        sync.Mutex
	confirmed []string
	cancelled []string
	failed    []string
}

func (p *fakePublisher) PublishRunConfirmed(_ context.Context, run *domain.BookingRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, run.ID)
	return nil
}

func (p *fakePublisher) PublishRunCancelled(_ context.Context, run *domain.BookingRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, run.ID)
	return nil
}

func (p *fakePublisher) PublishRunFailed(_ context.Context, run *domain.BookingRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, run.ID)
	return nil
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() Config {
	return Config{
		Poll: poll.Config{
			InitialDelay: 0,
			Interval:     time.Millisecond,
			MaxAttempts:  5,
		},
		PriceCeiling: 150,
		SessionTTL:   time.Hour,
	}
}

func newTestService(supplier SupplierAPI) (*BookingService, *memoryRunRepository, *fakePublisher) {
	repo := newMemoryRunRepository()
	publisher := &fakePublisher{}
	svc := NewBookingService(repo, supplier, publisher, nil, newTestLogger(), testConfig())
	return svc, repo, publisher
}

func verifyInput() *StartRunInput {
	return &StartRunInput{
		Mode:        domain.ModeVerify,
		Query:       "bali, indonesia",
		CheckIn:     "2026-11-10",
		CheckOut:    "2026-11-14",
		Currency:    "eur",
		Nationality: "de",
		Rooms:       []domain.RoomRequest{{Adults: 2}},
		Guests: []domain.RoomGuests{{
			Adults: []domain.Guest{
				{FirstName: "Ana", LastName: "Petrova"},
				{FirstName: "Ivan", LastName: "Petrov"},
			},
		}},
	}
}

// --- Tests ---

func TestStartRun_VerifyMode_FullFlow(t *testing.T) {
	supplier := newFakeSupplier()
	svc, repo, publisher := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, run.State)

	// First resolution candidate is authoritative.
	assert.Equal(t, "r-bali", run.Session.RegionID)

	// Hotel under the ceiling, first in order, not the cheapest.
	assert.Equal(t, "901", run.HotelID)
	assert.Equal(t, "Ocean View", run.HotelName)
	assert.False(t, run.HotelFallback)

	// Refundable offer preferred, compound id split strictly.
	assert.Equal(t, "pkg-b_901", run.OfferID)
	assert.Equal(t, "pkg-b", run.PackageID)
	assert.False(t, run.OfferFallback)

	// Confirmed once, then compensated; booking id preserved through both.
	assert.Equal(t, 1, supplier.confirmCalls)
	assert.Equal(t, 1, supplier.cancelCalls)
	assert.Equal(t, "bk-77", run.BookingID)
	assert.Empty(t, run.CompensationError)

	// Later search keys supersede earlier ones.
	assert.Equal(t, "sk-prepared", run.Session.SearchKey)

	assert.Equal(t, 2, run.PollAttempts)

	// Every state transition was persisted, in step order.
	assert.Equal(t, []string{
		domain.StateInit,
		domain.StateLocationResolved,
		domain.StateSearchStarted,
		domain.StateSearchComplete,
		domain.StateRoomsListed,
		domain.StatePolicyChecked,
		domain.StatePrepared,
		domain.StateConfirmed,
		domain.StateCancelled,
	}, repo.statesOf(run.ID))

	assert.Equal(t, []string{run.ID}, publisher.confirmed)
	assert.Equal(t, []string{run.ID}, publisher.cancelled)
	assert.Empty(t, publisher.failed)
}

func TestStartRun_SearchOnlyMode_StopsBeforeBooking(t *testing.T) {
	supplier := newFakeSupplier()
	svc, _, publisher := newTestService(supplier)

	input := verifyInput()
	input.Mode = domain.ModeSearchOnly
	input.Guests = nil

	run, err := svc.StartRun(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, run.State)
	assert.Equal(t, "pkg-b", run.PackageID, "selection and policy check still ran")
	assert.Empty(t, run.BookingID)
	assert.Equal(t, 0, supplier.confirmCalls)
	assert.Empty(t, publisher.confirmed)
}

func TestStartRun_BookMode_LeavesBookingInPlace(t *testing.T) {
	supplier := newFakeSupplier()
	svc, _, publisher := newTestService(supplier)

	input := verifyInput()
	input.Mode = domain.ModeBook

	run, err := svc.StartRun(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, run.State)
	assert.Equal(t, "bk-77", run.BookingID)
	assert.Equal(t, 1, supplier.confirmCalls)
	assert.Equal(t, 0, supplier.cancelCalls)
	assert.Equal(t, []string{run.ID}, publisher.confirmed)
	assert.Empty(t, publisher.cancelled)
}

func TestStartRun_ConfirmRejected_TerminalNoRetry(t *testing.T) {
	supplier := newFakeSupplier()
	supplier.confirmFn = func(_ context.Context, _ *domain.SearchSession, _ string) (domain.ConfirmedBooking, error) {
		return domain.ConfirmedBooking{Accepted: false, FailureMessage: "User is not b2b user"}, nil
	}
	svc, _, publisher := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBusinessRejection)
	assert.Contains(t, err.Error(), "User is not b2b user", "remote message preserved")
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Equal(t, 1, supplier.confirmCalls, "declined confirm is never retried")
	assert.Equal(t, 0, supplier.cancelCalls, "nothing to compensate when nothing was charged")
	assert.Equal(t, []string{run.ID}, publisher.failed)
}

func TestStartRun_ConfirmTransportFault_FailsWithoutRetry(t *testing.T) {
	supplier := newFakeSupplier()
	supplier.confirmFn = func(_ context.Context, _ *domain.SearchSession, _ string) (domain.ConfirmedBooking, error) {
		return domain.ConfirmedBooking{}, apperrors.TransportFault(errors.New("connection reset"))
	}
	svc, _, _ := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransportFault)
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Equal(t, 1, supplier.confirmCalls, "ambiguous outcome must not be replayed")
}

func TestStartRun_CompensationFailure_RecordedNotFatal(t *testing.T) {
	supplier := newFakeSupplier()
	supplier.cancelFn = func(_ context.Context, _ string) (bool, error) {
		return false, apperrors.TransportFault(errors.New("timeout"))
	}
	svc, _, publisher := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.NoError(t, err, "compensation failure does not fail the run")
	assert.Equal(t, domain.StateCancelled, run.State)
	assert.Equal(t, "bk-77", run.BookingID, "confirmed booking id preserved")
	assert.NotEmpty(t, run.CompensationError)
	assert.Contains(t, run.CompensationError, "bk-77")
	assert.Equal(t, []string{run.ID}, publisher.cancelled)
}

func TestStartRun_GuestCountMismatch_FailsBeforePrepare(t *testing.T) {
	supplier := newFakeSupplier()
	svc, _, _ := newTestService(supplier)

	input := verifyInput()
	input.Guests = []domain.RoomGuests{{
		Adults: []domain.Guest{{FirstName: "Ana", LastName: "Petrova"}},
	}}

	run, err := svc.StartRun(context.Background(), input)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGuestCountMismatch)
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Equal(t, 0, supplier.confirmCalls)
	assert.Empty(t, run.PrepareID, "mismatch is caught before the supplier sees the payload")
}

func TestStartRun_PollExhausted(t *testing.T) {
	supplier := newFakeSupplier()
	supplier.checksUntilFinished = 100
	svc, _, _ := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPollExhausted)
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Equal(t, 5, supplier.checkCalls, "exactly the attempt budget")
}

func TestStartRun_MalformedOfferID_FailsRun(t *testing.T) {
	supplier := newFakeSupplier()
	supplier.roomsFn = func(_ context.Context, session *domain.SearchSession, _ domain.HotelID) (remote.RoomList, error) {
		return remote.RoomList{
			Offers: []domain.RoomOffer{{OfferID: "no-separator", Refundable: true, Price: 100}},
		}, nil
	}
	svc, _, _ := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMalformedIdentifier)
	assert.Equal(t, domain.StateFailed, run.State)
}

func TestStartRun_NoLocationMatch(t *testing.T) {
	supplier := newFakeSupplier()
	supplier.resolveFn = func(_ context.Context, query string) ([]domain.Region, error) {
		return nil, apperrors.NoLocationMatch(query)
	}
	svc, _, _ := newTestService(supplier)

	run, err := svc.StartRun(context.Background(), verifyInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoLocationMatch)
	assert.Equal(t, domain.StateFailed, run.State)
}

func TestStartRun_AmbiguousLocation(t *testing.T) {
	supplier := newFakeSupplier()
	svc, _, _ := newTestService(supplier)

	input := verifyInput()
	input.RegionID = "r-direct" // both query and region id

	run, err := svc.StartRun(context.Background(), input)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousLocation)
	assert.Equal(t, domain.StateFailed, run.State)
}

func TestStartRun_DirectRegionSkipsResolution(t *testing.T) {
	supplier := newFakeSupplier()
	resolveCalled := false
	supplier.resolveFn = func(_ context.Context, _ string) ([]domain.Region, error) {
		resolveCalled = true
		return nil, nil
	}
	svc, _, _ := newTestService(supplier)

	input := verifyInput()
	input.Query = ""
	input.RegionID = "r-direct"

	run, err := svc.StartRun(context.Background(), input)

	require.NoError(t, err)
	assert.False(t, resolveCalled)
	assert.Equal(t, "r-direct", run.Session.RegionID)
}

func TestStartRun_InvalidMode(t *testing.T) {
	svc, _, _ := newTestService(newFakeSupplier())

	input := verifyInput()
	input.Mode = "dry_run"

	_, err := svc.StartRun(context.Background(), input)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStartRun_BookingModesRequireGuests(t *testing.T) {
	svc, _, _ := newTestService(newFakeSupplier())

	input := verifyInput()
	input.Guests = nil

	_, err := svc.StartRun(context.Background(), input)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGetRun_NotFound(t *testing.T) {
	svc, _, _ := newTestService(newFakeSupplier())

	_, err := svc.GetRun(context.Background(), "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReapStaleRuns(t *testing.T) {
	svc, repo, publisher := newTestService(newFakeSupplier())

	stale := domain.BookingRun{
		ID:        "run-stale",
		Mode:      domain.ModeBook,
		State:     domain.StateSearchStarted,
		CreatedAt: time.Now().UTC().Add(-3 * time.Hour),
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	fresh := domain.BookingRun{
		ID:        "run-fresh",
		Mode:      domain.ModeBook,
		State:     domain.StateSearchStarted,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), &stale))
	require.NoError(t, repo.Create(context.Background(), &fresh))

	reaped, err := svc.ReapStaleRuns(context.Background(), time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := repo.GetByID(context.Background(), "run-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Contains(t, got.FailureReason, "abandoned")
	assert.Equal(t, []string{"run-stale"}, publisher.failed)

	untouched, err := repo.GetByID(context.Background(), "run-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSearchStarted, untouched.State)
}
