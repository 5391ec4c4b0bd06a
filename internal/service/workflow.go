package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LockTrip/b2b-integration/internal/cache"
	"github.com/LockTrip/b2b-integration/internal/domain"
	"github.com/LockTrip/b2b-integration/internal/poll"
	"github.com/LockTrip/b2b-integration/internal/remote"
	"github.com/LockTrip/b2b-integration/internal/repository"
	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

var runOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "booking_run_outcomes_total",
		Help: "Terminal outcomes of booking runs by mode and final state",
	},
	[]string{"mode", "state"},
)

// SupplierAPI is the set of supplier operations the workflow drives.
// Satisfied by *remote.Supplier; faked in tests.
type SupplierAPI interface {
	ResolveLocation(ctx context.Context, query string) ([]domain.Region, error)
	StartSearch(ctx context.Context, session *domain.SearchSession) error
	CheckSearch(ctx context.Context, session *domain.SearchSession) (remote.SearchStatus, error)
	ListRooms(ctx context.Context, session *domain.SearchSession, hotelID domain.HotelID) (remote.RoomList, error)
	CancellationPolicy(ctx context.Context, session *domain.SearchSession, packageID string) (domain.CancellationPolicy, error)
	PrepareBooking(ctx context.Context, session *domain.SearchSession, offerID string, guests []domain.RoomGuests) (domain.PreparedBooking, error)
	ConfirmBooking(ctx context.Context, session *domain.SearchSession, prepareID string) (domain.ConfirmedBooking, error)
	CancelBooking(ctx context.Context, bookingID string) (bool, error)
}

// EventPublisher publishes run lifecycle events. Satisfied by *event.Producer.
type EventPublisher interface {
	PublishRunConfirmed(ctx context.Context, run *domain.BookingRun) error
	PublishRunCancelled(ctx context.Context, run *domain.BookingRun) error
	PublishRunFailed(ctx context.Context, run *domain.BookingRun) error
}

// Config holds the workflow's orchestration knobs.
type Config struct {
	// Poll bounds the search completion loop.
	Poll poll.Config

	// PriceCeiling is the preferred per-stay price for hotel selection.
	// Zero disables the preference.
	PriceCeiling float64

	// SessionTTL is how long a supplier search session stays usable after
	// the search is started.
	SessionTTL time.Duration
}

// BookingService drives booking workflow runs: a fixed step sequence that
// threads one mutable search session from location resolution through an
// optional compensated cancellation. Each step persists its state transition
// before the next supplier call so a crashed run is inspectable afterwards.
type BookingService struct {
	repo     repository.RunRepository
	supplier SupplierAPI
	producer EventPublisher
	regions  *cache.LocationCache
	logger   *slog.Logger
	cfg      Config
}

// NewBookingService creates a booking workflow service. The region cache is
// optional; pass nil to always resolve locations against the supplier.
func NewBookingService(
	repo repository.RunRepository,
	supplier SupplierAPI,
	producer EventPublisher,
	regions *cache.LocationCache,
	logger *slog.Logger,
	cfg Config,
) *BookingService {
	return &BookingService{
		repo:     repo,
		supplier: supplier,
		producer: producer,
		regions:  regions,
		logger:   logger,
		cfg:      cfg,
	}
}

// StartRunInput holds the parameters for starting a workflow run.
type StartRunInput struct {
	Mode        string               `json:"mode" validate:"required,oneof=search_only book verify"`
	Query       string               `json:"query,omitempty"`
	RegionID    string               `json:"region_id,omitempty"`
	Latitude    *float64             `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64             `json:"longitude,omitempty" validate:"omitempty,longitude"`
	RadiusKM    int                  `json:"radius_km,omitempty" validate:"omitempty,gt=0"`
	CheckIn     string               `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut    string               `json:"check_out" validate:"required,datetime=2006-01-02"`
	Currency    string               `json:"currency" validate:"required,len=3"`
	Nationality string               `json:"nationality" validate:"required,len=2"`
	Rooms       []domain.RoomRequest `json:"rooms" validate:"required,min=1"`
	Guests      []domain.RoomGuests  `json:"guests,omitempty"`
}

// StartRun creates a run record and executes the workflow to a terminal
// state. The returned run reflects the final outcome, also when the run
// failed; the error carries the failure cause.
func (s *BookingService) StartRun(ctx context.Context, input *StartRunInput) (*domain.BookingRun, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("run input is required")
	}

	mode := input.Mode
	validMode := false
	for _, m := range domain.ValidModes() {
		if mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return nil, apperrors.InvalidInput(fmt.Sprintf("mode must be one of %v", domain.ValidModes()))
	}

	if mode != domain.ModeSearchOnly && len(input.Guests) == 0 {
		return nil, apperrors.InvalidInput("guest records are required for booking modes")
	}

	now := time.Now().UTC()
	run := &domain.BookingRun{
		ID:    uuid.New().String(),
		Mode:  mode,
		State: domain.StateInit,
		Query: strings.TrimSpace(input.Query),
		Session: domain.SearchSession{
			RegionID:    input.RegionID,
			Latitude:    input.Latitude,
			Longitude:   input.Longitude,
			RadiusKM:    input.RadiusKM,
			CheckIn:     input.CheckIn,
			CheckOut:    input.CheckOut,
			Currency:    strings.ToUpper(input.Currency),
			Nationality: strings.ToUpper(input.Nationality),
			Rooms:       input.Rooms,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create booking run: %w", err)
	}

	s.logger.InfoContext(ctx, "booking run started",
		slog.String("run_id", run.ID),
		slog.String("mode", run.Mode),
	)

	if err := s.execute(ctx, run, input.Guests); err != nil {
		s.failRun(ctx, run, err)
		return run, err
	}

	runOutcomes.WithLabelValues(run.Mode, run.State).Inc()
	return run, nil
}

// GetRun retrieves a run by its ID.
func (s *BookingService) GetRun(ctx context.Context, id string) (*domain.BookingRun, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs.
func (s *BookingService) ListRuns(ctx context.Context, limit int) ([]domain.BookingRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list booking runs: %w", err)
	}
	return runs, nil
}

// execute runs the step sequence. Every step transition is persisted before
// the next supplier call.
func (s *BookingService) execute(ctx context.Context, run *domain.BookingRun, guests []domain.RoomGuests) error {
	if err := s.resolveLocation(ctx, run); err != nil {
		return err
	}

	if err := s.startSearch(ctx, run); err != nil {
		return err
	}

	hotels, err := s.awaitSearch(ctx, run)
	if err != nil {
		return err
	}

	offers, err := s.listRooms(ctx, run, hotels)
	if err != nil {
		return err
	}

	if err := s.checkPolicy(ctx, run, offers); err != nil {
		return err
	}

	if run.Mode == domain.ModeSearchOnly {
		return s.transition(ctx, run, domain.StateDone)
	}

	if err := s.prepare(ctx, run, guests); err != nil {
		return err
	}

	if err := s.confirm(ctx, run); err != nil {
		return err
	}

	if run.Mode == domain.ModeBook {
		return s.transition(ctx, run, domain.StateDone)
	}

	return s.compensate(ctx, run)
}

// resolveLocation turns a free-text query into a region id. The first
// candidate of the resolution result is authoritative. Skipped entirely when
// the caller supplied a region id or coordinates directly.
func (s *BookingService) resolveLocation(ctx context.Context, run *domain.BookingRun) error {
	if run.Query == "" {
		return s.transition(ctx, run, domain.StateLocationResolved)
	}
	if run.Session.RegionID != "" || run.Session.Latitude != nil {
		return apperrors.AmbiguousLocation("free-text query cannot be combined with region id or coordinates")
	}

	regions, ok := s.cachedRegions(ctx, run.Query)
	if !ok {
		var err error
		regions, err = s.supplier.ResolveLocation(ctx, run.Query)
		if err != nil {
			return err
		}
		if s.regions != nil {
			s.regions.Set(ctx, run.Query, regions)
		}
	}

	run.Session.RegionID = regions[0].ID

	s.logger.InfoContext(ctx, "location resolved",
		slog.String("run_id", run.ID),
		slog.String("query", run.Query),
		slog.String("region_id", regions[0].ID),
		slog.String("region_name", regions[0].Name),
		slog.Int("candidates", len(regions)),
	)

	return s.transition(ctx, run, domain.StateLocationResolved)
}

func (s *BookingService) cachedRegions(ctx context.Context, query string) ([]domain.Region, bool) {
	if s.regions == nil {
		return nil, false
	}
	return s.regions.Get(ctx, query)
}

func (s *BookingService) startSearch(ctx context.Context, run *domain.BookingRun) error {
	if err := run.Session.ValidateLocation(); err != nil {
		return err
	}

	if err := s.supplier.StartSearch(ctx, &run.Session); err != nil {
		return err
	}

	if s.cfg.SessionTTL > 0 {
		run.Session.ExpiresAt = time.Now().UTC().Add(s.cfg.SessionTTL)
	}

	s.logger.InfoContext(ctx, "search started",
		slog.String("run_id", run.ID),
		slog.String("session_id", run.Session.SessionID),
	)

	return s.transition(ctx, run, domain.StateSearchStarted)
}

// awaitSearch polls the supplier until the search reports completion. An
// unfinished response with zero hotels is an expected intermediate state; an
// empty result set after completion is a selection failure, raised later.
func (s *BookingService) awaitSearch(ctx context.Context, run *domain.BookingRun) ([]domain.HotelCandidate, error) {
	res, err := poll.Until(ctx, s.cfg.Poll, remote.OpCheckSearch,
		func(ctx context.Context) (remote.SearchStatus, error) {
			return s.supplier.CheckSearch(ctx, &run.Session)
		},
		func(status remote.SearchStatus) bool {
			return status.Finished
		},
	)
	if err != nil {
		return nil, err
	}

	run.PollAttempts = res.Attempts

	s.logger.InfoContext(ctx, "search complete",
		slog.String("run_id", run.ID),
		slog.Int("poll_attempts", res.Attempts),
		slog.Int("hotels", len(res.Response.Hotels)),
	)

	if err := s.transition(ctx, run, domain.StateSearchComplete); err != nil {
		return nil, err
	}
	return res.Response.Hotels, nil
}

func (s *BookingService) listRooms(ctx context.Context, run *domain.BookingRun, hotels []domain.HotelCandidate) ([]domain.RoomOffer, error) {
	sel, err := domain.SelectHotel(hotels, s.cfg.PriceCeiling)
	if err != nil {
		return nil, err
	}

	run.HotelID = sel.Value.ID.String()
	run.HotelName = sel.Value.Name
	run.HotelFallback = sel.Fallback

	if sel.Fallback {
		s.logger.WarnContext(ctx, "no hotel under price ceiling, falling back to first candidate",
			slog.String("run_id", run.ID),
			slog.Float64("price_ceiling", s.cfg.PriceCeiling),
			slog.Float64("selected_price", sel.Value.Price),
		)
	}

	list, err := s.supplier.ListRooms(ctx, &run.Session, sel.Value.ID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "rooms listed",
		slog.String("run_id", run.ID),
		slog.String("hotel_id", run.HotelID),
		slog.Int("offers", len(list.Offers)),
	)

	if err := s.transition(ctx, run, domain.StateRoomsListed); err != nil {
		return nil, err
	}
	return list.Offers, nil
}

// checkPolicy selects an offer, derives its package id, and fetches the
// cancellation terms. The package id derivation is strict: an offer id
// without the separator fails the run rather than being passed through.
func (s *BookingService) checkPolicy(ctx context.Context, run *domain.BookingRun, offers []domain.RoomOffer) error {
	sel, err := domain.SelectOffer(offers)
	if err != nil {
		return err
	}

	run.OfferID = sel.Value.OfferID
	run.OfferFallback = sel.Fallback
	run.Price = sel.Value.Price
	run.Currency = run.Session.Currency

	if sel.Fallback {
		s.logger.WarnContext(ctx, "no refundable offer, falling back to first offer",
			slog.String("run_id", run.ID),
			slog.String("offer_id", sel.Value.OfferID),
		)
	}

	packageID, err := domain.PackageID(sel.Value.OfferID)
	if err != nil {
		return err
	}
	run.PackageID = packageID

	policy, err := s.supplier.CancellationPolicy(ctx, &run.Session, packageID)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "cancellation policy checked",
		slog.String("run_id", run.ID),
		slog.String("package_id", packageID),
		slog.Bool("refundable", policy.Refundable),
		slog.Time("free_cancellation_until", policy.FreeCancellationUntil()),
	)

	return s.transition(ctx, run, domain.StatePolicyChecked)
}

// prepare validates guest counts locally and locks pricing with the supplier.
// The count check never reaches the supplier: a mismatched payload would be
// rejected remotely anyway, so it fails fast here.
func (s *BookingService) prepare(ctx context.Context, run *domain.BookingRun, guests []domain.RoomGuests) error {
	if run.Session.IsExpired() {
		return apperrors.SessionExpired(run.Session.SessionID)
	}

	if err := domain.ValidateGuestCounts(run.Session.Rooms, guests); err != nil {
		return err
	}

	prepared, err := s.supplier.PrepareBooking(ctx, &run.Session, run.OfferID, guests)
	if err != nil {
		return err
	}

	run.PrepareID = prepared.PrepareID
	run.Price = prepared.Price
	run.Currency = prepared.Currency

	s.logger.InfoContext(ctx, "booking prepared",
		slog.String("run_id", run.ID),
		slog.String("prepare_id", prepared.PrepareID),
		slog.Float64("price", prepared.Price),
		slog.String("currency", prepared.Currency),
	)

	return s.transition(ctx, run, domain.StatePrepared)
}

// confirm commits the charge. It runs exactly once: a declined confirmation
// is terminal and never retried, and a transport fault fails the run without
// a second attempt because the supplier-side outcome is unknown.
func (s *BookingService) confirm(ctx context.Context, run *domain.BookingRun) error {
	confirmed, err := s.supplier.ConfirmBooking(ctx, &run.Session, run.PrepareID)
	if err != nil {
		return err
	}

	if !confirmed.Accepted {
		s.logger.WarnContext(ctx, "booking rejected by supplier",
			slog.String("run_id", run.ID),
			slog.String("message", confirmed.FailureMessage),
		)
		return apperrors.BusinessRejection(confirmed.FailureMessage)
	}

	run.BookingID = confirmed.BookingID

	s.logger.InfoContext(ctx, "booking confirmed",
		slog.String("run_id", run.ID),
		slog.String("booking_id", confirmed.BookingID),
	)

	if err := s.transition(ctx, run, domain.StateConfirmed); err != nil {
		return err
	}

	if err := s.producer.PublishRunConfirmed(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish run.confirmed event",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// compensate cancels the just-confirmed booking. A compensation failure is
// recorded on the run and alerted, never propagated: the confirmed booking
// id is the authoritative artifact either way and the run still terminates
// as cancelled.
func (s *BookingService) compensate(ctx context.Context, run *domain.BookingRun) error {
	cancelled, err := s.supplier.CancelBooking(ctx, run.BookingID)
	if err == nil && !cancelled {
		err = fmt.Errorf("supplier did not confirm the cancellation")
	}
	if err != nil {
		compErr := apperrors.CompensationFailed(run.BookingID, err)
		run.CompensationError = compErr.Error()
		s.logger.ErrorContext(ctx, "compensating cancellation failed, booking remains confirmed",
			slog.String("run_id", run.ID),
			slog.String("booking_id", run.BookingID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.InfoContext(ctx, "booking cancelled",
			slog.String("run_id", run.ID),
			slog.String("booking_id", run.BookingID),
		)
	}

	if err := s.transition(ctx, run, domain.StateCancelled); err != nil {
		return err
	}

	if err := s.producer.PublishRunCancelled(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish run.cancelled event",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// transition persists a state change.
func (s *BookingService) transition(ctx context.Context, run *domain.BookingRun, state string) error {
	run.State = state
	if err := s.repo.Update(ctx, run); err != nil {
		return fmt.Errorf("persist state %s: %w", state, err)
	}
	return nil
}

// failRun moves the run to the absorbing failed state. Persistence errors
// here are logged only; the original failure is what the caller sees.
func (s *BookingService) failRun(ctx context.Context, run *domain.BookingRun, cause error) {
	run.State = domain.StateFailed
	run.FailureReason = cause.Error()

	if err := s.repo.Update(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist failed run",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishRunFailed(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish run.failed event",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	runOutcomes.WithLabelValues(run.Mode, domain.StateFailed).Inc()

	s.logger.WarnContext(ctx, "booking run failed",
		slog.String("run_id", run.ID),
		slog.String("mode", run.Mode),
		slog.String("failure_reason", run.FailureReason),
	)
}
