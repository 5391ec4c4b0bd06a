package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LockTrip/b2b-integration/internal/domain"
	pkgkafka "github.com/LockTrip/b2b-integration/pkg/kafka"
)

// Kafka topic constants for booking run lifecycle events.
const (
	TopicRunConfirmed = "b2b.booking.run.confirmed"
	TopicRunCancelled = "b2b.booking.run.cancelled"
	TopicRunFailed    = "b2b.booking.run.failed"
)

// Aggregate type constant.
const AggregateTypeRun = "booking_run"

// Source identifier for events originating from this service.
const SourceBookingService = "b2b-booking-service"

// RunConfirmedData is the payload for a run.confirmed event.
type RunConfirmedData struct {
	ID        string  `json:"id"`
	Mode      string  `json:"mode"`
	HotelID   string  `json:"hotel_id"`
	HotelName string  `json:"hotel_name"`
	OfferID   string  `json:"offer_id"`
	BookingID string  `json:"booking_id"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

// RunCancelledData is the payload for a run.cancelled event. BookingID is
// always the original confirmed booking id, also when the cancellation was a
// compensating action.
type RunCancelledData struct {
	ID                string `json:"id"`
	BookingID         string `json:"booking_id"`
	CompensationError string `json:"compensation_error,omitempty"`
}

// RunFailedData is the payload for a run.failed event.
type RunFailedData struct {
	ID            string `json:"id"`
	Mode          string `json:"mode"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
}

// Producer publishes booking run lifecycle events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the booking service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishRunConfirmed publishes a run.confirmed event.
func (p *Producer) PublishRunConfirmed(ctx context.Context, run *domain.BookingRun) error {
	data := RunConfirmedData{
		ID:        run.ID,
		Mode:      run.Mode,
		HotelID:   run.HotelID,
		HotelName: run.HotelName,
		OfferID:   run.OfferID,
		BookingID: run.BookingID,
		Price:     run.Price,
		Currency:  run.Currency,
	}

	event, err := pkgkafka.NewEvent(TopicRunConfirmed, run.ID, AggregateTypeRun, SourceBookingService, data)
	if err != nil {
		return fmt.Errorf("create run.confirmed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRunConfirmed, event); err != nil {
		return fmt.Errorf("publish run.confirmed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published run.confirmed event",
		slog.String("run_id", run.ID),
		slog.String("booking_id", run.BookingID),
	)

	return nil
}

// PublishRunCancelled publishes a run.cancelled event.
func (p *Producer) PublishRunCancelled(ctx context.Context, run *domain.BookingRun) error {
	data := RunCancelledData{
		ID:                run.ID,
		BookingID:         run.BookingID,
		CompensationError: run.CompensationError,
	}

	event, err := pkgkafka.NewEvent(TopicRunCancelled, run.ID, AggregateTypeRun, SourceBookingService, data)
	if err != nil {
		return fmt.Errorf("create run.cancelled event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRunCancelled, event); err != nil {
		return fmt.Errorf("publish run.cancelled event: %w", err)
	}

	p.logger.DebugContext(ctx, "published run.cancelled event",
		slog.String("run_id", run.ID),
		slog.String("booking_id", run.BookingID),
	)

	return nil
}

// PublishRunFailed publishes a run.failed event.
func (p *Producer) PublishRunFailed(ctx context.Context, run *domain.BookingRun) error {
	data := RunFailedData{
		ID:            run.ID,
		Mode:          run.Mode,
		State:         run.State,
		FailureReason: run.FailureReason,
	}

	event, err := pkgkafka.NewEvent(TopicRunFailed, run.ID, AggregateTypeRun, SourceBookingService, data)
	if err != nil {
		return fmt.Errorf("create run.failed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicRunFailed, event); err != nil {
		return fmt.Errorf("publish run.failed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published run.failed event",
		slog.String("run_id", run.ID),
		slog.String("failure_reason", run.FailureReason),
	)

	return nil
}
