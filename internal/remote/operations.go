package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/LockTrip/b2b-integration/internal/domain"
	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

// Supplier operation names, as they appear on the wire.
const (
	OpResolveLocation    = "location.resolve"
	OpStartSearch        = "search.start"
	OpCheckSearch        = "search.check"
	OpListRooms          = "rooms.list"
	OpCancellationPolicy = "policy.get"
	OpPrepareBooking     = "booking.prepare"
	OpConfirmBooking     = "booking.confirm"
	OpCancelBooking      = "booking.cancel"
)

// SearchStatus is the supplier's answer to one search.check call. Finished
// is the completion signal the poll loop watches; Hotels is only meaningful
// once Finished is true.
type SearchStatus struct {
	Finished  bool                    `json:"finished"`
	SearchKey string                  `json:"search_key,omitempty"`
	Hotels    []domain.HotelCandidate `json:"hotels,omitempty"`
}

// RoomList is the supplier's room inventory for one hotel. The returned
// SearchKey supersedes the session's current one.
type RoomList struct {
	SearchKey string             `json:"search_key,omitempty"`
	Offers    []domain.RoomOffer `json:"offers"`
}

// Supplier exposes the invoker's named operations as typed calls. It decodes
// payloads and adopts fresher search keys into the session, nothing more;
// selection and sequencing belong to the workflow.
type Supplier struct {
	invoker Invoker
}

// NewSupplier wraps an invoker with typed operations.
func NewSupplier(invoker Invoker) *Supplier {
	return &Supplier{invoker: invoker}
}

// ResolveLocation turns a free-text query into region candidates. An empty
// result set is an error: the caller asked for a place that does not exist.
func (s *Supplier) ResolveLocation(ctx context.Context, query string) ([]domain.Region, error) {
	data, err := s.invoker.Invoke(ctx, OpResolveLocation, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	var out struct {
		Regions []domain.Region `json:"regions"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.MalformedResponse(OpResolveLocation, err)
	}
	if len(out.Regions) == 0 {
		return nil, apperrors.NoLocationMatch(query)
	}
	return out.Regions, nil
}

type startSearchArgs struct {
	RegionID    string               `json:"region_id,omitempty"`
	Latitude    *float64             `json:"latitude,omitempty"`
	Longitude   *float64             `json:"longitude,omitempty"`
	RadiusKM    int                  `json:"radius_km,omitempty"`
	CheckIn     string               `json:"check_in"`
	CheckOut    string               `json:"check_out"`
	Currency    string               `json:"currency"`
	Nationality string               `json:"nationality"`
	Rooms       []domain.RoomRequest `json:"rooms"`
}

// StartSearch kicks off an asynchronous hotel search and writes the supplier
// session identifiers into the session. Results are never returned here; the
// caller must poll CheckSearch.
func (s *Supplier) StartSearch(ctx context.Context, session *domain.SearchSession) error {
	args := startSearchArgs{
		RegionID:    session.RegionID,
		Latitude:    session.Latitude,
		Longitude:   session.Longitude,
		RadiusKM:    session.RadiusKM,
		CheckIn:     session.CheckIn,
		CheckOut:    session.CheckOut,
		Currency:    session.Currency,
		Nationality: session.Nationality,
		Rooms:       session.Rooms,
	}

	data, err := s.invoker.Invoke(ctx, OpStartSearch, args)
	if err != nil {
		return err
	}

	var out struct {
		SessionID string `json:"session_id"`
		SearchKey string `json:"search_key,omitempty"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return apperrors.MalformedResponse(OpStartSearch, err)
	}
	session.SessionID = out.SessionID
	session.AdoptSearchKey(out.SearchKey)
	return nil
}

// CheckSearch asks whether the search has produced its result set yet.
func (s *Supplier) CheckSearch(ctx context.Context, session *domain.SearchSession) (SearchStatus, error) {
	data, err := s.invoker.Invoke(ctx, OpCheckSearch, map[string]string{
		"session_id": session.SessionID,
	})
	if err != nil {
		return SearchStatus{}, err
	}

	var status SearchStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return SearchStatus{}, apperrors.MalformedResponse(OpCheckSearch, err)
	}
	session.AdoptSearchKey(status.SearchKey)
	return status, nil
}

// ListRooms fetches the bookable room offers of one hotel. The hotel id goes
// over the wire in its numeric form.
func (s *Supplier) ListRooms(ctx context.Context, session *domain.SearchSession, hotelID domain.HotelID) (RoomList, error) {
	numericID, err := hotelID.Int64()
	if err != nil {
		return RoomList{}, err
	}

	data, err := s.invoker.Invoke(ctx, OpListRooms, map[string]any{
		"session_id": session.SessionID,
		"search_key": session.SearchKey,
		"hotel_id":   numericID,
	})
	if err != nil {
		return RoomList{}, err
	}

	var list RoomList
	if err := json.Unmarshal(data, &list); err != nil {
		return RoomList{}, apperrors.MalformedResponse(OpListRooms, err)
	}
	session.AdoptSearchKey(list.SearchKey)
	return list, nil
}

// CancellationPolicy fetches the cancellation terms of one room package. It
// takes the bare package id, not the compound offer id.
func (s *Supplier) CancellationPolicy(ctx context.Context, session *domain.SearchSession, packageID string) (domain.CancellationPolicy, error) {
	data, err := s.invoker.Invoke(ctx, OpCancellationPolicy, map[string]string{
		"session_id": session.SessionID,
		"search_key": session.SearchKey,
		"package_id": packageID,
	})
	if err != nil {
		return domain.CancellationPolicy{}, err
	}

	var policy domain.CancellationPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return domain.CancellationPolicy{}, apperrors.MalformedResponse(OpCancellationPolicy, err)
	}
	return policy, nil
}

type prepareArgs struct {
	SessionID string              `json:"session_id"`
	SearchKey string              `json:"search_key"`
	OfferID   string              `json:"offer_id"`
	Guests    []domain.RoomGuests `json:"guests"`
}

// PrepareBooking locks pricing for the selected offer without committing
// funds. Guest counts must already have been validated against the search's
// room requests.
func (s *Supplier) PrepareBooking(ctx context.Context, session *domain.SearchSession, offerID string, guests []domain.RoomGuests) (domain.PreparedBooking, error) {
	data, err := s.invoker.Invoke(ctx, OpPrepareBooking, prepareArgs{
		SessionID: session.SessionID,
		SearchKey: session.SearchKey,
		OfferID:   offerID,
		Guests:    guests,
	})
	if err != nil {
		return domain.PreparedBooking{}, err
	}

	var out struct {
		PrepareID string  `json:"prepare_id"`
		Price     float64 `json:"price"`
		Currency  string  `json:"currency"`
		SearchKey string  `json:"search_key,omitempty"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.PreparedBooking{}, apperrors.MalformedResponse(OpPrepareBooking, err)
	}
	session.AdoptSearchKey(out.SearchKey)
	return domain.PreparedBooking{
		PrepareID: out.PrepareID,
		Price:     out.Price,
		Currency:  out.Currency,
	}, nil
}

// ConfirmBooking commits the prepared booking. This is the irreversible
// charge: it goes through InvokeOnce so the transport never replays it, and
// a supplier-declined confirmation comes back as a value (Accepted=false)
// rather than an error so the caller can record it without retry.
func (s *Supplier) ConfirmBooking(ctx context.Context, session *domain.SearchSession, prepareID string) (domain.ConfirmedBooking, error) {
	data, err := s.invoker.InvokeOnce(ctx, OpConfirmBooking, map[string]string{
		"session_id": session.SessionID,
		"prepare_id": prepareID,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrBusinessRejection) {
			var appErr *apperrors.AppError
			message := "booking rejected"
			if errors.As(err, &appErr) {
				message = appErr.Message
			}
			return domain.ConfirmedBooking{Accepted: false, FailureMessage: message}, nil
		}
		return domain.ConfirmedBooking{}, err
	}

	var out domain.ConfirmedBooking
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.ConfirmedBooking{}, apperrors.MalformedResponse(OpConfirmBooking, err)
	}
	return out, nil
}

// CancelBooking cancels a confirmed booking. Used for explicit cancellation
// and as the compensating action after a post-confirm failure; single attempt
// at the transport layer so an ambiguous outcome is reported, not masked.
// The confirmed flag must be true: the supplier treats an unset flag as a
// dry-run probe that cancels nothing.
func (s *Supplier) CancelBooking(ctx context.Context, bookingID string) (bool, error) {
	data, err := s.invoker.InvokeOnce(ctx, OpCancelBooking, map[string]any{
		"booking_id": bookingID,
		"confirmed":  true,
	})
	if err != nil {
		return false, err
	}

	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return false, apperrors.MalformedResponse(OpCancelBooking, err)
	}
	return out.Cancelled, nil
}
