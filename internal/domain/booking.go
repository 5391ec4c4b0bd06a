package domain

import (
	"fmt"
	"time"

	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
)

// Workflow run states, in step order. StateFailed is absorbing and reachable
// from any non-terminal state.
const (
	StateInit             = "init"
	StateLocationResolved = "location_resolved"
	StateSearchStarted    = "search_started"
	StateSearchComplete   = "search_complete"
	StateRoomsListed      = "rooms_listed"
	StatePolicyChecked    = "policy_checked"
	StatePrepared         = "prepared"
	StateConfirmed        = "confirmed"
	StateCancelled        = "cancelled"
	StateDone             = "done"
	StateFailed           = "failed"
)

// Execution modes for a workflow run.
const (
	// ModeSearchOnly stops after offer selection and policy lookup; nothing
	// is booked.
	ModeSearchOnly = "search_only"
	// ModeBook runs through the irreversible confirm and leaves the booking
	// in place.
	ModeBook = "book"
	// ModeVerify confirms the booking and then issues a compensating
	// cancellation, leaving no live charge behind.
	ModeVerify = "verify"
)

// ValidModes returns the set of valid execution modes.
func ValidModes() []string {
	return []string{ModeSearchOnly, ModeBook, ModeVerify}
}

// RoomRequest declares the occupancy of one room at search time. The same
// counts must be matched exactly by guest records at prepare time.
type RoomRequest struct {
	Adults    int   `json:"adults"`
	ChildAges []int `json:"child_ages,omitempty"`
}

// Guest is one traveller record supplied at prepare time.
type Guest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       int    `json:"age,omitempty"`
}

// RoomGuests carries the guest records for one room of the prepare payload.
type RoomGuests struct {
	Adults   []Guest `json:"adults"`
	Children []Guest `json:"children,omitempty"`
}

// SearchSession is the mutable per-run state threaded through the workflow.
// The workflow owns it exclusively for the lifetime of one run; SearchKey is
// overwritten whenever a later step returns a fresher value.
type SearchSession struct {
	SessionID   string        `json:"session_id"`
	RegionID    string        `json:"region_id,omitempty"`
	Latitude    *float64      `json:"latitude,omitempty"`
	Longitude   *float64      `json:"longitude,omitempty"`
	RadiusKM    int           `json:"radius_km,omitempty"`
	CheckIn     string        `json:"check_in"`
	CheckOut    string        `json:"check_out"`
	Currency    string        `json:"currency"`
	Nationality string        `json:"nationality"`
	Rooms       []RoomRequest `json:"rooms"`
	SearchKey   string        `json:"search_key,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// ValidateLocation enforces that exactly one of region id or coordinates is
// set before a search is started.
func (s *SearchSession) ValidateLocation() error {
	hasRegion := s.RegionID != ""
	hasCoords := s.Latitude != nil && s.Longitude != nil

	switch {
	case hasRegion && hasCoords:
		return apperrors.AmbiguousLocation("both region id and coordinates are set")
	case !hasRegion && !hasCoords:
		return apperrors.AmbiguousLocation("neither region id nor coordinates are set")
	}
	return nil
}

// AdoptSearchKey overwrites the session's search key when a step returned a
// fresher one. Empty values are ignored.
func (s *SearchSession) AdoptSearchKey(key string) {
	if key != "" {
		s.SearchKey = key
	}
}

// IsExpired checks whether the session has passed its validity window.
func (s *SearchSession) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().UTC().After(s.ExpiresAt)
}

// Region is one candidate returned by free-text location resolution.
type Region struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Type    string `json:"type,omitempty"`
}

// HotelCandidate is one hotel row of a completed search result set.
// Immutable once returned; consumed only for selection.
type HotelCandidate struct {
	ID         HotelID `json:"id"`
	Name       string  `json:"name"`
	StarRating int     `json:"star_rating"`
	Price      float64 `json:"price"`
	Refundable bool    `json:"refundable"`
}

// RoomOffer is one bookable room package of a hotel. OfferID is the compound
// form; the bare package id is derived via PackageID.
type RoomOffer struct {
	OfferID    string  `json:"offer_id"`
	Refundable bool    `json:"refundable"`
	Price      float64 `json:"price"`
	MealType   string  `json:"meal_type,omitempty"`
}

// CancellationFee is one entry of a cancellation fee schedule.
type CancellationFee struct {
	From   time.Time `json:"from"`
	Amount float64   `json:"amount"`
}

// CancellationPolicy describes the cancellation terms of one room package.
// Fee schedule entries are non-decreasing in amount when ordered by From.
type CancellationPolicy struct {
	PackageID   string            `json:"package_id"`
	Refundable  bool              `json:"refundable"`
	FeeSchedule []CancellationFee `json:"fee_schedule,omitempty"`
}

// FreeCancellationUntil returns the start of the first non-free fee window,
// or the zero time if the policy has no free window.
func (p *CancellationPolicy) FreeCancellationUntil() time.Time {
	for _, fee := range p.FeeSchedule {
		if fee.Amount > 0 {
			return fee.From
		}
	}
	return time.Time{}
}

// PreparedBooking is the output of the prepare step. Holds pricing without
// committing funds; valid only against the offer it was prepared for.
type PreparedBooking struct {
	PrepareID string  `json:"prepare_id"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
}

// ConfirmedBooking is the terminal artifact of the confirm step.
// Accepted=false is a normal business outcome, not a fault, and is never
// retried.
type ConfirmedBooking struct {
	BookingID      string `json:"booking_id"`
	Accepted       bool   `json:"accepted"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// ValidateGuestCounts checks that the guest records supplied for the prepare
// step match the room requests declared at search time: adult counts must be
// equal and child records must correspond 1:1 with declared child ages. This
// is a local precondition; it runs before any supplier call.
func ValidateGuestCounts(rooms []RoomRequest, guests []RoomGuests) error {
	if len(rooms) != len(guests) {
		return apperrors.GuestCountMismatch(fmt.Sprintf(
			"%d rooms declared at search time, guest records supplied for %d",
			len(rooms), len(guests),
		))
	}

	for i, room := range rooms {
		if len(guests[i].Adults) != room.Adults {
			return apperrors.GuestCountMismatch(fmt.Sprintf(
				"room %d: %d adults declared, %d adult guest records supplied",
				i, room.Adults, len(guests[i].Adults),
			))
		}
		if len(guests[i].Children) != len(room.ChildAges) {
			return apperrors.GuestCountMismatch(fmt.Sprintf(
				"room %d: %d children declared, %d child guest records supplied",
				i, len(room.ChildAges), len(guests[i].Children),
			))
		}
	}

	return nil
}

// BookingRun is the persisted record of one workflow run.
type BookingRun struct {
	ID                string        `json:"id"`
	Mode              string        `json:"mode"`
	State             string        `json:"state"`
	Query             string        `json:"query,omitempty"`
	Session           SearchSession `json:"session"`
	HotelID           string        `json:"hotel_id,omitempty"`
	HotelName         string        `json:"hotel_name,omitempty"`
	HotelFallback     bool          `json:"hotel_fallback,omitempty"`
	OfferID           string        `json:"offer_id,omitempty"`
	PackageID         string        `json:"package_id,omitempty"`
	OfferFallback     bool          `json:"offer_fallback,omitempty"`
	PollAttempts      int           `json:"poll_attempts,omitempty"`
	PrepareID         string        `json:"prepare_id,omitempty"`
	BookingID         string        `json:"booking_id,omitempty"`
	Price             float64       `json:"price,omitempty"`
	Currency          string        `json:"currency,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	CompensationError string        `json:"compensation_error,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// IsTerminal returns true if the run is in a final state.
func (r *BookingRun) IsTerminal() bool {
	switch r.State {
	case StateDone, StateCancelled, StateFailed:
		return true
	}
	return false
}
