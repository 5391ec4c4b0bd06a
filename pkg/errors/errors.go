package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the booking workflow. Precondition failures
// (ErrGuestCountMismatch, ErrAmbiguousLocation, ErrMalformedIdentifier) are
// raised locally before any supplier call; the rest classify supplier-side
// outcomes.
var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrNoLocationMatch         = errors.New("no location matched the query")
	ErrAmbiguousLocation       = errors.New("ambiguous location specifier")
	ErrPollExhausted           = errors.New("poll attempt budget exhausted")
	ErrMalformedIdentifier     = errors.New("malformed compound identifier")
	ErrInvalidIdentifierFormat = errors.New("invalid identifier format")
	ErrNoCandidates            = errors.New("no candidates available")
	ErrGuestCountMismatch      = errors.New("guest count does not match room request")
	ErrBusinessRejection       = errors.New("operation rejected by supplier")
	ErrTransportFault          = errors.New("supplier transport fault")
	ErrMalformedResponse       = errors.New("malformed supplier response")
	ErrCompensationFailed      = errors.New("compensating cancellation failed")
	ErrSessionExpired          = errors.New("search session expired")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// NoLocationMatch creates a 404 error for a free-text query with no candidates.
func NoLocationMatch(query string) *AppError {
	return &AppError{
		Code:    "NO_LOCATION_MATCH",
		Message: fmt.Sprintf("no location matched query %q", query),
		Status:  http.StatusNotFound,
		Err:     ErrNoLocationMatch,
	}
}

// AmbiguousLocation creates a 400 error for a search that supplies both (or
// neither) of region id and coordinates.
func AmbiguousLocation(message string) *AppError {
	return &AppError{
		Code:    "AMBIGUOUS_LOCATION",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrAmbiguousLocation,
	}
}

// PollExhausted creates a 504 error after the poll attempt budget ran out.
func PollExhausted(attempts int) *AppError {
	return &AppError{
		Code:    "POLL_EXHAUSTED",
		Message: fmt.Sprintf("search did not complete within %d attempts", attempts),
		Status:  http.StatusGatewayTimeout,
		Err:     ErrPollExhausted,
	}
}

// MalformedIdentifier creates a 422 error for an offer id without the
// package separator.
func MalformedIdentifier(id string) *AppError {
	return &AppError{
		Code:    "MALFORMED_IDENTIFIER",
		Message: fmt.Sprintf("offer id %q has no package separator", id),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrMalformedIdentifier,
	}
}

// InvalidIdentifierFormat creates a 422 error for a hotel id that cannot take
// the representation a downstream operation requires.
func InvalidIdentifierFormat(id string) *AppError {
	return &AppError{
		Code:    "INVALID_IDENTIFIER_FORMAT",
		Message: fmt.Sprintf("hotel id %q is not numeric", id),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrInvalidIdentifierFormat,
	}
}

// NoCandidates creates a 404 error for an empty selection input.
func NoCandidates(kind string) *AppError {
	return &AppError{
		Code:    "NO_CANDIDATES",
		Message: fmt.Sprintf("no %s candidates available for selection", kind),
		Status:  http.StatusNotFound,
		Err:     ErrNoCandidates,
	}
}

// GuestCountMismatch creates a 400 error raised before the prepare call.
func GuestCountMismatch(message string) *AppError {
	return &AppError{
		Code:    "GUEST_COUNT_MISMATCH",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrGuestCountMismatch,
	}
}

// BusinessRejection creates a 422 error carrying the supplier's own message,
// e.g. an ineligible-account rejection on the confirm step.
func BusinessRejection(message string) *AppError {
	return &AppError{
		Code:    "BUSINESS_REJECTION",
		Message: message,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrBusinessRejection,
	}
}

// TransportFault creates a 502 error wrapping a network or timeout failure
// from the supplier. Not retried at the workflow layer.
func TransportFault(err error) *AppError {
	return &AppError{
		Code:    "TRANSPORT_FAULT",
		Message: "supplier call failed",
		Status:  http.StatusBadGateway,
		Err:     fmt.Errorf("%w: %w", ErrTransportFault, err),
	}
}

// MalformedResponse creates a 502 error for a supplier response that could
// not be decoded.
func MalformedResponse(operation string, err error) *AppError {
	return &AppError{
		Code:    "MALFORMED_RESPONSE",
		Message: fmt.Sprintf("could not decode %s response", operation),
		Status:  http.StatusBadGateway,
		Err:     fmt.Errorf("%w: %w", ErrMalformedResponse, err),
	}
}

// CompensationFailed creates the error recorded alongside a confirmed booking
// when the compensating cancellation did not go through. Non-fatal: the run
// outcome is still reported with the original booking id.
func CompensationFailed(bookingID string, err error) *AppError {
	return &AppError{
		Code:    "COMPENSATION_FAILED",
		Message: fmt.Sprintf("booking %s remains confirmed on the supplier side", bookingID),
		Status:  http.StatusInternalServerError,
		Err:     fmt.Errorf("%w: %w", ErrCompensationFailed, err),
	}
}

// SessionExpired creates a 410 error for a call made past the session window.
func SessionExpired(sessionID string) *AppError {
	return &AppError{
		Code:    "SESSION_EXPIRED",
		Message: fmt.Sprintf("search session %s is past its validity window", sessionID),
		Status:  http.StatusGone,
		Err:     ErrSessionExpired,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoLocationMatch), errors.Is(err, ErrNoCandidates):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrAmbiguousLocation), errors.Is(err, ErrGuestCountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrMalformedIdentifier), errors.Is(err, ErrInvalidIdentifierFormat), errors.Is(err, ErrBusinessRejection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPollExhausted):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransportFault), errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, ErrSessionExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
