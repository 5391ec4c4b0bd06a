package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LockTrip/b2b-integration/internal/domain"
	"github.com/LockTrip/b2b-integration/internal/service"
	"github.com/LockTrip/b2b-integration/pkg/httputil"
	"github.com/LockTrip/b2b-integration/pkg/validator"
)

// RunHandler handles HTTP requests for booking run endpoints.
type RunHandler struct {
	service *service.BookingService
	logger  *slog.Logger
}

// NewRunHandler creates a new booking run HTTP handler.
func NewRunHandler(svc *service.BookingService, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// GuestRequest is one traveller record in the request body.
type GuestRequest struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Age       int    `json:"age" validate:"gte=0,lte=120"`
}

// RoomGuestsRequest carries the guest records for one room.
type RoomGuestsRequest struct {
	Adults   []GuestRequest `json:"adults" validate:"required,min=1,dive"`
	Children []GuestRequest `json:"children" validate:"omitempty,dive"`
}

// RoomRequestBody declares the occupancy of one requested room.
type RoomRequestBody struct {
	Adults    int   `json:"adults" validate:"required,gte=1,lte=8"`
	ChildAges []int `json:"child_ages" validate:"omitempty,max=4,dive,gte=0,lte=17"`
}

// StartRunRequest is the JSON request body for starting a workflow run.
type StartRunRequest struct {
	Mode        string              `json:"mode" validate:"omitempty,oneof=search_only book verify"`
	Query       string              `json:"query"`
	RegionID    string              `json:"region_id"`
	Latitude    *float64            `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64            `json:"longitude" validate:"omitempty,longitude"`
	RadiusKM    int                 `json:"radius_km" validate:"omitempty,gt=0,lte=100"`
	CheckIn     string              `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut    string              `json:"check_out" validate:"required,datetime=2006-01-02"`
	Currency    string              `json:"currency" validate:"required,len=3"`
	Nationality string              `json:"nationality" validate:"required,len=2"`
	Rooms       []RoomRequestBody   `json:"rooms" validate:"required,min=1,max=4,dive"`
	Guests      []RoomGuestsRequest `json:"guests" validate:"omitempty,dive"`
}

// --- Handlers ---

// StartRun handles POST /api/v1/runs
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	rooms := make([]domain.RoomRequest, len(req.Rooms))
	for i, room := range req.Rooms {
		rooms[i] = domain.RoomRequest{
			Adults:    room.Adults,
			ChildAges: room.ChildAges,
		}
	}

	guests := make([]domain.RoomGuests, len(req.Guests))
	for i, rg := range req.Guests {
		guests[i] = domain.RoomGuests{
			Adults:   toGuests(rg.Adults),
			Children: toGuests(rg.Children),
		}
	}

	input := &service.StartRunInput{
		Mode:        req.Mode,
		Query:       req.Query,
		RegionID:    req.RegionID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		RadiusKM:    req.RadiusKM,
		CheckIn:     req.CheckIn,
		CheckOut:    req.CheckOut,
		Currency:    req.Currency,
		Nationality: req.Nationality,
		Rooms:       rooms,
		Guests:      guests,
	}

	run, err := h.service.StartRun(r.Context(), input)
	if err != nil {
		// A failed run is still an artifact: return the error status but
		// include the run so the caller can inspect how far it got.
		if run != nil {
			status := httputil.StatusFor(err)
			httputil.WriteJSON(w, status, httputil.Response{
				Data:  run,
				Error: httputil.ErrorFor(r.Context(), err),
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: run})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "run id is required"},
		})
		return
	}

	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: run})
}

// ListRuns handles GET /api/v1/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "limit must be a valid integer between 1 and 100"},
			})
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: runs})
}

func toGuests(in []GuestRequest) []domain.Guest {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Guest, len(in))
	for i, g := range in {
		out[i] = domain.Guest{
			FirstName: g.FirstName,
			LastName:  g.LastName,
			Age:       g.Age,
		}
	}
	return out
}
