package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/feed"
	"github.com/robertarktes/hotel-reservations-admin/internal/idempotency"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
)

type ReservationService interface {
	Create(ctx context.Context, b domain.Booking) (string, error)
	List(ctx context.Context) ([]domain.Booking, error)
	Cancel(ctx context.Context, id string) error
	Update(ctx context.Context, id string, p domain.Patch) error
	ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Booking, error)
}

type LiveFeed interface {
	State() feed.State
	Subscribe() (<-chan feed.State, func())
}

// CancelLocks marks reservations whose cancellation is in flight so every
// admin sees the row as busy.
type CancelLocks interface {
	AcquireCancelLock(ctx context.Context, reservationID, owner string, ttl time.Duration) (bool, error)
	ReleaseCancelLock(ctx context.Context, reservationID, owner string) error
	CancelsInFlight(ctx context.Context, ids []string) (map[string]bool, error)
}

var errCancelInFlight = errors.WithHint(
	errors.Mark(errors.New("cancel already in flight"), domain.ErrCancelInProgress),
	"this reservation is already being cancelled",
)

type Handlers struct {
	svc           ReservationService
	feed          LiveFeed
	locks         CancelLocks
	idemp         *idempotency.Idempotency
	cancelLockTTL time.Duration
	logger        observability.Logger
}

// NewHandlers wires the HTTP surface. locks and idemp may be nil.
func NewHandlers(svc ReservationService, live LiveFeed, locks CancelLocks, idemp *idempotency.Idempotency, cancelLockTTL time.Duration, logger observability.Logger) *Handlers {
	return &Handlers{
		svc:           svc,
		feed:          live,
		locks:         locks,
		idemp:         idemp,
		cancelLockTTL: cancelLockTTL,
		logger:        logger,
	}
}

type bookingRequest struct {
	GuestName      string `json:"guestName"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	RoomID         string `json:"roomId"`
	NumberOfGuests int    `json:"numberOfGuests"`
	CheckIn        string `json:"checkIn"`
	CheckOut       string `json:"checkOut"`
	Status         string `json:"status"`
}

type patchRequest struct {
	GuestName      *string `json:"guestName"`
	Email          *string `json:"email"`
	Phone          *string `json:"phone"`
	RoomID         *string `json:"roomId"`
	NumberOfGuests *int    `json:"numberOfGuests"`
	CheckIn        *string `json:"checkIn"`
	CheckOut       *string `json:"checkOut"`
	Status         *string `json:"status"`
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	checkIn, err := parseDate(req.CheckIn)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid checkIn"))
		return
	}
	checkOut, err := parseDate(req.CheckOut)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid checkOut"))
		return
	}
	b := domain.Booking{
		GuestName:      req.GuestName,
		Email:          req.Email,
		Phone:          req.Phone,
		RoomID:         req.RoomID,
		NumberOfGuests: req.NumberOfGuests,
		CheckIn:        checkIn,
		CheckOut:       checkOut,
		Status:         domain.Status(req.Status),
	}

	create := func() idempotency.Response {
		id, err := h.svc.Create(r.Context(), b)
		if err != nil {
			return errorResponse(err)
		}
		data, _ := json.Marshal(map[string]string{"id": id})
		return idempotency.Response{Status: http.StatusCreated, Body: data}
	}

	key := r.Header.Get("Idempotency-Key")
	var resp idempotency.Response
	if h.idemp == nil {
		resp = create()
	} else {
		var replayed bool
		resp, replayed, err = h.idemp.Do(r.Context(), key, create)
		switch {
		case errors.Is(err, idempotency.ErrInvalidKey):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid Idempotency-Key"))
			return
		case errors.Is(err, idempotency.ErrInProgress):
			writeJSON(w, http.StatusConflict, errorBody("a request with this Idempotency-Key is in progress"))
			return
		case err != nil:
			loggerFrom(r.Context(), h.logger).WithError(err).Error("idempotency store failed")
			resp = create()
		}
		if replayed {
			w.Header().Set("Idempotent-Replayed", "true")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": list})
}

func (h *Handlers) ListReservationsByDateRange(w http.ResponseWriter, r *http.Request) {
	start, err := parseDate(r.URL.Query().Get("start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid start"))
		return
	}
	end, err := parseDate(r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid end"))
		return
	}
	list, err := h.svc.ListByDateRange(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": list})
}

func (h *Handlers) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	p := domain.Patch{
		GuestName:      req.GuestName,
		Email:          req.Email,
		Phone:          req.Phone,
		RoomID:         req.RoomID,
		NumberOfGuests: req.NumberOfGuests,
	}
	if req.Status != nil {
		s := domain.Status(*req.Status)
		p.Status = &s
	}
	for _, f := range []struct {
		raw  *string
		dst  **time.Time
		name string
	}{{req.CheckIn, &p.CheckIn, "checkIn"}, {req.CheckOut, &p.CheckOut, "checkOut"}} {
		if f.raw == nil {
			continue
		}
		t, err := parseDate(*f.raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid "+f.name))
			return
		}
		*f.dst = &t
	}
	if p.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody("nothing to update"))
		return
	}

	if err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cancel holds the row's busy mark for the duration of the store call. The
// mark is advisory: if redis is unavailable the cancel still runs.
func (h *Handlers) cancel(ctx context.Context, id string) error {
	log := loggerFrom(ctx, h.logger).WithField("reservation_id", id)
	if h.locks != nil {
		owner := uuid.New().String()
		ok, err := h.locks.AcquireCancelLock(ctx, id, owner, h.cancelLockTTL)
		switch {
		case err != nil:
			log.WithError(err).Warn("failed to mark reservation as cancelling")
		case !ok:
			return errCancelInFlight
		default:
			defer func() {
				if err := h.locks.ReleaseCancelLock(context.WithoutCancel(ctx), id, owner); err != nil {
					log.WithError(err).Warn("failed to clear cancelling mark")
				}
			}()
		}
	}
	return h.svc.Cancel(ctx, id)
}

func (h *Handlers) LiveState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.feed.State())
}

// Stream pushes every feed state as a server-sent event.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	states, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		case s := <-states:
			data, err := json.Marshal(s)
			if err != nil {
				loggerFrom(r.Context(), h.logger).WithError(err).Error("failed to encode feed state")
				return
			}
			if _, err := w.Write([]byte("event: reservations\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.feed.State().Phase() == feed.Failed {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Feed failed"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// parseDate accepts a calendar date (YYYY-MM-DD, read as UTC midnight) or an
// RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyCancelled), errors.Is(err, domain.ErrCancelInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMalformedRecord):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrStoreRead), errors.Is(err, domain.ErrStoreWrite):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func errorResponse(err error) idempotency.Response {
	data, _ := json.Marshal(errorBody(domain.UserMessage(err)))
	return idempotency.Response{Status: statusFor(err), Body: data}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(domain.UserMessage(err)))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
