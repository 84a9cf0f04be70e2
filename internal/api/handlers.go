package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loft/internal/daterange"
	"loft/internal/domain"
	"loft/internal/models"
	"loft/internal/pricing"
	"loft/internal/service"

	"github.com/julienschmidt/httprouter"
)

const (
	maxBodyBytes        = 1 << 20
	defaultCalendarDays = 30
)

type availabilityResponse struct {
	Available bool              `json:"available"`
	Conflicts []domain.Conflict `json:"conflicts,omitempty"`
}

type reservationResponse struct {
	BookingID  int64              `json:"booking_id"`
	TotalPrice int64              `json:"total_price"`
	Status     string             `json:"status"`
	Currency   string             `json:"currency"`
	Version    int64              `json:"version"`
	Breakdown  *pricing.Breakdown `json:"breakdown,omitempty"`
}

type transitionRequest struct {
	Version int64 `json:"version"`
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	propertyID, err := parseID(q.Get("property_id"), "property_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rng, err := daterange.Parse(q.Get("check_in"), q.Get("check_out"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.CheckAvailability(r.Context(), actorFrom(r), propertyID, rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Available: res.Available, Conflicts: res.Conflicts})
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	propertyID, err := parseID(q.Get("property_id"), "property_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rng, err := daterange.Parse(q.Get("check_in"), q.Get("check_out"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	guests, err := parseIntDefault(q.Get("guests"), "guests", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	quote, err := s.svc.Quote(r.Context(), actorFrom(r), propertyID, rng, guests)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req service.ReservationRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.CreateReservation(r.Context(), actorFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/reservations/"+strconv.FormatInt(res.Booking.ID, 10))
	writeJSON(w, http.StatusCreated, reservationResponse{
		BookingID:  res.Booking.ID,
		TotalPrice: res.Booking.TotalPrice,
		Status:     res.Booking.Status,
		Currency:   res.Booking.Currency,
		Version:    res.Booking.Version,
		Breakdown:  res.Breakdown,
	})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"), "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	booking, err := s.svc.GetReservation(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type transitionFunc func(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error)

// handleTransition applies a status change. The body is optional; a missing
// version means "whatever is current".
func (s *HTTPServer) handleTransition(fn transitionFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseID(ps.ByName("id"), "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var req transitionRequest
		if err := decodeBody(w, r, &req, true); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Version < 0 {
			s.writeError(w, r, domain.NewValidationError("version", "must not be negative"))
			return
		}

		booking, err := fn(r.Context(), actorFrom(r), id, req.Version)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)
	}
}

func (s *HTTPServer) handleListProperties(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	properties, err := s.svc.ListProperties(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if properties == nil {
		properties = []*models.Property{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
}

func (s *HTTPServer) handleGetProperty(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"), "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	property, err := s.svc.GetProperty(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, property)
}

func (s *HTTPServer) handleCreateBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"), "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req service.BlockRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	block, err := s.svc.CreateBlock(r.Context(), actorFrom(r), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

func (s *HTTPServer) handleDeleteBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"), "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blockID, err := parseID(ps.ByName("block_id"), "block_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.svc.DeleteBlock(r.Context(), actorFrom(r), id, blockID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListReservations serves GET /api/v1/reservations?from&to[&property_id].
func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	rng, err := daterange.Parse(q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var propertyID int64
	if raw := strings.TrimSpace(q.Get("property_id")); raw != "" {
		if propertyID, err = parseID(raw, "property_id"); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	bookings, err := s.svc.ListReservations(r.Context(), actorFrom(r), propertyID, rng)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": bookings})
}

func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"), "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	from := daterange.Date(time.Now())
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err = daterange.ParseDate(raw)
		if err != nil {
			s.writeError(w, r, domain.NewValidationError("from", err.Error()))
			return
		}
	}
	days, err := parseIntDefault(q.Get("days"), "days", defaultCalendarDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	calendar, err := s.svc.Calendar(r.Context(), actorFrom(r), id, from, days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"property_id": id,
		"from":        from.Format(daterange.Layout),
		"days":        calendar,
	})
}

// actorFrom returns the caller resolved by authMiddleware. A request that
// somehow skipped it carries no role and is refused by the service.
func actorFrom(r *http.Request) models.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

func parseID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(field, "must be a positive integer")
	}
	return id, nil
}

func parseIntDefault(raw, field string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(field, "must be an integer")
	}
	return v, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewValidationError("body", "invalid JSON body")
	}
	return nil
}
