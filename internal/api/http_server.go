package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"loft/internal/availability"
	"loft/internal/config"
	"loft/internal/daterange"
	"loft/internal/metrics"
	"loft/internal/models"
	"loft/internal/service"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const (
	codeUnauthenticated  = "UNAUTHENTICATED"
	codeRateLimited      = "RATE_LIMITED"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// ReservationAPI is the service surface both transports expose.
type ReservationAPI interface {
	CheckAvailability(ctx context.Context, actor models.Actor, propertyID int64, r daterange.DateRange) (*availability.Result, error)
	Quote(ctx context.Context, actor models.Actor, propertyID int64, r daterange.DateRange, guests int) (*service.Quote, error)
	CreateReservation(ctx context.Context, actor models.Actor, req service.ReservationRequest) (*service.Reservation, error)
	GetReservation(ctx context.Context, actor models.Actor, id int64) (*models.Booking, error)
	ConfirmReservation(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error)
	CancelReservation(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error)
	CompleteReservation(ctx context.Context, actor models.Actor, id, version int64) (*models.Booking, error)
	ListProperties(ctx context.Context, actor models.Actor) ([]*models.Property, error)
	GetProperty(ctx context.Context, actor models.Actor, id int64) (*models.Property, error)
	CreateBlock(ctx context.Context, actor models.Actor, propertyID int64, req service.BlockRequest) (*models.AvailabilityBlock, error)
	DeleteBlock(ctx context.Context, actor models.Actor, propertyID, blockID int64) error
	ListReservations(ctx context.Context, actor models.Actor, propertyID int64, r daterange.DateRange) ([]*models.Booking, error)
	Calendar(ctx context.Context, actor models.Actor, propertyID int64, from time.Time, days int) ([]models.CalendarDay, error)
}

// Pinger reports store readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPServer exposes the reservation API over JSON.
type HTTPServer struct {
	cfg    *config.APIConfig
	svc    ReservationAPI
	db     Pinger
	auth   *Authenticator
	server *http.Server
	log    zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, svc ReservationAPI, db Pinger, auth *Authenticator, logger *zerolog.Logger) *HTTPServer {
	if auth == nil {
		auth = NewAuthenticator(cfg)
	}
	srv := &HTTPServer{
		cfg:  cfg,
		svc:  svc,
		db:   db,
		auth: auth,
		log:  zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	router := srv.routes()
	handler := srv.loggingMiddleware(corsMiddleware(srv.authMiddleware(router)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() *httprouter.Router {
	router := httprouter.New()

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)

	router.GET("/api/v1/availability", s.handleAvailability)
	router.GET("/api/v1/quote", s.handleQuote)

	router.GET("/api/v1/reservations", s.handleListReservations)
	router.POST("/api/v1/reservations", s.handleCreateReservation)
	router.GET("/api/v1/reservations/:id", s.handleGetReservation)
	router.POST("/api/v1/reservations/:id/confirm", s.handleTransition(s.svc.ConfirmReservation))
	router.POST("/api/v1/reservations/:id/cancel", s.handleTransition(s.svc.CancelReservation))
	router.POST("/api/v1/reservations/:id/complete", s.handleTransition(s.svc.CompleteReservation))

	router.GET("/api/v1/properties", s.handleListProperties)
	router.GET("/api/v1/properties/:id", s.handleGetProperty)
	router.POST("/api/v1/properties/:id/blocks", s.handleCreateBlock)
	router.DELETE("/api/v1/properties/:id/blocks/:block_id", s.handleDeleteBlock)
	router.GET("/api/v1/properties/:id/calendar", s.handleCalendar)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, service.ErrorResponse{Error: "not found", Code: service.CodeNotFound})
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, service.ErrorResponse{Error: "method not allowed", Code: codeMethodNotAllowed})
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.log.Error().
			Interface("panic", v).
			Str("path", r.URL.Path).
			Bytes("stack", debug.Stack()).
			Msg("http handler panic")
		writeJSON(w, http.StatusInternalServerError, service.ErrorResponse{Error: "internal error", Code: service.CodeInternal})
	}
	// CORS preflight is answered by corsMiddleware
	router.HandleOPTIONS = false

	return router
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// authMiddleware resolves the caller and enforces its rate limit.
// Health probes bypass both.
func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := strings.TrimSpace(r.Header.Get(s.auth.HeaderName()))
		actor, err := s.auth.Resolve(apiKey)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, service.ErrorResponse{Error: err.Error(), Code: codeUnauthenticated})
			return
		}

		if !s.auth.Allow(httpClientKey(r, apiKey)) {
			writeJSON(w, http.StatusTooManyRequests, service.ErrorResponse{Error: "rate limit exceeded", Code: codeRateLimited})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func httpClientKey(r *http.Request, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		recorder.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(endpointLabel(r))
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// endpointLabel keeps metric cardinality bounded by dropping path ids.
func endpointLabel(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i, p := range parts {
		if p != "" && strings.Trim(p, "0123456789") == "" {
			parts[i] = ":id"
		}
	}
	return r.Method + " /" + strings.Join(parts, "/")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders a service error. Unexpected errors are logged, their
// text never reaches the client.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := service.HTTPError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
