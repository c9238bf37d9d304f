package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"staybook/internal/config"
	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"
	"staybook/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// ErrDegraded marks a failed check that leaves the service usable.
var ErrDegraded = errors.New("degraded")

// Optional reports failures of check as degraded. The service stays in
// rotation.
func Optional(check HealthCheck) HealthCheck {
	return func(ctx context.Context) error {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrDegraded, err)
		}
		return nil
	}
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings domain.BookingCoordinator
	webhooks payment.WebhookParser
	checks   map[string]HealthCheck
	server   *http.Server
	auth     *HTTPAuth
	logger   zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	bookings domain.BookingCoordinator,
	webhooks payment.WebhookParser,
	checks map[string]HealthCheck,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		webhooks: webhooks,
		checks:   checks,
		auth:     NewHTTPAuth(cfg),
		logger:   logger.With().Str("component", "http").Logger(),
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/payments/webhook", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/availability", s.handleAvailability)
		r.Post("/", s.handleCreate)
		r.Get("/{bookingId}", s.handleGet)
		r.Delete("/{bookingId}", s.handleCancel)
	})
	return r
}

// Handler exposes the router for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
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

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTP(r.Method+" "+route, strconv.Itoa(status))

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: message, Code: code})
}

// writeDomainError maps sentinel errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	statusCode, code := statusFor(err)
	body := errorBody{Error: err.Error(), Code: code}
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if statusCode >= http.StatusInternalServerError && statusCode != http.StatusBadGateway {
		body.Error = "internal error"
	}
	writeJSON(w, statusCode, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity, "idempotency_mismatch"
	case errors.Is(err, models.ErrUnavailable), errors.Is(err, models.ErrOverlap):
		return http.StatusConflict, "unavailable"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
