// Package api exposes the control plane over HTTP for operators and
// administrators. Every error response is an RFC 7807 problem document.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/controlplane"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/observability"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/problem"
)

const maxBodyBytes = 1 << 20

// Options tunes the server. A nil Telemetry disables request spans.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	Telemetry      *observability.Provider
}

// Server serves the admin API.
type Server struct {
	svc       *controlplane.Service
	validator *auth.JWTValidator
	limiter   *RateLimiter
	telemetry *observability.Provider
	logger    *slog.Logger
}

func NewServer(svc *controlplane.Service, validator *auth.JWTValidator, opts Options) *Server {
	rps := opts.RateLimitRPS
	if rps <= 0 {
		rps = 20
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 2 * int(rps)
	}
	return &Server{
		svc:       svc,
		validator: validator,
		limiter:   NewRateLimiter(rps, burst),
		telemetry: opts.Telemetry,
		logger:    slog.Default().With("component", "api"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(exposeRequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.telemetry != nil {
		r.Use(s.traceRequests)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		problem.NotFound(w, r, fmt.Sprintf("no route for %s", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path))
	})

	r.Get("/health", s.health)
	r.Get("/readiness", s.readiness)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator))
		r.Use(s.limiter.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOperator, auth.RoleAdministrator))
			r.Get("/stats", s.stats)
			r.Get("/audit/verify", s.verifyAudit)
			r.Get("/audit/failsafe", s.failsafeEvents)
			r.Get("/killswitch", s.killSwitchState)
		})

		// Read-derived calculations that never touch the audit trail.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOperator, auth.RoleAdministrator, auth.RolePipeline))
			r.Post("/check/floor", s.checkFloor)
			r.Post("/check/commission", s.applyCommission)
		})

		// Screening records failsafe events and blocked charges.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOperator, auth.RolePipeline))
			r.Post("/check/revenue", s.checkRevenue)
			r.Post("/check/multiplier", s.checkMultiplier)
			r.Post("/check/split", s.checkSplit)
			r.Post("/check/breakdown", s.finalizeBreakdown)
			r.Post("/check/charge", s.checkCharge)
			r.Post("/check/payout", s.checkPayout)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOperator))
			r.Post("/killswitch/activate", s.activateKillSwitch)
			r.Post("/killswitch/deactivate", s.deactivateKillSwitch)
			r.Post("/killswitch/allow", s.allowParty)
			r.Post("/overrides/split", s.overrideSplit)
			r.Post("/overrides/payout", s.adjustPayout)
			r.Put("/operator/commission-rate", s.setCommissionRate)
		})
	})
	return r
}

// exposeRequestID mirrors the request ID into the response so clients and
// problem documents can quote it.
func exposeRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.telemetry.StartSpan(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.request.method", r.Method)),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
		}
		span.SetAttributes(attribute.Int("http.response.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

var errEmptyBody = errors.New("request body is required")

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyBody
		}
		problem.BadRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response",
			"error", err,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
}
