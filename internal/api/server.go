// Package api exposes the fleet controller over HTTP with JSON bodies.
//
// Endpoints:
//
//	POST /vehicles        register a vehicle, id generated when omitted
//	GET  /vehicles        list vehicles
//	GET  /vehicle?id=     fetch one vehicle
//	POST /reserve         {vehicleId, city}
//	POST /start           {vehicleId, city}
//	POST /end             {vehicleId}
//	POST /state           {vehicleId, state, city?, reason?}
//	POST /telemetry       queue a telemetry reading
//	GET  /payments        payment ledger
//	GET  /health          liveness and store reachability
//	GET  /metrics         Prometheus exposition, when configured
//
// Every response carries permissive CORS headers and OPTIONS requests are
// answered with 204.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/smartmove/internal/domain"
)

// Fleet is the controller surface the API needs. *fleet.Controller
// implements it.
type Fleet interface {
	RegisterVehicle(ctx context.Context, v domain.Vehicle) (domain.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (domain.Vehicle, bool, error)
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)
	ReserveVehicle(ctx context.Context, id string, city domain.City) error
	StartRental(ctx context.Context, id string, city domain.City) error
	EndRental(ctx context.Context, id string) (domain.Payment, error)
	ChangeState(ctx context.Context, id string, to domain.State, city domain.City, reason string) error
	QueueTelemetry(t domain.Telemetry) (bool, error)
	Payments(ctx context.Context) ([]domain.Payment, error)
	QueueLen() int
}

// Pinger checks a dependency for /health. *store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to a Fleet.
type Server struct {
	fleet   Fleet
	health  Pinger
	metrics http.Handler
	newID   func() string
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck makes /health report 503 when p fails.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithIDGenerator sets the source of generated vehicle ids. Defaults to
// random UUIDs.
func WithIDGenerator(f func() string) Option {
	return func(s *Server) { s.newID = f }
}

// NewServer creates a server over f.
func NewServer(f Fleet, opts ...Option) *Server {
	s := &Server{fleet: f, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /vehicles", s.handleRegister)
	mux.HandleFunc("GET /vehicles", s.handleListVehicles)
	mux.HandleFunc("GET /vehicle", s.handleGetVehicle)
	mux.HandleFunc("POST /reserve", s.handleReserve)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /end", s.handleEnd)
	mux.HandleFunc("POST /state", s.handleChangeState)
	mux.HandleFunc("POST /telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /payments", s.handlePayments)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return logRequests(cors(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		slog.Info("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}
