// Package server exposes the ledger to display clients: a gRPC server that
// carries health and reflection, and an HTTP/JSON mux built on the
// grpc-gateway runtime.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/query"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/syncer"
)

// Ledger is the ledger surface the routes read and mutate.
type Ledger interface {
	Snapshot() ledger.State
	DailyGains() decimal.Decimal
	Reset(reason string) error
	Correct(value decimal.Decimal, reason string) error
}

// Syncer is the sync agent surface used by the sync and withdraw routes.
type Syncer interface {
	SyncNow(ctx context.Context, force bool) syncer.Outcome
	PushReset(ctx context.Context) error
	RequestSync()
}

// Sessions binds and unbinds the current user.
type Sessions interface {
	Login(userID string)
	Logout()
}

// History reads the change journal. Optional.
type History interface {
	History(ctx context.Context, userID string, limit int, before *time.Time) (*query.HistoryPage, error)
	DailyTotals(ctx context.Context, userID string, days int, loc *time.Location, now time.Time) ([]query.DailyTotal, error)
}

// Deps holds everything the routes need.
type Deps struct {
	Ledger   Ledger
	Syncer   Syncer
	Sessions Sessions
	History  History

	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Logger        zerolog.Logger

	// AdminToken guards /v1/admin routes; empty disables them.
	AdminToken string
	Location   *time.Location
	Now        func() time.Time
}

// Server wraps the gRPC server and the HTTP gateway mux.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	handler      http.Handler
}

// New builds both servers. Nothing listens until StartGRPC/StartHTTP.
func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	h := &handlers{deps: deps}
	mux := runtime.NewServeMux()
	for _, r := range h.routes() {
		if err := mux.HandlePath(r.method, r.path, h.instrument(r.name, r.fn)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", mux)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		handler:      httpMux,
	}, nil
}

// Handler returns the HTTP handler (for tests and embedding).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetServing flips the gRPC health status. The app calls it when the ledger
// becomes ready for the bound user.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON server (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
