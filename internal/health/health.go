// Package health serves the standard gRPC health service for the control
// layer. The engine service reports SERVING only while the engine session is
// ready.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"tailscale.com/tsweb"

	"github.com/banshee-data/soundfield/internal/engine"
	"github.com/banshee-data/soundfield/internal/monitoring"
)

// EngineService is the health service name tracking engine readiness.
const EngineService = "soundfield.engine"

type Server struct {
	listenAddr string
	health     *health.Server

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New returns a server whose engine service starts NOT_SERVING.
func New(listenAddr string) *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(EngineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{listenAddr: listenAddr, health: h}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)

	s.mu.Lock()
	s.server, s.listener = srv, lis
	s.mu.Unlock()
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("health: gRPC server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("health: gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddr
}

// Stop marks every service NOT_SERVING and stops gracefully.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	srv.GracefulStop()
	s.wg.Wait()
}

// SetEngineState maps a session state to the engine service status.
func (s *Server) SetEngineState(st engine.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == engine.Ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(EngineService, status)
}

// Watch keeps the engine service in step with sess.
func (s *Server) Watch(sess *engine.Session) {
	sess.OnStateChange(s.SetEngineState)
	s.SetEngineState(sess.State())
}

// Check queries the health service in process.
func (s *Server) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

// AttachAdminRoutes adds a debug page rendering the engine health check.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("health", "gRPC health of the engine service", func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.Check(r.Context(), EngineService)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		b, err := protojson.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})
}
