// Package health exposes liveness and readiness of the fusion process over
// HTTP and the standard gRPC health protocol.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"roadvision/internal/pipeline"
)

// ServiceName is the gRPC health service name reporting overall readiness
const ServiceName = "roadvision.Fusion"

// Status is the readiness report of every registered collaborator
type Status struct {
	Ready      bool            `json:"ready"`
	Components map[string]bool `json:"components"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// Service aggregates collaborator health checks
type Service struct {
	mu     sync.RWMutex
	checks map[string]pipeline.HealthChecker
}

// NewService creates an empty health service
func NewService() *Service {
	return &Service{checks: make(map[string]pipeline.HealthChecker)}
}

// Register adds a named collaborator; readiness requires all of them
func (s *Service) Register(name string, checker pipeline.HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// Healthz implements the liveness probe
func (s *Service) Healthz(ctx context.Context) error {
	return ctx.Err()
}

// Readyz implements the readiness probe
func (s *Service) Readyz(ctx context.Context) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	checks := make(map[string]pipeline.HealthChecker, len(s.checks))
	for name, checker := range s.checks {
		checks[name] = checker
	}
	s.mu.RUnlock()

	status := &Status{Ready: true, Components: make(map[string]bool, len(checks)), CheckedAt: time.Now()}
	for name, checker := range checks {
		healthy := checker.IsHealthy()
		status.Components[name] = healthy
		if !healthy {
			status.Ready = false
		}
	}
	return status, nil
}

// LivenessHandler serves /healthz
func (s *Service) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Healthz(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
}

// ReadinessHandler serves /readyz with a JSON component report
func (s *Service) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := s.Readyz(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !status.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
}

// Server publishes readiness over grpc.health.v1
type Server struct {
	service  *Service
	interval time.Duration
	grpc     *grpc.Server
	health   *grpchealth.Server
	listener net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewServer creates a gRPC health server that re-evaluates readiness every interval
func NewServer(service *Service, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		service:  service,
		interval: interval,
		grpc:     gs,
		health:   hs,
		stopCh:   make(chan struct{}),
	}
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.listener = lis
	s.update()

	s.wg.Add(1)
	go s.watch()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[Health] gRPC health server listening on %s", lis.Addr())
		if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Warnf("[Health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.health.Shutdown()
		s.grpc.GracefulStop()
		s.wg.Wait()
	})
}

func (s *Server) watch() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.update()
		}
	}
}

// update pushes the current readiness into the gRPC health registry
func (s *Server) update() {
	status, err := s.service.Readyz(context.Background())
	serving := healthpb.HealthCheckResponse_SERVING
	if err != nil || !status.Ready {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, serving)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if status != nil {
		for name, ok := range status.Components {
			if !ok {
				log.Debugf("[Health] %s unhealthy", name)
			}
		}
	}
}
