package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"roadvision/internal/health"
	"roadvision/internal/middleware"
	"roadvision/internal/pipeline"
	"roadvision/internal/stream"
	"roadvision/internal/ws"
)

// handleHTTPServer configures and starts an HTTP server on addr. It shuts the
// server down when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, mjpeg *stream.MJPEGStream, hub *ws.ReadoutHub, healthSvc *health.Service, runner *pipeline.Runner, wg *sync.WaitGroup, errc chan error) {
	mux := http.NewServeMux()
	mux.Handle("GET /stream", mjpeg)
	mux.Handle("GET /snapshot", stream.NewSnapshotHandler(mjpeg))
	mux.Handle("GET /ws/readout", ws.NewHandler(hub))
	mux.Handle("GET /healthz", healthSvc.LivenessHandler())
	mux.Handle("GET /readyz", healthSvc.ReadinessHandler())
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(runner.Stats())
	})

	// Middlewares mounted here apply to every endpoint
	var handler http.Handler = mux
	{
		handler = middleware.Log()(handler)
		handler = middleware.RequestID()(handler)
	}

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	for _, pattern := range []string{"/stream", "/snapshot", "/ws/readout", "/healthz", "/readyz", "/stats"} {
		log.Debugf("HTTP mounted on GET %s", pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			log.Printf("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Printf("shutting down HTTP server at %q", addr)

		// Streams never finish on their own, give them a short grace period
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warnf("failed to shutdown: %v", err)
		}
	}()
}
