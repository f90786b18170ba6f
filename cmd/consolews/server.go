package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/consolews/internal/connection"
	"github.com/rickgao/consolews/internal/version"
)

// createHTTPHandler serves /health and the Prometheus endpoint.
func createHTTPHandler(a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status      string                `json:"status"`
			Version     version.Info          `json:"version"`
			Connections map[string]connStatus `json:"connections"`
		}{
			Status:      "healthy",
			Version:     version.Get(),
			Connections: make(map[string]connStatus),
		}

		for _, id := range a.dir.Identities() {
			c, ok := a.dir.Get(id)
			if !ok {
				continue
			}
			st := c.Stats()
			health.Connections[id] = connStatus{
				State:          st.State.String(),
				FramesReceived: st.FramesReceived,
				FramesSent:     st.FramesSent,
				Reconnects:     st.Reconnects,
				Queued:         st.Queued,
				QueueCapacity:  st.QueueCapacity,
			}
			if st.State != connection.StateOpen {
				health.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			a.logger.Error("failed to encode health response", "error", err)
		}
	})

	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return mux
}

type connStatus struct {
	State          string `json:"state"`
	FramesReceived int64  `json:"frames_received"`
	FramesSent     int64  `json:"frames_sent"`
	Reconnects     int64  `json:"reconnects"`
	Queued         int    `json:"queued"`
	QueueCapacity  int    `json:"queue_capacity"`
}

// serveHTTP runs srv until ctx ends, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
