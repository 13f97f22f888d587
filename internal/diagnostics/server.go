// Package diagnostics serves a read-only HTTP view of a running audio
// manager: prometheus metrics, a health summary and the pooled instances.
package diagnostics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pointaudio/pointaudio/internal/audiocore"
	"github.com/pointaudio/pointaudio/internal/errors"
)

const shutdownTimeout = 5 * time.Second

// Health is the /health response body.
type Health struct {
	Status    string `json:"status"`
	ManagerID string `json:"manager_id"`
	Capacity  int    `json:"capacity"`
	Active    int    `json:"active"`
	Paused    bool   `json:"paused"`
	Focused   bool   `json:"focused"`
}

// Instance is one entry of the /instances response.
type Instance struct {
	Slot         int    `json:"slot"`
	Generation   uint32 `json:"generation"`
	InstanceHash string `json:"instance_hash"`
	Event        string `json:"event"`
	State        string `json:"state"`
}

// Server exposes diagnostics for one Manager.
type Server struct {
	Echo     *echo.Echo
	manager  *audiocore.Manager
	registry *prometheus.Registry
	listen   string
	logger   *slog.Logger
}

// New builds the server. registry may be nil, in which case /metrics is not
// registered.
func New(m *audiocore.Manager, registry *prometheus.Registry, listen string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Echo:     echo.New(),
		manager:  m,
		registry: registry,
		listen:   listen,
		logger:   logger.With("component", "diagnostics"),
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Use(middleware.Recover())
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	if s.registry != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/instances", s.handleInstances)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server starting", "address", s.listen)
		if err := s.Echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return errors.New(err).
			Component("diagnostics").
			Category(errors.CategoryHTTP).
			Context("address", s.listen).
			Build()
	case <-ctx.Done():
	}

	s.logger.Info("stopping diagnostics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Start returns once Shutdown has closed the listener.
	for range errChan {
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	h := Health{
		Status:    "ok",
		ManagerID: s.manager.ID(),
		Capacity:  s.manager.Capacity(),
		Active:    s.manager.ActiveCount(),
		Paused:    s.manager.IsPaused(),
		Focused:   s.manager.IsFocused(),
	}

	code := http.StatusOK
	switch {
	case s.manager.IsClosed():
		h.Status = "closed"
		code = http.StatusServiceUnavailable
	case h.Paused:
		h.Status = "paused"
	}
	return c.JSON(code, h)
}

// handleInstances lists pooled instances, optionally filtered by ?event=.
// The listing is a snapshot; slots may change while it is built.
func (s *Server) handleInstances(c echo.Context) error {
	seq := s.manager.Instances()
	if path := c.QueryParam("event"); path != "" {
		a, err := s.manager.GetAudio(path)
		if err != nil {
			if errors.Is(err, audiocore.ErrInvalidEvent) {
				return echo.NewHTTPError(http.StatusNotFound, "unknown event "+path)
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		seq = s.manager.FindEventInstancesOf(a.EventDescription())
	}

	out := []Instance{}
	for info := range seq {
		out = append(out, Instance{
			Slot:         info.Index,
			Generation:   info.Generation,
			InstanceHash: info.InstanceHash.String(),
			Event:        info.Event,
			State:        info.PlaybackState.String(),
		})
	}
	return c.JSON(http.StatusOK, out)
}
