// Package api exposes the daemon's local control surface. The tray shell
// talks to the daemon over this loopback HTTP API instead of sharing memory
// with it, which keeps the UI from ever blocking on a pipeline cycle.
package api

import (
	"context"
	"net/http"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/metrics"
	"example.com/storesync/internal/repositories"
	"example.com/storesync/internal/status"
	"example.com/storesync/internal/supervisor"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server is the local control API server.
type Server struct {
	config     config.Config
	httpServer *http.Server
	supervisor *supervisor.Supervisor
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	orders     *repositories.OrderRepository
}

// NewServer creates a new control API server
func NewServer(
	cfg config.Config,
	sup *supervisor.Supervisor,
	tracker *status.Tracker,
	m *metrics.Metrics,
	orders *repositories.OrderRepository,
) *Server {
	server := &Server{
		config:     cfg,
		supervisor: sup,
		tracker:    tracker,
		metrics:    m,
		orders:     orders,
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}
	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", s.handleMetrics)
	router.POST("/trigger/:pipeline", s.handleTrigger)
	router.POST("/orders/reset", s.handleResetOrders)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy := true
	for _, ok := range s.metrics.GetHealthChecks() {
		if !ok {
			healthy = false
			break
		}
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetAllMetrics())
}

// handleTrigger runs a cycle immediately outside the timer. The cycle runs
// in the background so the caller gets an answer right away; a trigger
// landing mid-cycle is coalesced by the pipeline itself.
func (s *Server) handleTrigger(c *gin.Context) {
	name := c.Param("pipeline")
	if !s.supervisor.Has(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pipeline: " + name})
		return
	}
	go func() {
		if _, err := s.supervisor.TriggerNow(name); err != nil {
			log.Error().Err(err).Str("pipeline", name).Msg("Manual trigger failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"pipeline": name, "triggered": true})
}

func (s *Server) handleResetOrders(c *gin.Context) {
	var body struct {
		OrderNumber string `json:"order_number"`
	}
	// An empty body resets every printed order
	_ = c.ShouldBindJSON(&body)

	count, err := s.orders.ResetForReprint(c.Request.Context(), body.OrderNumber)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": count})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting control API")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "control API error")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "control API shutdown error")
	}
	return nil
}
