// Package api serves the workflow HTTP surface: submission intake, sample
// and step operator actions, and the queue and status views.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seqlab/nanotrack/pkg/database"
	"github.com/seqlab/nanotrack/pkg/orchestrator"
	"github.com/seqlab/nanotrack/pkg/registry"
	"github.com/seqlab/nanotrack/pkg/store"
	"github.com/seqlab/nanotrack/pkg/version"
)

// Server exposes the orchestrator over HTTP.
type Server struct {
	orch     *orchestrator.Orchestrator
	store    *store.Store
	registry *registry.Registry
	db       *database.Client

	httpServer *http.Server
}

// NewServer wires the API server.
func NewServer(orch *orchestrator.Orchestrator, st *store.Store, reg *registry.Registry, db *database.Client) *Server {
	return &Server{
		orch:     orch,
		store:    st,
		registry: reg,
		db:       db,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(securityHeaders())

	api := router.Group("/api")
	{
		api.GET("/health", s.Health)

		api.POST("/submissions/ingest", s.IngestSubmission)
		api.GET("/submissions", s.ListSubmissions)
		api.GET("/submissions/:id", s.GetSubmission)

		api.GET("/samples/:id/workflow", s.GetSampleWorkflow)
		api.POST("/samples/:id/pause", s.PauseSample)
		api.POST("/samples/:id/resume", s.ResumeSample)
		api.PATCH("/samples/:id/priority", s.ChangePriority)

		api.POST("/steps/:id/retry", s.RetryStep)
		api.POST("/steps/:id/skip", s.SkipStep)

		api.GET("/queue", s.GetQueue)
		api.GET("/workflow/status", s.GetWorkflowStatus)
	}

	return router
}

// Run serves HTTP on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Health reports database and step registry reachability. A down registry
// degrades the response but does not fail it; the engine runs without redis.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	registryStatus := "healthy"
	if s.registry != nil {
		if err := s.registry.Ping(ctx); err != nil {
			registryStatus = "degraded"
		}
	} else {
		registryStatus = "disabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"version":       version.Full(),
		"database":      dbHealth,
		"step_registry": registryStatus,
	})
}
