package api

import (
	"github.com/gin-gonic/gin"
)

const defaultQueueLimit = 100

// GetQueue handles GET /api/queue: pending steps across all stages in
// dispatch order.
func (s *Server) GetQueue(c *gin.Context) {
	limit := queryInt(c, "limit", defaultQueueLimit)
	steps, err := s.orch.Queue(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"steps": steps,
		"count": len(steps),
	})
}

// GetWorkflowStatus handles GET /api/workflow/status.
func (s *Server) GetWorkflowStatus(c *gin.Context) {
	status, err := s.orch.Status(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, status)
}
