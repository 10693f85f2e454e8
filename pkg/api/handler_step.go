package api

import (
	"github.com/gin-gonic/gin"
)

// RetryStep handles POST /api/steps/:id/retry.
func (s *Server) RetryStep(c *gin.Context) {
	if err := s.orch.RetryStep(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"retried": true})
}

// SkipStep handles POST /api/steps/:id/skip.
func (s *Server) SkipStep(c *gin.Context) {
	if err := s.orch.SkipStep(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"skipped": true})
}
