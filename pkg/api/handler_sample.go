package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seqlab/nanotrack/pkg/models"
)

// GetSampleWorkflow handles GET /api/samples/:id/workflow, returning the
// sample with its steps in stage order.
func (s *Server) GetSampleWorkflow(c *gin.Context) {
	sample, steps, err := s.orch.SampleWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"sample": sample,
		"steps":  steps,
	})
}

// PauseSample handles POST /api/samples/:id/pause.
func (s *Server) PauseSample(c *gin.Context) {
	if err := s.orch.PauseSample(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"paused": true})
}

// ResumeSample handles POST /api/samples/:id/resume.
func (s *Server) ResumeSample(c *gin.Context) {
	if err := s.orch.ResumeSample(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"resumed": true})
}

// ChangePriority handles PATCH /api/samples/:id/priority.
func (s *Server) ChangePriority(c *gin.Context) {
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	err := s.orch.ChangePriority(c.Request.Context(), c.Param("id"), models.Priority(req.Priority))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"priority": req.Priority})
}
