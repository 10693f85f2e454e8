package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/seqlab/nanotrack/pkg/models"
	"github.com/seqlab/nanotrack/pkg/orchestrator"
	"github.com/seqlab/nanotrack/pkg/store"
)

// IngestSubmission handles POST /api/submissions/ingest.
func (s *Server) IngestSubmission(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Priority != "" && !models.Priority(req.Priority).Valid() {
		respondError(c, http.StatusBadRequest, "invalid priority "+strconv.Quote(req.Priority))
		return
	}
	for _, sample := range req.Samples {
		if sample.Priority != "" && !models.Priority(sample.Priority).Valid() {
			respondError(c, http.StatusBadRequest, "invalid sample priority "+strconv.Quote(sample.Priority))
			return
		}
	}

	result, err := s.orch.Ingest(c.Request.Context(), orchestrator.IngestRequest{
		Submission: req.submission(),
		Samples:    req.samples(),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, result)
}

// ListSubmissions handles GET /api/submissions.
func (s *Server) ListSubmissions(c *gin.Context) {
	filters := store.SubmissionFilters{
		Status: models.SubmissionStatus(c.Query("status")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}

	submissions, total, err := s.store.ListSubmissions(c.Request.Context(), filters)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"submissions": submissions,
		"total":       total,
	})
}

// GetSubmission handles GET /api/submissions/:id, including samples.
func (s *Server) GetSubmission(c *gin.Context) {
	sub, err := s.store.GetSubmission(c.Request.Context(), c.Param("id"), true)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, sub)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
