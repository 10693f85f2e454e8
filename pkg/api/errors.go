package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seqlab/nanotrack/pkg/registry"
	"github.com/seqlab/nanotrack/pkg/store"
)

// respondServiceError maps store and registry errors to HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		respondError(c, http.StatusBadRequest, validErr.Error())
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, "resource not found")
		return
	}
	if errors.Is(err, store.ErrConflict) {
		respondError(c, http.StatusConflict, err.Error())
		return
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		respondError(c, http.StatusConflict, "resource already exists")
		return
	}
	if errors.Is(err, registry.ErrUnavailable) {
		respondError(c, http.StatusServiceUnavailable, "step registry unavailable")
		return
	}

	slog.Error("Unexpected service error", "path", c.FullPath(), "error", err)
	respondError(c, http.StatusInternalServerError, "internal server error")
}
