package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// envelope is the uniform response body. Data carries the payload on success;
// Message and Errors describe failures.
type envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, message string, errs ...string) {
	c.JSON(status, envelope{Success: false, Message: message, Errors: errs})
}
