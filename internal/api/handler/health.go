package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	sessionCounter func() int
}

// NewHealthHandler creates a new health handler. sessionCounter reports the
// number of live websocket sessions and may be nil.
func NewHealthHandler(sessionCounter func() int) *HealthHandler {
	return &HealthHandler{sessionCounter: sessionCounter}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"service": "scriptforge",
	}
	if h.sessionCounter != nil {
		resp["sessions"] = h.sessionCounter()
	}
	c.JSON(http.StatusOK, resp)
}
