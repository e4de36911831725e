// Package health exposes the plain health endpoint the protocol promises
// plus the liveness/readiness probes orchestration expects.
package health

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ServerHeader identifies the service on plain health responses.
const ServerHeader = "CollabBoard/1.0"

// RegistryStats is the view of the room registry the readiness probe needs.
type RegistryStats interface {
	RoomCount() int
}

// SessionStats is the view of the transport layer the readiness probe needs.
type SessionStats interface {
	SessionCount() int
}

// Handler manages health check endpoints
type Handler struct {
	registry RegistryStats
	sessions SessionStats
}

// NewHandler creates a new health check handler. sessions may be nil when no
// acceptor is wired (tests).
func NewHandler(registry RegistryStats, sessions SessionStats) *Handler {
	return &Handler{registry: registry, sessions: sessions}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles the plain health endpoint every client and load balancer
// polls.
// GET /health
// Returns 200 text/plain "OK".
func (h *Handler) Health(c *gin.Context) {
	c.Header("Server", ServerHeader)
	c.String(http.StatusOK, "OK")
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// The server holds all room state in process, so readiness only requires a
// live registry; the checks report its size for operators.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)

	status := "ready"
	statusCode := http.StatusOK
	if h.registry == nil {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
		checks["registry"] = "unhealthy"
	} else {
		checks["registry"] = "healthy"
		checks["rooms"] = strconv.Itoa(h.registry.RoomCount())
	}
	if h.sessions != nil {
		checks["sessions"] = strconv.Itoa(h.sessions.SessionCount())
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}
