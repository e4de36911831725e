package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/collabboard/collabboard/backend/go/internal/v1/config"
	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
)

// ConnectLimiter paces WebSocket connection attempts per client IP. It is a
// transport-level guard, separate from the in-room message buckets.
type ConnectLimiter struct {
	ws *limiter.Limiter
}

// NewConnectLimiter builds the per-IP limiter from the configured rate
// (ulule format, e.g. "60-M").
func NewConnectLimiter(cfg *config.Config) (*ConnectLimiter, error) {
	connectRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid WS connect rate: %w", err)
	}
	return &ConnectLimiter{
		ws: limiter.New(memory.NewStore(), connectRate),
	}, nil
}

// CheckWebSocket reports whether a new connection attempt from this client
// may proceed. When the limit is reached it writes the 429 response itself.
// Store failures fail open.
func (cl *ConnectLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := cl.ws.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Connect limiter store failed", zap.Error(err))
		return true // Fail open
	}

	if ipContext.Reached {
		metrics.ConnectLimitExceeded.Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
