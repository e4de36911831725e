package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/ratelimit"
	"github.com/collabboard/collabboard/backend/go/internal/v1/room"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Acceptor upgrades HTTP requests to WebSocket sessions and tracks the live
// ones so shutdown can disconnect them.
type Acceptor struct {
	registry   *room.Registry
	dispatcher *Dispatcher
	limiter    *ratelimit.ConnectLimiter // nil disables the per-IP gate
	origins    []string

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewAcceptor wires the upgrade path. limiter may be nil; development mode
// runs without the per-IP connect gate.
func NewAcceptor(registry *room.Registry, limiter *ratelimit.ConnectLimiter, allowedOrigins []string) *Acceptor {
	return &Acceptor{
		registry:   registry,
		dispatcher: NewDispatcher(registry),
		limiter:    limiter,
		origins:    allowedOrigins,
		sessions:   make(map[*Session]struct{}),
	}
}

// validateOrigin checks the Origin header against the allowed list by exact
// scheme and host. Requests without an Origin header are allowed so
// non-browser clients can connect.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(r.Context(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// ServeWS handles one upgrade request end to end: shutdown gate, per-IP
// connect limit, origin check, upgrade, session start.
func (a *Acceptor) ServeWS(c *gin.Context) {
	if a.isClosed() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	if a.limiter != nil && !a.limiter.CheckWebSocket(c) {
		return // Response already written by the limiter
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, a.origins) == nil
		},
		WriteBufferPool: &sync.Pool{},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure response.
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := newSession(conn, a.registry, a.dispatcher)
	s.onClose = a.untrack
	a.track(s)

	metrics.IncConnection()
	logging.Info(c.Request.Context(), "WebSocket connected",
		zap.String("sessionId", s.id), zap.String("remoteAddr", c.ClientIP()))

	go s.writePump()
	go s.readPump()
}

func (a *Acceptor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Acceptor) track(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s] = struct{}{}
}

func (a *Acceptor) untrack(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, s)
}

// SessionCount reports the number of live sessions.
func (a *Acceptor) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Shutdown stops accepting upgrades and disconnects every live session.
// Sessions finish their in-flight writes best effort; their read loops run
// the usual leave path as the connections close.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	sessions := make([]*Session, 0, len(a.sessions))
	for s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	logging.Info(ctx, "Disconnecting sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Disconnect()
	}
	return nil
}
