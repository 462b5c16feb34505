package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jarto666/scriptforge/internal/events"
	"github.com/jarto666/scriptforge/internal/logger"
)

// Config holds gateway tuning parameters.
type Config struct {
	// Heartbeat is the interval between server pings; a session that misses
	// a pong within Heartbeat+grace is considered dead.
	Heartbeat time.Duration
	// SendBufferSize is the per-session outbound queue length. A session
	// that cannot drain its queue is dropped rather than back-pressuring
	// the event bus.
	SendBufferSize int
	// CheckOrigin optionally restricts websocket origins; nil allows all
	// (origin policy is enforced by the surrounding CORS layer).
	CheckOrigin func(r *http.Request) bool
}

// Gateway accepts one long-lived websocket connection per client session and
// bridges it to the event bus: join/leave ops manage per-batch subscriptions,
// and every bus event for a joined batch is forwarded as a typed envelope.
// Nothing is buffered across connections; a reconnecting client re-fetches
// batch state through the REST API.
type Gateway struct {
	bus      *events.Bus
	cfg      Config
	logger   *logger.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a gateway over the given bus.
func New(bus *events.Bus, cfg Config, log *logger.Logger) *Gateway {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 64
	}
	if log == nil {
		log = logger.GetDefault()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Gateway{
		bus:    bus,
		cfg:    cfg,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		sessions: make(map[string]*Session),
	}
}

// Handle upgrades an HTTP request to a websocket session and runs it until
// disconnect. Intended to be mounted as a gin route (GET /ws).
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	session := newSession(uuid.New().String(), conn, g)

	g.mu.Lock()
	g.sessions[session.id] = session
	g.mu.Unlock()

	g.logger.WithField(logger.FieldSessionID, session.id).Info("client session connected")

	go session.writePump()
	session.readPump()
}

// SessionCount returns the number of currently connected sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// removeSession detaches a closed session from the registry.
func (g *Gateway) removeSession(id string) {
	g.mu.Lock()
	delete(g.sessions, id)
	g.mu.Unlock()
}

// Close terminates every connected session. Used during server shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
