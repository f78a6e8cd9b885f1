package relay

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/internal/metrics"
)

var upgrader = websocket.Upgrader{
	// Any origin may connect; the relay carries no credentials of its own
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// UpstreamConfig describes the endpoint each session bridges to
type UpstreamConfig struct {
	URL    string
	APIKey string
}

// Hub maintains the set of active sessions
type Hub struct {
	// Active sessions by id.
	sessions map[string]*Session

	// Register requests from new sessions.
	register chan *Session

	// Unregister requests from closing sessions.
	unregister chan *Session

	// Closed when the hub stops accepting sessions.
	done     chan struct{}
	stopOnce sync.Once

	// Mutex for thread-safe access to sessions map
	mu sync.RWMutex

	upstream UpstreamConfig
	dialer   *websocket.Dialer
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewHub creates a new relay hub
func NewHub(upstream UpstreamConfig, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		done:       make(chan struct{}),
		upstream:   upstream,
		// No handshake timeout: a stalled upstream is ended by the client closing
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		metrics: m,
		logger:  logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session.ID] = session
			h.mu.Unlock()
			h.metrics.RecordSessionOpened()
			h.logger.Info("Session registered", zap.String("sessionID", session.ID))

		case session := <-h.unregister:
			h.mu.Lock()
			_, ok := h.sessions[session.ID]
			delete(h.sessions, session.ID)
			h.mu.Unlock()
			if ok {
				h.metrics.RecordSessionClosed(session.Age().Seconds())
			}
			h.logger.Info("Session unregistered", zap.String("sessionID", session.ID))

		case <-h.done:
			return
		}
	}
}

// Count returns the number of active sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown stops accepting sessions and closes every active one
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		h.metrics.RecordSessionClosed(s.Age().Seconds())
	}
	h.logger.Info("Relay hub stopped", zap.Int("closedSessions", len(sessions)))
}

func (h *Hub) add(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// HandleWebSocket upgrades the request and bridges it to a new upstream connection
func HandleWebSocket(hub *Hub, c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	session := newSession(hub, conn)
	if !hub.add(session) {
		hub.logger.Warn("Rejecting session during shutdown", zap.String("sessionID", session.ID))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	session.start()
	return nil
}
