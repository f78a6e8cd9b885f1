package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/internal/metrics"
	"github.com/satriahrh/mianshi/internal/realtime"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to the client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the client.
	maxMessageSize = 1024 * 1024

	// Outbound buffer per peer.
	sendBufferSize = 256
)

// frame is one websocket message with its kind preserved
type frame struct {
	// Expect websocket.TextMessage or websocket.BinaryMessage
	kind int
	data []byte
}

// peer owns one websocket connection and its single writer goroutine
type peer struct {
	name string
	conn *websocket.Conn
	send chan frame
	quit chan struct{}
	ping bool

	// Closed when the writer exits
	stopped  chan struct{}
	stopOnce sync.Once

	// Called when a write fails
	onFail func()

	logger *zap.Logger
}

func newPeer(name string, conn *websocket.Conn, ping bool, onFail func(), logger *zap.Logger) *peer {
	return &peer{
		name:    name,
		conn:    conn,
		send:    make(chan frame, sendBufferSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		ping:    ping,
		onFail:  onFail,
		logger:  logger.With(zap.String("peer", name)),
	}
}

// enqueue hands f to the writer. It reports false once the peer is closing.
func (p *peer) enqueue(f frame) bool {
	select {
	case <-p.quit:
		return false
	default:
	}

	select {
	case p.send <- f:
		return true
	case <-p.quit:
		return false
	case <-p.stopped:
		return false
	}
}

// writePump pumps queued frames to the websocket connection. On quit it
// flushes what is already buffered before the close frame.
func (p *peer) writePump() {
	var tick <-chan time.Time
	if p.ping {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		p.stop()
		p.conn.Close()
	}()

	for {
		select {
		case f := <-p.send:
			if !p.write(f) {
				p.fail()
				return
			}

		case <-tick:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.fail()
				return
			}

		case <-p.quit:
			p.flush()
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (p *peer) flush() {
	for {
		select {
		case f := <-p.send:
			if !p.write(f) {
				return
			}
		default:
			return
		}
	}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// fail unblocks pending enqueues before notifying the session
func (p *peer) fail() {
	p.stop()
	p.onFail()
}

func (p *peer) write(f frame) bool {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(f.kind, f.data); err != nil {
		p.logger.Error("Failed to write message", zap.Error(err))
		return false
	}
	return true
}

// Session bridges one client connection to one upstream connection
type Session struct {
	ID string

	hub     *Hub
	client  *peer
	logger  *zap.Logger
	started time.Time

	mu           sync.Mutex
	upstream     *peer
	queue        []frame
	upstreamOpen bool
	closed       bool

	dialCtx    context.Context
	cancelDial context.CancelFunc
	closeOnce  sync.Once
}

func newSession(hub *Hub, conn *websocket.Conn) *Session {
	id := uuid.New().String()
	logger := hub.logger.With(zap.String("sessionID", id))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:         id,
		hub:        hub,
		logger:     logger,
		started:    time.Now(),
		dialCtx:    ctx,
		cancelDial: cancel,
	}
	s.client = newPeer("client", conn, true, s.Close, logger)
	return s
}

// Age returns how long the session has been open
func (s *Session) Age() time.Duration {
	return time.Since(s.started)
}

func (s *Session) start() {
	go s.client.writePump()
	go s.connectUpstream()
	go s.readClient()
}

// Close tears down both connections. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		upstream := s.upstream
		s.mu.Unlock()

		s.cancelDial()
		close(s.client.quit)
		if upstream != nil {
			close(upstream.quit)
		}
		s.hub.remove(s)

		s.logger.Info("Session closed", zap.Duration("age", s.Age()))
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readClient pumps client messages to upstream, queueing them until upstream opens.
func (s *Session) readClient() {
	defer s.Close()

	conn := s.client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && !s.isClosed() {
				s.logger.Error("Client connection error", zap.Error(err))
			}
			return
		}
		f := frame{kind: kind, data: data}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if !s.upstreamOpen {
			s.queue = append(s.queue, f)
			s.mu.Unlock()
			s.hub.metrics.RecordQueued()
			continue
		}
		upstream := s.upstream
		s.mu.Unlock()

		if upstream.enqueue(f) {
			s.hub.metrics.RecordForwarded(metrics.DirectionClientToUpstream)
		}
	}
}

// connectUpstream dials the upstream endpoint, flushes the queue in arrival
// order and then pumps upstream messages to the client.
func (s *Session) connectUpstream() {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.hub.upstream.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := s.hub.dialer.DialContext(s.dialCtx, s.hub.upstream.URL, header)
	if err != nil {
		if s.dialCtx.Err() != nil {
			return
		}
		fields := []zap.Field{zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("status", resp.StatusCode))
		}
		s.logger.Error("Failed to connect upstream", fields...)
		s.failUpstream(err)
		return
	}

	upstream := newPeer("upstream", conn, false, s.Close, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.upstream = upstream
	go upstream.writePump()

	queued := len(s.queue)
	for _, f := range s.queue {
		if upstream.enqueue(f) {
			s.hub.metrics.RecordForwarded(metrics.DirectionClientToUpstream)
		}
	}
	s.queue = nil
	s.upstreamOpen = true
	s.mu.Unlock()

	s.logger.Info("Upstream connected", zap.Int("flushedMessages", queued))
	s.readUpstream(upstream)
}

func (s *Session) readUpstream(upstream *peer) {
	for {
		kind, data, err := upstream.conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Upstream closed the connection")
				s.Close()
				return
			}
			s.logger.Error("Upstream connection error", zap.Error(err))
			s.failUpstream(err)
			return
		}

		if s.client.enqueue(frame{kind: kind, data: data}) {
			s.hub.metrics.RecordForwarded(metrics.DirectionUpstreamToClient)
		} else {
			s.hub.metrics.RecordDropped()
		}
	}
}

// failUpstream reports err to the client as an error event and closes the session
func (s *Session) failUpstream(err error) {
	s.hub.metrics.RecordUpstreamError()
	s.client.enqueue(frame{
		kind: websocket.TextMessage,
		data: realtime.NewErrorEvent("upstream connection error: " + err.Error()),
	})
	s.Close()
}
