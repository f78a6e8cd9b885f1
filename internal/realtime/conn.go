package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024 * 1024
)

// ErrConnClosed is returned by Send after Close
var ErrConnClosed = errors.New("connection closed")

// Conn is a client connection speaking the realtime protocol through the relay
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	onMessage func([]byte)
	onClose   func(error)

	writeMu   sync.Mutex
	closeOnce sync.Once
	mu        sync.Mutex
	closing   bool
}

// Dial connects to url and starts delivering text messages to onMessage.
// onClose is called exactly once when the connection ends; its error is nil
// for a normal closure.
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger, onMessage func([]byte), onClose func(error)) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:        ws,
		logger:    logger,
		onMessage: onMessage,
		onClose:   onClose,
	}
	go c.readLoop()

	logger.Info("Realtime connection opened", zap.String("url", url))
	return c, nil
}

// Send marshals msg as JSON and writes it as one text message
func (c *Conn) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the connection
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *Conn) readLoop() {
	var closeErr error
	defer func() {
		c.ws.Close()
		c.closeOnce.Do(func() {
			if c.onClose != nil {
				c.onClose(closeErr)
			}
		})
	}()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()

			if !closing && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("Realtime connection error", zap.Error(err))
				closeErr = err
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Ignoring non-text realtime message", zap.Int("type", messageType))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}
