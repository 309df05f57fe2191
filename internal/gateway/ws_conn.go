package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

var ErrConnClosed = errors.New("connection closed")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var pingFrame = []byte(`{"type":"` + string(protocol.EventPing) + `"}`)

// Conn is one client socket. Frames are written by writePump only; Send
// never blocks.
type Conn struct {
	ws         *websocket.Conn
	kind       Kind
	sessionID  string
	pingPeriod time.Duration
	logger     *slog.Logger
	send       chan []byte

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newConn(ws *websocket.Conn, kind Kind, sessionID string, pingPeriod time.Duration, logger *slog.Logger) *Conn {
	return &Conn{
		ws:         ws,
		kind:       kind,
		sessionID:  sessionID,
		pingPeriod: pingPeriod,
		logger:     logger.With("session_id", sessionID, "kind", string(kind)),
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

func (c *Conn) SessionID() string {
	return c.sessionID
}

func (c *Conn) Kind() Kind {
	return c.kind
}

func (c *Conn) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to marshal frame", "error", err)
		return err
	}
	return c.SendRaw(data)
}

func (c *Conn) SendRaw(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping frame")
	}
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.ws.Close()
}

func (c *Conn) readPump(handle func(frame []byte)) {
	defer c.Close()

	pongWait := c.pingPeriod * 10 / 9
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}
