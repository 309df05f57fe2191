package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	maxMessageSize   = 512 * 1024
	sendBuffer       = 256
)

var (
	errSocketClosed   = errors.New("socket closed")
	errSendBufferFull = errors.New("socket send buffer full")
)

// Socket is one open websocket. ReadMessage is only called from a single
// reader goroutine.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// pingObserver is implemented by sockets that can report protocol-level ping
// control frames, which count as liveness for the watchdog.
type pingObserver interface {
	OnPing(fn func())
}

type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	ws.SetReadLimit(maxMessageSize)
	s := newWSSocket(ws)
	go s.writePump()
	return s, nil
}

// wsSocket hands frames to writePump, so callers never wait on the network.
// A write failure closes the connection, which the reader then reports.
type wsSocket struct {
	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newWSSocket(ws *websocket.Conn) *wsSocket {
	return &wsSocket{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsSocket) WriteMessage(data []byte) error {
	select {
	case <-s.done:
		return errSocketClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errSocketClosed
	default:
		return errSendBufferFull
	}
}

// Close asks writePump to flush what is buffered and say goodbye. It does not
// wait for the peer.
func (s *wsSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *wsSocket) writePump() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				s.Close()
				_ = s.ws.Close()
				return
			}

		case <-s.done:
			s.flush()
			_ = s.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = s.ws.Close()
			return
		}
	}
}

func (s *wsSocket) flush() {
	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSocket) write(data []byte) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) OnPing(fn func()) {
	s.ws.SetPingHandler(func(appData string) error {
		fn()
		err := s.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})
}
