package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eleven-am/voice-stream/internal/auth"
	"github.com/eleven-am/voice-stream/internal/connstate"
	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
	ErrStale        = errors.New("socket presumed stale")
)

type Status int

const (
	StatusSent Status = iota
	StatusQueued
)

func (s Status) String() string {
	if s == StatusSent {
		return "sent"
	}
	return "queued"
}

type EndpointFunc func(ctx context.Context) (string, error)

type Config struct {
	Name     string
	Endpoint EndpointFunc
	Backoff  shared.BackoffConfig
	// PingTimeout is the longest silence tolerated before the socket is
	// presumed stale. Zero disables the watchdog.
	PingTimeout time.Duration
	// AwaitHandshake holds the transport not-ready after open until MarkReady
	// is called for a websocket_ready or connected frame.
	AwaitHandshake bool
	Scheduler      Scheduler
}

func (c Config) normalize() Config {
	if c.Name == "" {
		c.Name = "stream"
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler
	}
	c.Backoff = c.Backoff.Normalize()
	return c
}

// Hooks are invoked in order, never concurrently, and never with the
// transport lock held, so they may call back into the transport.
type Hooks struct {
	OnFrame        func(frame []byte)
	OnStateChange  func(connstate.StateEvent)
	OnReady        func(reconnected bool)
	OnReconnecting func(attempt int, delay time.Duration)
	OnExhausted    func(cause error)
}

type Transport struct {
	cfg    Config
	dialer Dialer
	hooks  Hooks
	logger *slog.Logger
	notes  notifier

	mu             sync.Mutex
	machine        *connstate.Machine
	backoff        *connstate.Backoff
	sock           Socket
	gen            uint64
	ready          bool
	everReady      bool
	intentional    bool
	reconnectTimer Timer
	reconnectSeq   uint64
	watchdog       Timer
	watchSeq       uint64
	queue          Queue[Entry]
	pos            Position
}

func New(cfg Config, dialer Dialer, hooks Hooks, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()

	t := &Transport{
		cfg:     cfg,
		dialer:  dialer,
		hooks:   hooks,
		logger:  logger.With("component", "transport", "transport", cfg.Name),
		machine: connstate.NewMachine(),
		backoff: connstate.NewBackoff(cfg.Backoff),
	}

	t.machine.Subscribe(func(ev connstate.StateEvent) {
		metrics.ConnectionState.WithLabelValues(t.cfg.Name).Set(float64(ev.To))
		t.logger.Debug("state change", "from", ev.From.String(), "to", ev.To.String())
		if cb := t.hooks.OnStateChange; cb != nil {
			t.notes.push(func() { cb(ev) })
		}
	})

	return t
}

func (t *Transport) Name() string {
	return t.cfg.Name
}

// Connect dials once and returns that attempt's result. Failures schedule
// retries in the background. It is a no-op while connected or connecting.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.intentional = false
	switch t.machine.State() {
	case connstate.Connected, connstate.Connecting:
		t.mu.Unlock()
		return nil
	case connstate.Disconnected:
		t.backoff.Reset()
	}
	t.cancelReconnectLocked()
	gen, err := t.beginDialLocked()
	t.mu.Unlock()
	t.notes.drain()

	if err != nil {
		return err
	}
	return t.dial(ctx, gen)
}

// Reconnect drops any current socket and dials immediately with a fresh
// backoff, clearing a previous Close.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	t.intentional = false
	t.backoff.Reset()
	t.cancelReconnectLocked()

	switch t.machine.State() {
	case connstate.Connecting:
		t.mu.Unlock()
		return nil
	case connstate.Connected:
		t.releaseSocketLocked()
		t.fireLocked(connstate.EventRetry)
	}

	gen, err := t.beginDialLocked()
	t.mu.Unlock()
	t.notes.drain()

	if err != nil {
		return err
	}
	return t.dial(ctx, gen)
}

// Close tears the connection down and suppresses automatic reconnection.
// Queued frames are kept for the next connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.intentional = true
	t.cancelReconnectLocked()
	sock := t.sock
	t.sock = nil
	t.ready = false
	t.gen++
	t.stopWatchdogLocked()
	if t.machine.Can(connstate.EventHalt) {
		t.fireLocked(connstate.EventHalt)
	}
	t.mu.Unlock()
	t.notes.drain()

	if sock != nil {
		return sock.Close()
	}
	return nil
}

// Send writes the payload when ready, otherwise queues it. done is called
// with nil once the payload has been written.
func (t *Transport) Send(payload []byte, done func(error)) Status {
	t.mu.Lock()
	status := t.sendLocked(payload, done)
	t.mu.Unlock()
	t.notes.drain()
	return status
}

// Write writes the payload only when ready. It never queues.
func (t *Transport) Write(payload []byte) error {
	t.mu.Lock()
	if !t.ready {
		t.mu.Unlock()
		return ErrNotConnected
	}
	err := t.writeLocked(payload)
	if err != nil {
		t.logger.Warn("write failed", "error", err)
		t.dropLocked(err)
	}
	t.mu.Unlock()
	t.notes.drain()

	if err != nil {
		return fmt.Errorf("write %s: %w", t.cfg.Name, err)
	}
	return nil
}

// Reply writes on the open socket even before the handshake has completed.
// It is meant for protocol replies such as pong and never queues.
func (t *Transport) Reply(payload []byte) error {
	t.mu.Lock()
	if t.sock == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	err := t.writeLocked(payload)
	if err != nil {
		t.logger.Warn("reply failed", "error", err)
		t.dropLocked(err)
	}
	t.mu.Unlock()
	t.notes.drain()

	if err != nil {
		return fmt.Errorf("reply %s: %w", t.cfg.Name, err)
	}
	return nil
}

// MarkReady completes the handshake for an open socket.
func (t *Transport) MarkReady() {
	t.mu.Lock()
	if t.sock != nil && !t.ready {
		t.becomeReadyLocked()
	}
	t.mu.Unlock()
	t.notes.drain()
}

// EndStream clears the resume position after the client observed the end of
// a response.
func (t *Transport) EndStream() {
	t.mu.Lock()
	t.pos.End()
	t.mu.Unlock()
}

func (t *Transport) State() connstate.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.State()
}

func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Transport) Position() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pos
	p.LastChunkID = bytes.Clone(t.pos.LastChunkID)
	return p
}

func (t *Transport) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len()
}

func (t *Transport) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoff.Failures()
}

func (t *Transport) beginDialLocked() (uint64, error) {
	if err := t.fireLocked(connstate.EventDial); err != nil {
		return 0, err
	}
	t.gen++
	return t.gen, nil
}

func (t *Transport) dial(ctx context.Context, gen uint64) error {
	url, err := t.cfg.Endpoint(ctx)
	var sock Socket
	if err == nil {
		sock, err = t.dialer.Dial(ctx, url)
	}

	t.mu.Lock()
	if gen != t.gen || t.machine.State() != connstate.Connecting {
		closed := t.intentional
		t.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		if closed {
			return ErrClosed
		}
		return ErrStale
	}

	if err != nil {
		t.logger.Warn("dial failed", "url", auth.Redact(url), "error", err)
		t.failLocked(err)
		t.mu.Unlock()
		t.notes.drain()
		return fmt.Errorf("dial %s: %w", t.cfg.Name, err)
	}

	t.sock = sock
	t.fireLocked(connstate.EventOpen)
	t.backoff.Reset()
	t.logger.Info("connected", "url", auth.Redact(url))

	if po, ok := sock.(pingObserver); ok {
		po.OnPing(func() { t.touch(gen) })
	}
	t.armWatchdogLocked()
	go t.readLoop(gen, sock)

	if !t.cfg.AwaitHandshake {
		t.becomeReadyLocked()
	}
	t.mu.Unlock()
	t.notes.drain()
	return nil
}

func (t *Transport) readLoop(gen uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			t.handleClose(gen, err)
			return
		}
		t.handleFrame(gen, data)
	}
}

func (t *Transport) handleFrame(gen uint64, data []byte) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}

	t.armWatchdogLocked()
	metrics.FramesTotal.WithLabelValues(t.cfg.Name, "inbound").Inc()
	if gjson.ValidBytes(data) {
		t.pos.Observe(data)
	}
	if cb := t.hooks.OnFrame; cb != nil {
		t.notes.push(func() { cb(data) })
	}
	t.mu.Unlock()
	t.notes.drain()
}

func (t *Transport) handleClose(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Warn("connection lost", "error", err)
	} else {
		t.logger.Info("connection closed", "error", err)
	}
	t.dropLocked(err)
	t.mu.Unlock()
	t.notes.drain()
}

func (t *Transport) touch(gen uint64) {
	t.mu.Lock()
	if gen == t.gen {
		t.armWatchdogLocked()
	}
	t.mu.Unlock()
}

func (t *Transport) becomeReadyLocked() {
	reconnected := t.everReady

	if reconnected && t.pos.Active {
		frame, err := protocol.Encode(protocol.NewResume(t.pos.SessionID, t.pos.LastChunkID))
		if err == nil {
			if err := t.writeLocked(frame); err != nil {
				t.logger.Warn("stream resume write failed", "error", err)
				t.dropLocked(err)
				return
			}
			metrics.StreamResumes.WithLabelValues(t.cfg.Name).Inc()
			t.logger.Info("requested stream resume",
				"session_id", t.pos.SessionID,
				"last_chunk_id", string(t.pos.LastChunkID),
			)
		}
	}

	if !t.flushLocked() {
		return
	}

	t.ready = true
	t.everReady = true
	if cb := t.hooks.OnReady; cb != nil {
		t.notes.push(func() { cb(reconnected) })
	}
}

func (t *Transport) sendLocked(payload []byte, done func(error)) Status {
	if t.ready && t.queue.Len() == 0 {
		err := t.writeLocked(payload)
		if err == nil {
			if done != nil {
				t.notes.push(func() { done(nil) })
			}
			return StatusSent
		}
		t.logger.Warn("write failed, queueing", "error", err)
		t.enqueueLocked(payload, done)
		t.dropLocked(err)
		return StatusQueued
	}

	t.enqueueLocked(payload, done)
	return StatusQueued
}

func (t *Transport) enqueueLocked(payload []byte, done func(error)) {
	t.queue.Push(Entry{Payload: payload, Done: done, EnqueuedAt: time.Now()})
	metrics.FramesTotal.WithLabelValues(t.cfg.Name, "queued").Inc()
	metrics.QueueDepth.WithLabelValues(t.cfg.Name).Set(float64(t.queue.Len()))
}

func (t *Transport) writeLocked(payload []byte) error {
	if t.sock == nil {
		return ErrNotConnected
	}
	if err := t.sock.WriteMessage(payload); err != nil {
		return err
	}
	metrics.FramesTotal.WithLabelValues(t.cfg.Name, "outbound").Inc()
	return nil
}

// flushLocked writes queued entries in order. An entry leaves the queue only
// once written; on failure the socket is dropped and the rest stay queued.
func (t *Transport) flushLocked() bool {
	flushed := 0
	for {
		e, ok := t.queue.Peek()
		if !ok {
			break
		}
		if err := t.writeLocked(e.Payload); err != nil {
			t.logger.Warn("queue flush interrupted", "flushed", flushed, "remaining", t.queue.Len(), "error", err)
			metrics.QueueDepth.WithLabelValues(t.cfg.Name).Set(float64(t.queue.Len()))
			t.dropLocked(err)
			return false
		}
		t.queue.Pop()
		flushed++
		if e.Done != nil {
			done := e.Done
			t.notes.push(func() { done(nil) })
		}
	}

	metrics.QueueDepth.WithLabelValues(t.cfg.Name).Set(0)
	if flushed > 0 {
		t.logger.Debug("flushed offline queue", "count", flushed)
	}
	return true
}

func (t *Transport) releaseSocketLocked() {
	sock := t.sock
	t.sock = nil
	t.ready = false
	t.gen++
	t.stopWatchdogLocked()
	if sock != nil {
		_ = sock.Close()
	}
}

// dropLocked handles an unexpected loss of the current socket.
func (t *Transport) dropLocked(cause error) {
	t.releaseSocketLocked()
	t.failLocked(cause)
}

func (t *Transport) failLocked(cause error) {
	if t.intentional {
		if t.machine.Can(connstate.EventHalt) {
			t.fireLocked(connstate.EventHalt)
		}
		return
	}
	t.scheduleReconnectLocked(cause)
}

func (t *Transport) scheduleReconnectLocked(cause error) {
	delay, ok := t.backoff.Next()
	if !ok {
		if t.machine.Can(connstate.EventHalt) {
			t.fireLocked(connstate.EventHalt)
		}
		metrics.ReconnectsExhausted.WithLabelValues(t.cfg.Name).Inc()
		t.logger.Error("reconnect attempts exhausted", "failures", t.backoff.Failures(), "error", cause)
		if cb := t.hooks.OnExhausted; cb != nil {
			t.notes.push(func() { cb(cause) })
		}
		return
	}

	if t.machine.Can(connstate.EventRetry) {
		t.fireLocked(connstate.EventRetry)
	}

	t.cancelReconnectLocked()
	seq := t.reconnectSeq
	attempt := t.backoff.Failures()
	t.reconnectTimer = t.cfg.Scheduler.AfterFunc(delay, func() { t.onReconnectTimer(seq) })

	metrics.ReconnectAttempts.WithLabelValues(t.cfg.Name).Inc()
	t.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay, "error", cause)
	if cb := t.hooks.OnReconnecting; cb != nil {
		t.notes.push(func() { cb(attempt, delay) })
	}
}

func (t *Transport) onReconnectTimer(seq uint64) {
	t.mu.Lock()
	if seq != t.reconnectSeq || t.reconnectTimer == nil || t.intentional || t.machine.State() != connstate.Reconnecting {
		t.mu.Unlock()
		return
	}
	t.reconnectTimer = nil
	gen, err := t.beginDialLocked()
	t.mu.Unlock()
	t.notes.drain()

	if err != nil {
		return
	}
	_ = t.dial(context.Background(), gen)
}

func (t *Transport) cancelReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.reconnectSeq++
}

func (t *Transport) armWatchdogLocked() {
	if t.cfg.PingTimeout <= 0 || t.sock == nil {
		return
	}
	t.stopWatchdogLocked()
	seq := t.watchSeq
	t.watchdog = t.cfg.Scheduler.AfterFunc(t.cfg.PingTimeout, func() { t.onWatchdog(seq) })
}

func (t *Transport) stopWatchdogLocked() {
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	t.watchSeq++
}

func (t *Transport) onWatchdog(seq uint64) {
	t.mu.Lock()
	if seq != t.watchSeq || t.sock == nil {
		t.mu.Unlock()
		return
	}
	t.watchdog = nil
	t.logger.Warn("no inbound traffic within ping timeout, forcing reconnect", "timeout", t.cfg.PingTimeout)
	metrics.StaleSockets.WithLabelValues(t.cfg.Name).Inc()
	t.dropLocked(ErrStale)
	t.mu.Unlock()
	t.notes.drain()
}

func (t *Transport) fireLocked(ev connstate.Event) error {
	if _, err := t.machine.Fire(ev); err != nil {
		t.logger.Error("state transition rejected", "event", string(ev), "error", err)
		return err
	}
	return nil
}
