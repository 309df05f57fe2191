package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/voice-stream/internal/completion"
	"github.com/eleven-am/voice-stream/internal/connstate"
	"github.com/eleven-am/voice-stream/internal/dedup"
	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/transport"
)

type EndpointSource interface {
	Endpoint(ctx context.Context, path string) (string, error)
}

type pendingSend struct {
	frame   []byte
	receipt *Receipt
	timer   transport.Timer
	written bool
}

// Client is one logical stream connection (chat or proactive) with the
// outbound send lifecycle and inbound event handling on top of a transport.
type Client struct {
	cfg        Config
	cb         Callbacks
	logger     *slog.Logger
	transport  *transport.Transport
	dispatcher *protocol.Dispatcher
	tracker    *completion.Tracker
	filter     *dedup.Filter

	mu      sync.Mutex
	pending *pendingSend
	backlog transport.Queue[*pendingSend]
	session string
	text    strings.Builder
}

func New(cfg Config, endpoints EndpointSource, dialer transport.Dialer, cb Callbacks, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()

	c := &Client{
		cfg:        cfg,
		cb:         cb,
		logger:     logger.With("component", "stream", "stream", cfg.Profile.Name),
		dispatcher: protocol.NewDispatcher(logger),
		tracker:    completion.New(),
		filter:     dedup.NewFilter(dedup.NewSentIDs(), logger),
	}

	path := cfg.Profile.Path
	c.transport = transport.New(transport.Config{
		Name: cfg.Profile.Name,
		Endpoint: func(ctx context.Context) (string, error) {
			return endpoints.Endpoint(ctx, path)
		},
		Backoff:        cfg.Profile.Backoff,
		PingTimeout:    cfg.Profile.PingTimeout,
		AwaitHandshake: cfg.Profile.AwaitHandshake,
		Scheduler:      cfg.Scheduler,
	}, dialer, transport.Hooks{
		OnFrame:        c.dispatcher.Dispatch,
		OnStateChange:  c.onStateChange,
		OnReady:        c.onReady,
		OnReconnecting: cb.OnReconnecting,
		OnExhausted:    c.onExhausted,
	}, logger)

	c.registerHandlers()
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

func (c *Client) Reconnect(ctx context.Context) error {
	return c.transport.Reconnect(ctx)
}

// Close disconnects without reconnecting. Queued messages are kept and sent
// after the next Connect.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) State() connstate.State {
	return c.transport.State()
}

func (c *Client) Ready() bool {
	return c.transport.Ready()
}

func (c *Client) Name() string {
	return c.cfg.Profile.Name
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PendingMessages is the number of messages waiting for a connection.
func (c *Client) PendingMessages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backlog.Len()
}

func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

func (c *Client) Position() transport.Position {
	return c.transport.Position()
}

// SendMessage sends a chat message, or queues it until the connection is
// ready. The receipt settles on message_sent, send_error, a write failure or
// the ack timeout.
func (c *Client) SendMessage(msg OutboundMessage) (*Receipt, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, ErrEmptyContent
	}
	if msg.Source == "" {
		msg.Source = shared.SourceText
	}
	if msg.CharacterName == "" {
		msg.CharacterName = c.cfg.CharacterName
	}

	frame, err := protocol.Encode(protocol.NewSendMessage(msg.Content, msg.Source.String(), msg.CharacterName, msg.Attachments))
	if err != nil {
		return nil, err
	}
	ps := &pendingSend{frame: frame, receipt: newReceipt()}

	c.mu.Lock()
	ready := c.transport.Ready()
	if ready && c.pending != nil {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	if !ready || c.pending != nil || c.backlog.Len() > 0 {
		ps.receipt.markQueued()
		c.backlog.Push(ps)
		queued := c.backlog.Len()
		c.mu.Unlock()

		metrics.SendsTotal.WithLabelValues(c.cfg.Profile.Name, "queued").Inc()
		c.logger.Info("message queued until connected", "pending_messages", queued)
		c.flushBacklog()
		return ps.receipt, nil
	}
	c.pending = ps
	c.armAckLocked(ps)
	c.mu.Unlock()

	c.writePending(ps)
	return ps.receipt, nil
}

// StartRequest begins a new response stream. The payload is sent as-is, or
// queued while offline.
func (c *Client) StartRequest(payload []byte) transport.Status {
	c.tracker.Reset()
	c.mu.Lock()
	c.text.Reset()
	c.mu.Unlock()
	return c.transport.Send(payload, nil)
}

// Chat starts a streamed response for content and returns the request id.
func (c *Client) Chat(content string, tts bool) (string, transport.Status, error) {
	if strings.TrimSpace(content) == "" {
		return "", transport.StatusQueued, ErrEmptyContent
	}
	requestID := shared.NewID("req_")
	payload, err := protocol.Encode(protocol.ChatRequest{
		Type:      protocol.TypeChatRequest,
		RequestID: requestID,
		SessionID: c.SessionID(),
		Content:   content,
		TTS:       tts,
	})
	if err != nil {
		return "", transport.StatusQueued, err
	}
	return requestID, c.StartRequest(payload), nil
}

func (c *Client) armAckLocked(ps *pendingSend) {
	ps.timer = c.cfg.Scheduler.AfterFunc(c.cfg.AckTimeout, func() { c.onAckTimeout(ps) })
}

func (c *Client) writePending(ps *pendingSend) {
	err := c.transport.Write(ps.frame)
	if err == nil {
		c.mu.Lock()
		ps.written = true
		lost := c.pending == ps && !c.transport.Ready()
		c.mu.Unlock()
		if lost {
			c.dropUnacked()
		}
		return
	}

	c.mu.Lock()
	if c.pending == ps {
		c.pending = nil
	}
	if ps.timer != nil {
		ps.timer.Stop()
	}

	if errors.Is(err, transport.ErrNotConnected) {
		ps.receipt.markQueued()
		c.backlog.PushFront(ps)
		c.mu.Unlock()
		c.logger.Info("connection not ready, message requeued")
		c.flushBacklog()
		return
	}
	c.mu.Unlock()

	c.logger.Warn("send_message write failed", "error", err)
	metrics.SendsTotal.WithLabelValues(c.cfg.Profile.Name, "rejected").Inc()
	ps.receipt.reject(fmt.Errorf("send message: %w", err))
}

// flushBacklog sends the oldest queued message if the connection is ready
// and nothing is awaiting acknowledgement.
func (c *Client) flushBacklog() {
	c.mu.Lock()
	if c.pending != nil || !c.transport.Ready() {
		c.mu.Unlock()
		return
	}
	ps, ok := c.backlog.Pop()
	if !ok {
		c.mu.Unlock()
		return
	}
	c.pending = ps
	c.armAckLocked(ps)
	c.mu.Unlock()

	c.writePending(ps)
}

func (c *Client) takePending() *pendingSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.pending
	c.pending = nil
	if ps != nil && ps.timer != nil {
		ps.timer.Stop()
	}
	return ps
}

func (c *Client) onAckTimeout(ps *pendingSend) {
	c.mu.Lock()
	if c.pending != ps {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	c.logger.Warn("no acknowledgement for sent message", "timeout", c.cfg.AckTimeout)
	metrics.SendsTotal.WithLabelValues(c.cfg.Profile.Name, "timeout").Inc()
	ps.receipt.reject(ErrAckTimeout)
	c.flushBacklog()
}

// dropUnacked rejects a written send whose acknowledgement can no longer
// arrive because the socket it went out on is gone.
func (c *Client) dropUnacked() {
	c.mu.Lock()
	ps := c.pending
	if ps == nil || !ps.written {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if ps.timer != nil {
		ps.timer.Stop()
	}
	c.mu.Unlock()

	c.logger.Warn("connection lost before acknowledgement")
	metrics.SendsTotal.WithLabelValues(c.cfg.Profile.Name, "rejected").Inc()
	ps.receipt.reject(ErrConnectionLost)
}

func (c *Client) onStateChange(ev connstate.StateEvent) {
	if ev.From == connstate.Connected && ev.To != connstate.Connected {
		c.dropUnacked()
	}
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(ev)
	}
}

func (c *Client) onReady(reconnected bool) {
	c.flushBacklog()

	if c.cb.OnReady != nil {
		c.cb.OnReady(ReadyInfo{SessionID: c.SessionID(), Reconnected: reconnected})
	}
	if reconnected && c.cb.OnReconnected != nil {
		c.cb.OnReconnected()
	}
}

func (c *Client) onExhausted(cause error) {
	c.logger.Error("giving up on connection", "error", cause, "pending_messages", c.PendingMessages())
}

func (c *Client) bindSession(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

func (c *Client) sendInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Client) finishStream(payload []byte, cancelled bool) {
	c.transport.EndStream()
	text := c.Text()

	outcome := "completed"
	if cancelled {
		outcome = "cancelled"
	}
	metrics.StreamsEnded.WithLabelValues(c.cfg.Profile.Name, outcome).Inc()

	if c.cb.OnStreamEnd != nil {
		c.cb.OnStreamEnd(StreamEnd{
			SessionID: c.transport.Position().SessionID,
			Text:      text,
			Cancelled: cancelled,
			Payload:   payload,
		})
	}
}
