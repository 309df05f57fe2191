package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/labstack/echo/v4"
)

const (
	ChatPath      = "/ws/chat"
	ProactivePath = "/ws/proactive"
	NotifyPath    = "/sessions/:session_id/notify"

	defaultPingPeriod = 30 * time.Second
	resumePoll        = 100 * time.Millisecond
)

type Config struct {
	// Token is the only accepted token. Empty accepts any non-empty token.
	Token      string
	PingPeriod time.Duration
	// ChunkDelay spaces out text chunks so a stream can be interrupted.
	ChunkDelay time.Duration
	Reply      func(content string) string
}

func (c Config) normalize() Config {
	if c.PingPeriod <= 0 {
		c.PingPeriod = defaultPingPeriod
	}
	if c.Reply == nil {
		c.Reply = echoReply
	}
	return c
}

func echoReply(content string) string {
	return "You said: " + content
}

// Server is a development backend speaking the chat stream protocol.
type Server struct {
	cfg    Config
	store  *Store
	bridge *Bridge
	logger *slog.Logger
}

func NewServer(cfg Config, store *Store, bridge *Bridge, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg.normalize(),
		store:  store,
		bridge: bridge,
		logger: logger.With("component", "gateway"),
	}
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET(ChatPath, s.handleSocket(KindChat))
	e.GET(ProactivePath, s.handleSocket(KindProactive))
	e.POST(NotifyPath, s.handleNotify)
}

func (s *Server) authorize(c echo.Context) (string, error) {
	token := c.QueryParam("token")
	if token == "" {
		token = strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	}
	if token == "" {
		return "", shared.Unauthorized("missing_token", "missing token")
	}
	if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
		return "", shared.Unauthorized("invalid_token", "invalid token")
	}
	return token, nil
}

func (s *Server) handleSocket(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := s.authorize(c)
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		sessionID, err := s.store.SessionFor(ctx, token)
		if err != nil {
			s.logger.Error("failed to resolve session", "error", err)
			return shared.InternalError("session_unavailable", "could not resolve session")
		}

		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			s.logger.Error("websocket upgrade failed", "error", err)
			return nil
		}

		s.serve(ctx, newConn(ws, kind, sessionID, s.cfg.PingPeriod, s.logger))
		return nil
	}
}

func (s *Server) serve(ctx context.Context, conn *Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.bridge.Subscribe(ctx, conn.kind, conn.sessionID)
	if err != nil {
		conn.logger.Error("failed to subscribe", "error", err)
		_ = conn.Close()
		return
	}

	metrics.GatewayConnections.Inc()
	defer metrics.GatewayConnections.Dec()
	conn.logger.Info("client connected")

	go conn.writePump()
	go func() {
		for data := range events {
			if err := conn.SendRaw(data); err != nil {
				return
			}
		}
	}()

	_ = conn.Send(frame{Type: protocol.EventWebsocketReady, SessionID: conn.sessionID})
	conn.readPump(func(f []byte) { s.handleFrame(ctx, conn, f) })

	conn.logger.Info("client disconnected")
}

func (s *Server) handleFrame(ctx context.Context, conn *Conn, f []byte) {
	switch typ := string(protocol.TypeOf(f)); typ {
	case protocol.TypeSendMessage:
		s.handleSendMessage(ctx, conn, f)
	case protocol.TypeChatRequest:
		s.streamReply(ctx, conn, f)
	case protocol.TypeStreamResume:
		s.resume(ctx, conn, f)
	case protocol.TypePong:
		conn.logger.Debug("pong")
	default:
		conn.logger.Warn("unsupported frame", "type", typ)
		_ = conn.Send(errorFrame(protocol.EventError, conn.sessionID, "unsupported_type", "unsupported frame type: "+typ))
	}
}

func (s *Server) handleSendMessage(ctx context.Context, conn *Conn, f []byte) {
	content := strings.TrimSpace(protocol.StringField(f, "content"))
	if content == "" {
		_ = conn.Send(errorFrame(protocol.EventSendError, conn.sessionID, "empty_content", "message content is empty"))
		return
	}

	messageID := shared.NewID("msg_")
	_ = conn.Send(frame{
		Type: protocol.EventMessageSent,
		Data: ackData{MessageID: messageID, SessionID: conn.sessionID},
	})

	echoed := frame{Type: protocol.EventNotification, Data: notificationData{
		MessageID: messageID,
		SessionID: conn.sessionID,
		Direction: shared.DirectionUserToAgent.String(),
		Content:   content,
		Source:    protocol.StringField(f, "source"),
	}}
	if err := s.bridge.Publish(ctx, KindChat, conn.sessionID, echoed); err != nil {
		conn.logger.Error("failed to publish message", "error", err)
		return
	}

	reply := frame{Type: protocol.EventNotification, Data: notificationData{
		MessageID: shared.NewID("msg_"),
		SessionID: conn.sessionID,
		Direction: shared.DirectionAgentToUser.String(),
		Content:   s.cfg.Reply(content),
	}}
	if err := s.bridge.Publish(ctx, KindChat, conn.sessionID, reply); err != nil {
		conn.logger.Error("failed to publish reply", "error", err)
	}
}

// streamReply streams the reply word by word. Chunks are logged before they
// are sent so a client that drops mid-stream can resume.
func (s *Server) streamReply(ctx context.Context, conn *Conn, f []byte) {
	requestID := protocol.StringField(f, "request_id")
	if requestID == "" {
		requestID = shared.NewID("req_")
	}
	tts := protocol.Field(f, "tts").Bool()
	sessionID := conn.sessionID

	if err := s.store.BeginStream(ctx, sessionID); err != nil {
		conn.logger.Error("failed to begin stream", "error", err)
		_ = conn.Send(errorFrame(protocol.EventStreamError, sessionID, "chunk_log_unavailable", err.Error()))
		return
	}
	_ = conn.Send(frame{Type: protocol.EventStreamStart, SessionID: sessionID, Data: startData{RequestID: requestID}})

	for i, word := range strings.Fields(s.cfg.Reply(protocol.StringField(f, "content"))) {
		if i > 0 {
			word = " " + word
		}
		id, err := s.store.AppendChunk(ctx, sessionID, word)
		if err != nil {
			conn.logger.Error("failed to log chunk", "error", err)
			_ = conn.Send(errorFrame(protocol.EventStreamError, sessionID, "chunk_log_unavailable", err.Error()))
			return
		}
		_ = conn.Send(frame{Type: protocol.EventTextChunk, SessionID: sessionID, Data: chunkData{Content: word, ChunkID: id}})

		if s.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(s.cfg.ChunkDelay):
			case <-ctx.Done():
				return
			}
		}
	}

	if err := s.store.CompleteStream(ctx, sessionID); err != nil {
		conn.logger.Error("failed to complete stream", "error", err)
	}
	s.sendCompletion(conn, tts)
}

func (s *Server) sendCompletion(conn *Conn, tts bool) {
	_ = conn.Send(frame{Type: protocol.EventTextCompleted, SessionID: conn.sessionID})
	if tts {
		_ = conn.Send(errorFrame(protocol.EventTTSError, conn.sessionID, "tts_unavailable", "speech synthesis is not available"))
	} else {
		_ = conn.Send(frame{Type: protocol.EventTTSNotRequired, SessionID: conn.sessionID})
	}
	_ = conn.Send(frame{Type: protocol.EventStreamComplete, SessionID: conn.sessionID})
}

// resume replays chunks the client missed, then follows the stream until it
// completes if it is still being produced.
func (s *Server) resume(ctx context.Context, conn *Conn, f []byte) {
	sessionID := conn.sessionID
	last := protocol.Field(f, "last_chunk_id").Int()

	state, err := s.store.State(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			conn.logger.Error("failed to load stream state", "error", err)
		}
		_ = conn.Send(errorFrame(protocol.EventResumeUnavailable, sessionID, "resume_unavailable", "no stream to resume"))
		return
	}

	replayed := 0
	send := func() bool {
		chunks, err := s.store.ChunksAfter(ctx, sessionID, last)
		if err != nil {
			conn.logger.Error("failed to read chunk log", "error", err)
			return false
		}
		for _, ch := range chunks {
			_ = conn.Send(frame{Type: protocol.EventTextChunk, SessionID: sessionID, Data: chunkData{Content: ch.Content, ChunkID: ch.ID}})
			last = ch.ID
		}
		replayed += len(chunks)
		metrics.GatewayReplayedChunks.Add(float64(len(chunks)))
		return true
	}

	if !send() {
		_ = conn.Send(errorFrame(protocol.EventResumeUnavailable, sessionID, "resume_unavailable", "chunk log unavailable"))
		return
	}
	_ = conn.Send(frame{Type: protocol.EventStreamResumed, SessionID: sessionID, Data: resumedData{Replayed: replayed}})

	ticker := time.NewTicker(resumePoll)
	defer ticker.Stop()
	for state == StreamActive {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
		}
		if state, err = s.store.State(ctx, sessionID); err != nil {
			_ = conn.Send(errorFrame(protocol.EventStreamError, sessionID, "stream_expired", "stream expired while resuming"))
			return
		}
		if !send() {
			return
		}
	}

	conn.logger.Info("stream resumed", "replayed", replayed)
	s.sendCompletion(conn, false)
}

type notifyRequest struct {
	Content   string `json:"content"`
	EventType string `json:"event_type"`
}

// handleNotify pushes a proactive message to every proactive socket of a
// session.
func (s *Server) handleNotify(c echo.Context) error {
	if _, err := s.authorize(c); err != nil {
		return err
	}

	sessionID := c.Param("session_id")
	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}

	messageID := shared.NewID("msg_")
	var f frame
	switch {
	case req.EventType != "":
		f = frame{Type: protocol.EventCustomEvent, SessionID: sessionID, Data: customData{EventType: req.EventType, Content: req.Content}}
	case strings.TrimSpace(req.Content) != "":
		f = frame{Type: protocol.EventNotification, Data: notificationData{
			MessageID: messageID,
			SessionID: sessionID,
			Direction: shared.DirectionAgentToUser.String(),
			Content:   req.Content,
		}}
	default:
		return shared.NewAPIError("empty_notification", "content or event_type is required").
			WithDetails(map[string][]string{"fields": {"content", "event_type"}}).
			ToHTTP(http.StatusBadRequest)
	}

	if err := s.bridge.Publish(c.Request().Context(), KindProactive, sessionID, f); err != nil {
		s.logger.Error("failed to publish notification", "error", err, "session_id", sessionID)
		return shared.InternalError("publish_failed", "could not deliver notification")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message_id": messageID})
}
