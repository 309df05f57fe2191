package stream

import (
	"github.com/eleven-am/voice-stream/internal/dedup"
	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/protocol"
)

const (
	jobCompleted = "background_job_completed"
	jobFailed    = "background_job_failed"
)

func (c *Client) registerHandlers() {
	handlers := map[protocol.EventType]protocol.Handler{
		protocol.EventWebsocketReady:        c.handleReady,
		protocol.EventConnected:             c.handleReady,
		protocol.EventPing:                  c.handlePing,
		protocol.EventPong:                  c.handleKeepalive,
		protocol.EventHeartbeat:             c.handleKeepalive,
		protocol.EventStreamStart:           c.handleStreamStart,
		protocol.EventTextChunk:             c.handleTextChunk,
		protocol.EventThinkingChunk:         c.handleReasoning,
		protocol.EventThinkingCompleted:     c.handleReasoning,
		protocol.EventToolStart:             c.handleToolStart,
		protocol.EventToolResult:            c.handleToolResult,
		protocol.EventTextCompleted:         c.handleTextCompleted,
		protocol.EventTTSStarted:            c.handleTTSStarted,
		protocol.EventAudioChunk:            c.handleAudioChunk,
		protocol.EventTTSCompleted:          c.handleTTSDone,
		protocol.EventTTSNotRequired:        c.handleTTSDone,
		protocol.EventTTSError:              c.handleTTSError,
		protocol.EventStreamComplete:        c.handleStreamComplete,
		protocol.EventStreamCancelled:       c.handleStreamCancelled,
		protocol.EventStreamResumed:         c.handleStreamResumed,
		protocol.EventResumeUnavailable:     c.handleResumeUnavailable,
		protocol.EventTranscriptionStart:    c.handleTranscription,
		protocol.EventTranscriptionChunk:    c.handleTranscription,
		protocol.EventTranscriptionComplete: c.handleTranscription,
		protocol.EventTranscriptionError:    c.handleTranscription,
		protocol.EventError:                 c.handleError,
		protocol.EventStreamError:           c.handleError,
		protocol.EventNotification:          c.handleNotification,
		protocol.EventMessageSent:           c.handleMessageSent,
		protocol.EventSendError:             c.handleSendError,
		protocol.EventCustomEvent:           c.handleCustomEvent,
		protocol.EventAgentStatus:           c.handleAgentStatus,
		protocol.EventServerShutdown:        c.handleServerShutdown,
	}

	for event, h := range handlers {
		if err := c.dispatcher.Register(event, h); err != nil {
			c.logger.Error("handler registration failed", "event", string(event), "error", err)
		}
	}
	c.dispatcher.OnRaw(c.handleRaw)
}

func (c *Client) handleReady(frame []byte) {
	c.bindSession(protocol.SessionID(frame))
	c.transport.MarkReady()
}

func (c *Client) handlePing(frame []byte) {
	pong, err := protocol.Encode(protocol.NewPong())
	if err != nil {
		return
	}
	if err := c.transport.Reply(pong); err != nil {
		c.logger.Debug("pong not sent", "error", err)
	}
}

func (c *Client) handleKeepalive(frame []byte) {
	c.logger.Debug("keepalive", "type", string(protocol.TypeOf(frame)))
}

func (c *Client) handleStreamStart(frame []byte) {
	c.mu.Lock()
	c.text.Reset()
	c.mu.Unlock()
	c.tracker.Reset()

	if c.cb.OnStreamStart != nil {
		c.cb.OnStreamStart(StreamStart{
			SessionID: protocol.SessionID(frame),
			RequestID: protocol.StringField(frame, "request_id"),
		})
	}
}

func (c *Client) handleTextChunk(frame []byte) {
	piece := protocol.Text(frame)

	c.mu.Lock()
	c.text.WriteString(piece)
	accumulated := c.text.String()
	c.mu.Unlock()

	if c.cb.OnChunk != nil {
		c.cb.OnChunk(Chunk{
			Text:        piece,
			Accumulated: accumulated,
			ChunkID:     protocol.ChunkID(frame),
		})
	}
}

func (c *Client) handleReasoning(frame []byte) {
	if !c.cfg.ShowReasoning || c.cb.OnReasoning == nil {
		return
	}
	c.cb.OnReasoning(Reasoning{
		Text:      protocol.Text(frame),
		Completed: protocol.TypeOf(frame) == protocol.EventThinkingCompleted,
	})
}

func (c *Client) handleToolStart(frame []byte) {
	if c.cb.OnToolStart != nil {
		c.cb.OnToolStart(protocol.ParseToolEvent(frame))
	}
}

func (c *Client) handleToolResult(frame []byte) {
	if c.cb.OnToolResult != nil {
		c.cb.OnToolResult(protocol.ParseToolEvent(frame))
	}
}

func (c *Client) handleTextCompleted(frame []byte) {
	if payload, fired := c.tracker.MarkText(frame); fired {
		c.finishStream(payload, false)
	}
}

func (c *Client) handleTTSStarted(frame []byte) {
	c.logger.Debug("tts started", "session_id", protocol.SessionID(frame))
}

func (c *Client) handleAudioChunk(frame []byte) {
	audio, err := protocol.DecodeAudio(frame)
	if err != nil {
		c.logger.Warn("dropping audio chunk", "error", err)
		return
	}
	if len(audio) > 0 && c.cb.OnAudioChunk != nil {
		c.cb.OnAudioChunk(audio)
	}
}

func (c *Client) handleTTSDone(frame []byte) {
	if payload, fired := c.tracker.MarkTTS(frame); fired {
		c.finishStream(payload, false)
	}
}

func (c *Client) handleTTSError(frame []byte) {
	c.logger.Warn("tts failed, completing with text only", "error", protocol.ParseStreamError(frame).Message)
	c.handleTTSDone(frame)
}

func (c *Client) handleStreamComplete(frame []byte) {
	c.logger.Debug("stream complete", "session_id", protocol.SessionID(frame))
}

func (c *Client) handleStreamCancelled(frame []byte) {
	if !c.tracker.Fail() {
		c.logger.Debug("cancel for a stream that already ended")
		return
	}
	c.finishStream(frame, true)
}

func (c *Client) handleStreamResumed(frame []byte) {
	c.logger.Info("stream resumed",
		"session_id", protocol.SessionID(frame),
		"replayed", protocol.Field(frame, "replayed").Int(),
	)
}

func (c *Client) handleResumeUnavailable(frame []byte) {
	c.tracker.Fail()
	e := protocol.ParseStreamError(frame)
	e.Code = "resume_unavailable"
	c.logger.Warn("stream could not be resumed", "session_id", e.SessionID, "message", e.Message)
	c.reportStreamError(e)
}

func (c *Client) handleTranscription(frame []byte) {
	if c.cb.OnTranscription != nil {
		c.cb.OnTranscription(protocol.ParseTranscription(frame))
	}
}

func (c *Client) handleError(frame []byte) {
	c.tracker.Fail()
	e := protocol.ParseStreamError(frame)
	c.logger.Warn("stream error", "code", e.Code, "message", e.Message, "session_id", e.SessionID)
	c.reportStreamError(e)
}

func (c *Client) reportStreamError(e protocol.StreamError) {
	metrics.StreamsEnded.WithLabelValues(c.cfg.Profile.Name, "error").Inc()
	if c.cb.OnStreamingError != nil {
		c.cb.OnStreamingError(e)
	}
}

func (c *Client) handleNotification(frame []byte) {
	n := protocol.ParseNotification(frame)
	verdict := c.filter.Decide(n, c.sendInFlight(), c.SessionID())

	switch verdict {
	case dedup.DeliverPeer:
		if c.cb.OnPeerMessage != nil {
			c.cb.OnPeerMessage(n)
		}
	case dedup.DeliverResponse:
		if c.cb.OnResponse != nil {
			c.cb.OnResponse(n)
		}
	default:
		metrics.NotificationsDropped.WithLabelValues(c.cfg.Profile.Name, verdict.String()).Inc()
		c.logger.Debug("notification suppressed", "reason", verdict.String(), "message_id", n.MessageID)
	}
}

func (c *Client) handleMessageSent(frame []byte) {
	ack := protocol.ParseAck(frame)
	c.filter.SentIDs().Add(ack.MessageID)
	c.bindSession(ack.SessionID)

	ps := c.takePending()
	if ps == nil {
		c.logger.Debug("message_sent with nothing pending", "message_id", ack.MessageID)
	} else {
		metrics.SendsTotal.WithLabelValues(c.cfg.Profile.Name, "acked").Inc()
		ps.receipt.resolve(Ack{MessageID: ack.MessageID, SessionID: ack.SessionID, Queued: ack.Queued})
	}
	c.flushBacklog()
}

func (c *Client) handleSendError(frame []byte) {
	e := protocol.ParseStreamError(frame)

	ps := c.takePending()
	if ps == nil {
		c.logger.Warn("send_error with nothing pending", "code", e.Code, "message", e.Message)
	} else {
		metrics.SendsTotal.WithLabelValues(c.cfg.Profile.Name, "rejected").Inc()
		ps.receipt.reject(&SendError{Code: e.Code, Message: e.Message})
	}
	c.flushBacklog()
}

func (c *Client) handleCustomEvent(frame []byte) {
	ev := protocol.ParseCustomEvent(frame)

	switch ev.Name {
	case jobCompleted:
		c.logger.Info("background job completed",
			"job_id", protocol.StringField(frame, "job_id"),
			"result", protocol.StringField(frame, "result"),
		)
	case jobFailed:
		c.logger.Warn("background job failed",
			"job_id", protocol.StringField(frame, "job_id"),
			"error", protocol.StringField(frame, "error"),
		)
	}

	if c.cb.OnCustomEvent != nil {
		c.cb.OnCustomEvent(ev)
	}
}

func (c *Client) handleAgentStatus(frame []byte) {
	if c.cb.OnAgentStatus != nil {
		c.cb.OnAgentStatus(protocol.ParseAgentStatus(frame))
	}
}

func (c *Client) handleServerShutdown(frame []byte) {
	c.logger.Warn("backend shutting down, expecting reconnect", "message", protocol.StringField(frame, "message"))
}

func (c *Client) handleRaw(frame []byte) {
	if c.cb.OnRaw != nil {
		c.cb.OnRaw(frame)
	}
}
