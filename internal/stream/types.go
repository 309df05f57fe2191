package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/eleven-am/voice-stream/internal/connstate"
	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/eleven-am/voice-stream/internal/shared"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrSendInFlight   = errors.New("a message is already awaiting acknowledgement")
	ErrAckTimeout     = errors.New("timed out waiting for message acknowledgement")
	ErrConnectionLost = errors.New("connection lost before message acknowledgement")
)

// SendError is the backend's rejection of a send_message.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return "send rejected: " + e.Code
	}
	return "send rejected: " + e.Code + ": " + e.Message
}

type OutboundMessage struct {
	Content       string
	Source        shared.Source
	CharacterName string
	Attachments   *protocol.Attachments
}

type Ack struct {
	MessageID string
	SessionID string
	// Queued is the backend's own queued flag. Receipt.Queued reports local
	// queuing.
	Queued bool
}

type ReadyInfo struct {
	SessionID   string
	Reconnected bool
}

type StreamStart struct {
	SessionID string
	RequestID string
}

type Chunk struct {
	Text        string
	Accumulated string
	ChunkID     json.RawMessage
}

type Reasoning struct {
	Text      string
	Completed bool
}

type StreamEnd struct {
	SessionID string
	Text      string
	Cancelled bool
	Payload   json.RawMessage
}

// Callbacks are fixed at construction. They are called one at a time, in
// frame order, and may call back into the client.
type Callbacks struct {
	OnReady          func(ReadyInfo)
	OnStateChange    func(connstate.StateEvent)
	OnReconnecting   func(attempt int, delay time.Duration)
	OnReconnected    func()
	OnStreamStart    func(StreamStart)
	OnChunk          func(Chunk)
	OnReasoning      func(Reasoning)
	OnToolStart      func(protocol.ToolEvent)
	OnToolResult     func(protocol.ToolEvent)
	OnAudioChunk     func(audio []byte)
	OnStreamEnd      func(StreamEnd)
	OnStreamingError func(protocol.StreamError)
	OnTranscription  func(protocol.Transcription)
	OnPeerMessage    func(protocol.Notification)
	OnResponse       func(protocol.Notification)
	OnCustomEvent    func(protocol.CustomEvent)
	OnAgentStatus    func(protocol.AgentStatus)
	OnRaw            func(frame []byte)
}

// Receipt tracks one SendMessage until the backend acknowledges or rejects
// it.
type Receipt struct {
	done chan struct{}

	mu      sync.Mutex
	queued  bool
	settled bool
	ack     Ack
	err     error
}

func newReceipt() *Receipt {
	return &Receipt{done: make(chan struct{})}
}

func (r *Receipt) Queued() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queued
}

func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Err returns the rejection reason once settled, nil otherwise.
func (r *Receipt) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Receipt) Wait(ctx context.Context) (Ack, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.ack, r.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

func (r *Receipt) markQueued() {
	r.mu.Lock()
	r.queued = true
	r.mu.Unlock()
}

func (r *Receipt) resolve(ack Ack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	r.ack = ack
	close(r.done)
	return true
}

func (r *Receipt) reject(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	r.err = err
	close(r.done)
	return true
}
