package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/tidwall/gjson"
)

const previewLimit = 500

var ErrUnknownEvent = errors.New("unknown event type")

type Handler func(frame []byte)

// Dispatcher routes inbound frames to exactly one handler per known event
// type. Frames that are not valid JSON go to the raw handler.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[EventType]Handler
	raw      Handler
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger.With("component", "dispatcher"),
		handlers: make(map[EventType]Handler),
	}
}

func (d *Dispatcher) Register(event EventType, h Handler) error {
	if !IsKnown(event) {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	d.mu.Lock()
	d.handlers[event] = h
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) OnRaw(h Handler) {
	d.mu.Lock()
	d.raw = h
	d.mu.Unlock()
}

func (d *Dispatcher) Dispatch(frame []byte) {
	if !gjson.ValidBytes(frame) {
		metrics.ParseFailures.Inc()
		d.logger.Debug("non-json frame", "bytes", len(frame))
		d.mu.RLock()
		raw := d.raw
		d.mu.RUnlock()
		if raw != nil {
			raw(frame)
		}
		return
	}

	event := TypeOf(frame)
	if !IsKnown(event) {
		metrics.UnknownEvents.Inc()
		d.logger.Warn("unknown event type", "type", string(event), "payload", preview(frame))
		return
	}

	d.mu.RLock()
	h, ok := d.handlers[event]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("no handler registered", "type", string(event))
		return
	}

	metrics.EventsDispatched.WithLabelValues(string(event)).Inc()
	h(frame)
}

func preview(frame []byte) string {
	if len(frame) <= previewLimit {
		return string(frame)
	}
	return string(frame[:previewLimit])
}
