package completion

import (
	"encoding/json"
	"sync"
)

// Tracker fires once per request, when both the text leg and the TTS leg have
// finished. Fail latches it so an error takes precedence over completion.
type Tracker struct {
	mu       sync.Mutex
	textDone bool
	ttsDone  bool
	ended    bool
}

func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) MarkText(payload json.RawMessage) (json.RawMessage, bool) {
	return t.mark(func() { t.textDone = true }, payload)
}

func (t *Tracker) MarkTTS(payload json.RawMessage) (json.RawMessage, bool) {
	return t.mark(func() { t.ttsDone = true }, payload)
}

func (t *Tracker) mark(set func(), payload json.RawMessage) (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		return nil, false
	}
	set()
	if !t.textDone || !t.ttsDone {
		return nil, false
	}
	t.ended = true
	return payload, true
}

// Fail ends the request without firing. It reports whether the tracker was
// still open.
func (t *Tracker) Fail() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasOpen := !t.ended
	t.ended = true
	return wasOpen
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.textDone = false
	t.ttsDone = false
	t.ended = false
	t.mu.Unlock()
}

func (t *Tracker) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Pending reports which legs are still outstanding.
func (t *Tracker) Pending() (text, tts bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.textDone, !t.ttsDone
}
