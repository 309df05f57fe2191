package transport

import (
	"bytes"
	"encoding/json"

	"github.com/eleven-am/voice-stream/internal/protocol"
)

// Position is where the client is in the backend's output stream.
type Position struct {
	SessionID   string
	LastChunkID json.RawMessage
	Active      bool
}

// Observe updates the position from an inbound frame.
func (p *Position) Observe(frame []byte) {
	if id := protocol.SessionID(frame); id != "" {
		p.SessionID = id
	}

	event := protocol.TypeOf(frame)
	switch {
	case event == protocol.EventStreamStart:
		p.Active = true
		p.LastChunkID = nil
	case protocol.EndsStream(event):
		p.End()
		return
	}

	if !p.Active {
		return
	}
	if id := protocol.ChunkID(frame); id != nil {
		p.LastChunkID = json.RawMessage(bytes.Clone(id))
	}
}

func (p *Position) End() {
	p.Active = false
	p.LastChunkID = nil
}
