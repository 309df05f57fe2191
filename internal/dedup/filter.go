package dedup

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/eleven-am/voice-stream/internal/shared"
)

type Verdict int

const (
	DeliverResponse Verdict = iota
	DeliverPeer
	DropEcho
	DropInFlight
	DropForeignSession
)

func (v Verdict) String() string {
	switch v {
	case DeliverResponse:
		return "deliver_response"
	case DeliverPeer:
		return "deliver_peer"
	case DropEcho:
		return "echo"
	case DropInFlight:
		return "in_flight"
	case DropForeignSession:
		return "foreign_session"
	default:
		return "unknown"
	}
}

func (v Verdict) Delivered() bool {
	return v == DeliverResponse || v == DeliverPeer
}

// SentIDs holds server message ids acknowledged to this client. An id is
// consumed by the first notification that carries it.
type SentIDs struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewSentIDs() *SentIDs {
	return &SentIDs{ids: make(map[string]struct{})}
}

func (s *SentIDs) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *SentIDs) Consume(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

func (s *SentIDs) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type Filter struct {
	sent   *SentIDs
	logger *slog.Logger
}

func NewFilter(sent *SentIDs, logger *slog.Logger) *Filter {
	if sent == nil {
		sent = NewSentIDs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		sent:   sent,
		logger: logger.With("component", "dedup"),
	}
}

func (f *Filter) SentIDs() *SentIDs {
	return f.sent
}

// Decide classifies a notification. Echo suppression wins over every other
// rule; session mismatches drop peer messages but only warn for agent replies.
func (f *Filter) Decide(n protocol.Notification, sendInFlight bool, boundSession string) Verdict {
	if f.sent.Consume(n.MessageID) {
		return DropEcho
	}

	fromUser := n.Direction == shared.DirectionUserToAgent.String()

	if fromUser && sendInFlight {
		return DropInFlight
	}

	if boundSession != "" && n.SessionID != "" && n.SessionID != boundSession {
		if fromUser {
			return DropForeignSession
		}
		f.logger.Warn("agent reply for a different session",
			"bound_session", boundSession,
			"session_id", n.SessionID,
			"message_id", n.MessageID,
		)
	}

	if fromUser {
		return DeliverPeer
	}
	return DeliverResponse
}
