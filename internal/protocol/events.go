package protocol

import "sort"

type EventType string

const (
	EventWebsocketReady EventType = "websocket_ready"
	EventConnected      EventType = "connected"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
	EventHeartbeat      EventType = "heartbeat"

	EventStreamStart       EventType = "stream_start"
	EventTextChunk         EventType = "text_chunk"
	EventThinkingChunk     EventType = "thinking_chunk"
	EventThinkingCompleted EventType = "thinking_completed"
	EventToolStart         EventType = "tool_start"
	EventToolResult        EventType = "tool_result"
	EventTextCompleted     EventType = "text_completed"

	EventTTSStarted     EventType = "tts_started"
	EventAudioChunk     EventType = "audio_chunk"
	EventTTSCompleted   EventType = "tts_completed"
	EventTTSNotRequired EventType = "tts_not_requested"
	EventTTSError       EventType = "tts_error"

	EventStreamComplete    EventType = "stream_complete"
	EventStreamCancelled   EventType = "stream_cancelled"
	EventStreamResumed     EventType = "stream_resumed"
	EventResumeUnavailable EventType = "resume_unavailable"

	EventTranscriptionStart    EventType = "transcription_start"
	EventTranscriptionChunk    EventType = "transcription_chunk"
	EventTranscriptionComplete EventType = "transcription_complete"
	EventTranscriptionError    EventType = "transcription_error"

	EventError       EventType = "error"
	EventStreamError EventType = "stream_error"

	EventNotification   EventType = "notification"
	EventMessageSent    EventType = "message_sent"
	EventSendError      EventType = "send_error"
	EventCustomEvent    EventType = "custom_event"
	EventAgentStatus    EventType = "agent_status"
	EventServerShutdown EventType = "server_shutdown"
)

// Outbound frame types.
const (
	TypeSendMessage  = "send_message"
	TypeStreamResume = "stream_resume"
	TypePong         = "pong"
	TypeChatRequest  = "chat_request"
)

var knownEvents = map[EventType]struct{}{
	EventWebsocketReady:        {},
	EventConnected:             {},
	EventPing:                  {},
	EventPong:                  {},
	EventHeartbeat:             {},
	EventStreamStart:           {},
	EventTextChunk:             {},
	EventThinkingChunk:         {},
	EventThinkingCompleted:     {},
	EventToolStart:             {},
	EventToolResult:            {},
	EventTextCompleted:         {},
	EventTTSStarted:            {},
	EventAudioChunk:            {},
	EventTTSCompleted:          {},
	EventTTSNotRequired:        {},
	EventTTSError:              {},
	EventStreamComplete:        {},
	EventStreamCancelled:       {},
	EventStreamResumed:         {},
	EventResumeUnavailable:     {},
	EventTranscriptionStart:    {},
	EventTranscriptionChunk:    {},
	EventTranscriptionComplete: {},
	EventTranscriptionError:    {},
	EventError:                 {},
	EventStreamError:           {},
	EventNotification:          {},
	EventMessageSent:           {},
	EventSendError:             {},
	EventCustomEvent:           {},
	EventAgentStatus:           {},
	EventServerShutdown:        {},
}

func (e EventType) String() string {
	return string(e)
}

func IsKnown(e EventType) bool {
	_, ok := knownEvents[e]
	return ok
}

// Known returns the allow-list in lexical order.
func Known() []EventType {
	out := make([]EventType, 0, len(knownEvents))
	for e := range knownEvents {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EndsStream reports whether the event terminates the active stream as far as
// resume bookkeeping is concerned.
func EndsStream(e EventType) bool {
	switch e {
	case EventStreamComplete, EventStreamCancelled, EventStreamError, EventError, EventResumeUnavailable:
		return true
	}
	return false
}

// IsHandshake reports whether the event signals the backend is ready for
// application traffic.
func IsHandshake(e EventType) bool {
	return e == EventWebsocketReady || e == EventConnected
}
