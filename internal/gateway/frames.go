package gateway

import "github.com/eleven-am/voice-stream/internal/protocol"

type frame struct {
	Type      protocol.EventType `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Data      any                `json:"data,omitempty"`
}

type ackData struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
}

type notificationData struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Direction string `json:"direction"`
	Content   string `json:"content"`
	Source    string `json:"source,omitempty"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type startData struct {
	RequestID string `json:"request_id"`
}

type chunkData struct {
	Content string `json:"content"`
	ChunkID int64  `json:"chunk_id"`
}

type resumedData struct {
	Replayed int `json:"replayed"`
}

type customData struct {
	EventType string `json:"event_type"`
	Content   string `json:"content,omitempty"`
}

func errorFrame(t protocol.EventType, sessionID, code, message string) frame {
	return frame{Type: t, SessionID: sessionID, Data: errorData{Code: code, Message: message}}
}
