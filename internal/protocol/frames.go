package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const defaultErrorCode = "unknown"

// TypeOf returns the type tag of a frame, or "" when it is absent.
func TypeOf(frame []byte) EventType {
	r := gjson.GetBytes(frame, "type")
	if r.Type != gjson.String {
		return ""
	}
	return EventType(r.Str)
}

// Field looks a payload field up under "data" first, then at the top level.
func Field(frame []byte, name string) gjson.Result {
	if r := gjson.GetBytes(frame, "data."+name); r.Exists() {
		return r
	}
	return gjson.GetBytes(frame, name)
}

// StringField returns the field as a string, "" when absent or null.
func StringField(frame []byte, name string) string {
	r := Field(frame, name)
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

func firstString(frame []byte, names ...string) string {
	for _, name := range names {
		if v := StringField(frame, name); v != "" {
			return v
		}
	}
	return ""
}

func rawField(frame []byte, names ...string) json.RawMessage {
	for _, name := range names {
		if r := Field(frame, name); r.Exists() {
			return json.RawMessage(r.Raw)
		}
	}
	return nil
}

// Payload is the frame's data object, or the whole frame when there is none.
func Payload(frame []byte) json.RawMessage {
	if r := gjson.GetBytes(frame, "data"); r.IsObject() {
		return json.RawMessage(r.Raw)
	}
	return json.RawMessage(frame)
}

func SessionID(frame []byte) string {
	return StringField(frame, "session_id")
}

// ChunkID returns the opaque chunk id as raw JSON, nil when absent.
func ChunkID(frame []byte) json.RawMessage {
	r := Field(frame, "chunk_id")
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(r.Raw)
}

// Text returns the text carried by chunk-like frames.
func Text(frame []byte) string {
	return firstString(frame, "content", "text", "delta")
}

type Attachments struct {
	ImageLocations []string `json:"image_locations,omitempty"`
	FileLocations  []string `json:"file_locations,omitempty"`
}

func (a *Attachments) Empty() bool {
	return a == nil || (len(a.ImageLocations) == 0 && len(a.FileLocations) == 0)
}

type SendMessageFrame struct {
	Type            string       `json:"type"`
	Content         string       `json:"content"`
	Source          string       `json:"source"`
	AICharacterName string       `json:"ai_character_name,omitempty"`
	Attachments     *Attachments `json:"attachments,omitempty"`
}

func NewSendMessage(content, source, characterName string, attachments *Attachments) SendMessageFrame {
	f := SendMessageFrame{
		Type:            TypeSendMessage,
		Content:         content,
		Source:          source,
		AICharacterName: characterName,
	}
	if !attachments.Empty() {
		f.Attachments = attachments
	}
	return f
}

type ResumeFrame struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	LastChunkID json.RawMessage `json:"last_chunk_id"`
}

func NewResume(sessionID string, lastChunkID json.RawMessage) ResumeFrame {
	if len(lastChunkID) == 0 {
		lastChunkID = json.RawMessage("null")
	}
	return ResumeFrame{Type: TypeStreamResume, SessionID: sessionID, LastChunkID: lastChunkID}
}

type PongFrame struct {
	Type string `json:"type"`
}

func NewPong() PongFrame {
	return PongFrame{Type: TypePong}
}

// ChatRequest asks the backend to stream a response for a prompt.
type ChatRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
	TTS       bool   `json:"tts"`
}

func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

type Notification struct {
	MessageID string
	SessionID string
	Direction string
	Content   string
	Payload   json.RawMessage
}

func ParseNotification(frame []byte) Notification {
	return Notification{
		MessageID: firstString(frame, "message_id", "id"),
		SessionID: SessionID(frame),
		Direction: StringField(frame, "direction"),
		Content:   firstString(frame, "content", "message"),
		Payload:   Payload(frame),
	}
}

type Ack struct {
	MessageID string
	SessionID string
	Queued    bool
}

func ParseAck(frame []byte) Ack {
	return Ack{
		MessageID: firstString(frame, "message_id", "id"),
		SessionID: SessionID(frame),
		Queued:    Field(frame, "queued").Bool(),
	}
}

type StreamError struct {
	Code      string
	Message   string
	SessionID string
}

func (e StreamError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ParseStreamError reads error/stream_error/send_error frames. The code
// defaults to "unknown".
func ParseStreamError(frame []byte) StreamError {
	e := StreamError{
		Code:      firstString(frame, "code", "error_code"),
		Message:   firstString(frame, "message", "error", "detail"),
		SessionID: SessionID(frame),
	}
	if e.Code == "" {
		e.Code = defaultErrorCode
	}
	return e
}

type ToolEvent struct {
	ToolCallID  string
	Name        string
	Input       json.RawMessage
	Result      json.RawMessage
	DisplayText string
}

func ParseToolEvent(frame []byte) ToolEvent {
	return ToolEvent{
		ToolCallID:  firstString(frame, "tool_call_id", "id"),
		Name:        firstString(frame, "tool_name", "name"),
		Input:       rawField(frame, "input", "arguments"),
		Result:      rawField(frame, "result", "output"),
		DisplayText: StringField(frame, "display_text"),
	}
}

type Transcription struct {
	Stage   EventType
	Text    string
	IsFinal bool
	Error   string
}

func ParseTranscription(frame []byte) Transcription {
	typ := TypeOf(frame)
	return Transcription{
		Stage:   typ,
		Text:    firstString(frame, "text", "content"),
		IsFinal: typ == EventTranscriptionComplete || Field(frame, "is_final").Bool(),
		Error:   firstString(frame, "error", "message"),
	}
}

type AgentStatus struct {
	AgentID string
	Status  string
	Message string
}

func ParseAgentStatus(frame []byte) AgentStatus {
	return AgentStatus{
		AgentID: StringField(frame, "agent_id"),
		Status:  StringField(frame, "status"),
		Message: StringField(frame, "message"),
	}
}

type CustomEvent struct {
	Name    string
	Payload json.RawMessage
}

func ParseCustomEvent(frame []byte) CustomEvent {
	return CustomEvent{
		Name:    firstString(frame, "event_type", "event", "name"),
		Payload: Payload(frame),
	}
}

// DecodeAudio returns the base64 audio carried by an audio_chunk frame.
func DecodeAudio(frame []byte) ([]byte, error) {
	encoded := firstString(frame, "audio", "chunk")
	if encoded == "" {
		return nil, nil
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	return audio, nil
}
