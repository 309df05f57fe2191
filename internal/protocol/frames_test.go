package protocol

import (
	"encoding/json"
	"testing"
)

func TestKnown_AllowList(t *testing.T) {
	if got := len(Known()); got != 33 {
		t.Errorf("expected 33 known events, got %d", got)
	}
	for _, e := range []EventType{"foo_bar", "", "send_message", "stream_resume"} {
		if IsKnown(e) {
			t.Errorf("%q should not be a known inbound event", e)
		}
	}
}

func TestEndsStream(t *testing.T) {
	ends := map[EventType]bool{
		EventStreamComplete:    true,
		EventStreamCancelled:   true,
		EventStreamError:       true,
		EventResumeUnavailable: true,
		EventTextCompleted:     false,
		EventTTSCompleted:      false,
		EventError:             true,
	}
	for e, want := range ends {
		if EndsStream(e) != want {
			t.Errorf("EndsStream(%s) expected %v", e, want)
		}
	}
}

func TestParseAck(t *testing.T) {
	ack := ParseAck([]byte(`{"type":"message_sent","data":{"message_id":"m","session_id":"s1","queued":true}}`))
	if ack.MessageID != "m" || ack.SessionID != "s1" || !ack.Queued {
		t.Errorf("unexpected ack %+v", ack)
	}

	ack = ParseAck([]byte(`{"type":"message_sent","id":"m2"}`))
	if ack.MessageID != "m2" || ack.Queued {
		t.Errorf("unexpected ack %+v", ack)
	}
}

func TestField_DataFirstThenTopLevel(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"nested", `{"type":"x","data":{"session_id":"s1"},"session_id":"s2"}`, "s1"},
		{"top level", `{"type":"x","session_id":"s2"}`, "s2"},
		{"data not object", `{"type":"x","data":"raw","session_id":"s3"}`, "s3"},
		{"absent", `{"type":"x"}`, ""},
		{"null", `{"type":"x","session_id":null}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionID([]byte(tt.frame)); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestChunkID_Opaque(t *testing.T) {
	if got := string(ChunkID([]byte(`{"type":"text_chunk","chunk_id":7}`))); got != "7" {
		t.Errorf("expected numeric id kept raw, got %s", got)
	}
	if got := string(ChunkID([]byte(`{"type":"text_chunk","data":{"chunk_id":"c-9"}}`))); got != `"c-9"` {
		t.Errorf("expected string id kept raw, got %s", got)
	}
	if ChunkID([]byte(`{"type":"text_chunk"}`)) != nil {
		t.Error("expected nil for absent chunk id")
	}
}

func TestParseStreamError_DefaultCode(t *testing.T) {
	e := ParseStreamError([]byte(`{"type":"stream_error","data":{"message":"boom"}}`))
	if e.Code != "unknown" {
		t.Errorf("expected code unknown, got %s", e.Code)
	}
	if e.Message != "boom" {
		t.Errorf("expected message boom, got %s", e.Message)
	}

	e = ParseStreamError([]byte(`{"type":"error","code":"rate_limited","error":"slow down","session_id":"s1"}`))
	if e.Code != "rate_limited" || e.Message != "slow down" || e.SessionID != "s1" {
		t.Errorf("unexpected error %+v", e)
	}
	if e.Error() != "rate_limited: slow down" {
		t.Errorf("unexpected error string %q", e.Error())
	}
}

func TestNewSendMessage_Attachments(t *testing.T) {
	frame := NewSendMessage("Hi", "text", "", &Attachments{})
	data, err := Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"type":"send_message","content":"Hi","source":"text"}` {
		t.Errorf("unexpected frame %s", data)
	}

	frame = NewSendMessage("look", "text", "Ava", &Attachments{ImageLocations: []string{"s3://img"}})
	data, _ = Encode(frame)
	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	if decoded["ai_character_name"] != "Ava" {
		t.Errorf("expected character name, got %v", decoded["ai_character_name"])
	}
	if _, ok := decoded["attachments"]; !ok {
		t.Errorf("expected attachments in %s", data)
	}
}

func TestNewResume_NullChunk(t *testing.T) {
	data, _ := Encode(NewResume("s1", nil))
	if string(data) != `{"type":"stream_resume","session_id":"s1","last_chunk_id":null}` {
		t.Errorf("unexpected frame %s", data)
	}
	data, _ = Encode(NewResume("s1", json.RawMessage(`"c-3"`)))
	if string(data) != `{"type":"stream_resume","session_id":"s1","last_chunk_id":"c-3"}` {
		t.Errorf("unexpected frame %s", data)
	}
}

func TestParseToolEvent(t *testing.T) {
	ev := ParseToolEvent([]byte(`{"type":"tool_start","data":{"tool_call_id":"t1","tool_name":"search","input":{"q":"go"},"display_text":"Searching"}}`))
	if ev.ToolCallID != "t1" || ev.Name != "search" || ev.DisplayText != "Searching" {
		t.Errorf("unexpected tool event %+v", ev)
	}
	if string(ev.Input) != `{"q":"go"}` {
		t.Errorf("unexpected input %s", ev.Input)
	}
	if ev.Result != nil {
		t.Errorf("expected nil result, got %s", ev.Result)
	}
}

func TestParseTranscription(t *testing.T) {
	tr := ParseTranscription([]byte(`{"type":"transcription_complete","data":{"text":"hello"}}`))
	if tr.Stage != EventTranscriptionComplete || tr.Text != "hello" || !tr.IsFinal {
		t.Errorf("unexpected transcription %+v", tr)
	}
	tr = ParseTranscription([]byte(`{"type":"transcription_chunk","text":"hel"}`))
	if tr.IsFinal {
		t.Error("chunk should not be final")
	}
}

func TestDecodeAudio(t *testing.T) {
	audio, err := DecodeAudio([]byte(`{"type":"audio_chunk","data":{"audio":"AQID"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(audio) != 3 || audio[0] != 1 || audio[2] != 3 {
		t.Errorf("unexpected audio %v", audio)
	}
	if _, err := DecodeAudio([]byte(`{"type":"audio_chunk","audio":"!!!"}`)); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestPayload(t *testing.T) {
	if got := string(Payload([]byte(`{"type":"custom_event","data":{"a":1}}`))); got != `{"a":1}` {
		t.Errorf("expected data object, got %s", got)
	}
	frame := `{"type":"custom_event","a":1}`
	if got := string(Payload([]byte(frame))); got != frame {
		t.Errorf("expected whole frame, got %s", got)
	}
}
