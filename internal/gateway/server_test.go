package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/voice-stream/internal/metrics"
	"github.com/eleven-am/voice-stream/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

const testToken = "dev-token"

type testBackend struct {
	server *httptest.Server
	store  *Store
	mr     *miniredis.Miniredis
}

func newTestBackend(t *testing.T, cfg Config) *testBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(client)
	srv := NewServer(cfg, store, NewBridge(client, logger), logger)

	e := echo.New()
	srv.RegisterRoutes(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return &testBackend{server: ts, store: store, mr: mr}
}

func (b *testBackend) url(path, token string) string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + path + "?token=" + token
}

func (b *testBackend) dial(t *testing.T, path string) (*websocket.Conn, string) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(b.url(path, testToken), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	ready := readFrame(t, ws)
	if protocol.TypeOf(ready) != protocol.EventWebsocketReady {
		t.Fatalf("expected websocket_ready, got %s", ready)
	}
	return ws, protocol.SessionID(ready)
}

// readFrame returns the next non-ping frame.
func readFrame(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	for {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if protocol.TypeOf(data) != protocol.EventPing {
			return data
		}
	}
}

func readTypes(t *testing.T, ws *websocket.Conn, until protocol.EventType) ([]protocol.EventType, [][]byte) {
	t.Helper()
	var types []protocol.EventType
	var frames [][]byte
	for {
		f := readFrame(t, ws)
		types = append(types, protocol.TypeOf(f))
		frames = append(frames, f)
		if protocol.TypeOf(f) == until {
			return types, frames
		}
	}
}

func write(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func joinTypes(types []protocol.EventType) string {
	parts := make([]string, len(types))
	for i, typ := range types {
		parts[i] = string(typ)
	}
	return strings.Join(parts, ",")
}

func TestServer_RejectsBadToken(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})

	for _, token := range []string{"", "wrong"} {
		_, resp, err := websocket.DefaultDialer.Dial(b.url(ChatPath, token), nil)
		if err == nil {
			t.Fatalf("token %q: expected handshake failure", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %v", token, resp)
		}
	}
}

func TestServer_SendMessage(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})
	ws, session := b.dial(t, ChatPath)

	write(t, ws, `{"type":"send_message","content":"Hi","source":"text"}`)

	sent := readFrame(t, ws)
	if protocol.TypeOf(sent) != protocol.EventMessageSent {
		t.Fatalf("expected message_sent, got %s", sent)
	}
	ack := protocol.ParseAck(sent)
	if ack.MessageID == "" || ack.SessionID != session {
		t.Errorf("unexpected ack %+v", ack)
	}

	echoed := protocol.ParseNotification(readFrame(t, ws))
	if echoed.MessageID != ack.MessageID || echoed.Direction != "user_to_agent" || echoed.Content != "Hi" {
		t.Errorf("unexpected echo %+v", echoed)
	}

	reply := protocol.ParseNotification(readFrame(t, ws))
	if reply.Direction != "agent_to_user" || reply.Content != "You said: Hi" || reply.SessionID != session {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestServer_SendMessageEmpty(t *testing.T) {
	b := newTestBackend(t, Config{})
	ws, _ := b.dial(t, ChatPath)

	write(t, ws, `{"type":"send_message","content":"   "}`)

	f := readFrame(t, ws)
	if protocol.TypeOf(f) != protocol.EventSendError {
		t.Fatalf("expected send_error, got %s", f)
	}
	if e := protocol.ParseStreamError(f); e.Code != "empty_content" {
		t.Errorf("expected empty_content, got %s", e.Code)
	}
}

func TestServer_PeerTabsShareSession(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})
	sender, session := b.dial(t, ChatPath)
	peer, peerSession := b.dial(t, ChatPath)

	if session != peerSession {
		t.Fatalf("expected shared session, got %s and %s", session, peerSession)
	}

	write(t, sender, `{"type":"send_message","content":"from tab one"}`)

	n := protocol.ParseNotification(readFrame(t, peer))
	if n.Direction != "user_to_agent" || n.Content != "from tab one" {
		t.Errorf("expected peer copy of the message, got %+v", n)
	}
}

func TestServer_ChatRequestStreamsAndLogs(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})
	ws, session := b.dial(t, ChatPath)

	write(t, ws, `{"type":"chat_request","request_id":"r1","content":"hello there","tts":false}`)

	types, frames := readTypes(t, ws, protocol.EventStreamComplete)
	want := "stream_start,text_chunk,text_chunk,text_chunk,text_chunk,text_completed,tts_not_requested,stream_complete"
	if got := joinTypes(types); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if protocol.StringField(frames[0], "request_id") != "r1" {
		t.Errorf("expected request id echoed, got %s", frames[0])
	}

	var text strings.Builder
	for _, f := range frames[1:5] {
		text.WriteString(protocol.Text(f))
	}
	if text.String() != "You said: hello there" {
		t.Errorf("unexpected streamed text %q", text.String())
	}

	chunks, err := b.store.ChunksAfter(context.Background(), session, 0)
	if err != nil || len(chunks) != 4 {
		t.Fatalf("expected 4 logged chunks, got %d (%v)", len(chunks), err)
	}
	if state, _ := b.store.State(context.Background(), session); state != StreamComplete {
		t.Errorf("expected complete stream, got %s", state)
	}
}

func TestServer_TTSRequested(t *testing.T) {
	b := newTestBackend(t, Config{})
	ws, _ := b.dial(t, ChatPath)

	write(t, ws, `{"type":"chat_request","content":"hi","tts":true}`)

	types, _ := readTypes(t, ws, protocol.EventStreamComplete)
	if got := joinTypes(types); !strings.Contains(got, "text_completed,tts_error,stream_complete") {
		t.Errorf("expected tts_error in place of tts completion, got %s", got)
	}
}

func TestServer_ResumeReplaysMissedChunks(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})
	first, _ := b.dial(t, ChatPath)

	write(t, first, `{"type":"chat_request","content":"one two three"}`)
	_, frames := readTypes(t, first, protocol.EventStreamComplete)
	firstChunk := protocol.Field(frames[1], "chunk_id").Int()
	first.Close()

	before := testutil.ToFloat64(metrics.GatewayReplayedChunks)

	second, session := b.dial(t, ChatPath)
	write(t, second, `{"type":"stream_resume","session_id":"`+session+`","last_chunk_id":`+strconv.FormatInt(firstChunk, 10)+`}`)

	types, resumed := readTypes(t, second, protocol.EventStreamComplete)
	want := "text_chunk,text_chunk,text_chunk,text_chunk,stream_resumed,text_completed,tts_not_requested,stream_complete"
	if got := joinTypes(types); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if protocol.Field(resumed[0], "chunk_id").Int() != firstChunk+1 {
		t.Errorf("expected replay to start after chunk %d, got %s", firstChunk, resumed[0])
	}
	if protocol.Field(resumed[4], "replayed").Int() != 4 {
		t.Errorf("expected 4 replayed, got %s", resumed[4])
	}
	if got := testutil.ToFloat64(metrics.GatewayReplayedChunks) - before; got != 4 {
		t.Errorf("expected replay metric +4, got %v", got)
	}
}

func TestServer_ResumeUnavailable(t *testing.T) {
	b := newTestBackend(t, Config{})
	ws, session := b.dial(t, ChatPath)

	write(t, ws, `{"type":"stream_resume","session_id":"`+session+`","last_chunk_id":null}`)

	if f := readFrame(t, ws); protocol.TypeOf(f) != protocol.EventResumeUnavailable {
		t.Errorf("expected resume_unavailable, got %s", f)
	}
}

func TestServer_UnsupportedFrame(t *testing.T) {
	b := newTestBackend(t, Config{})
	ws, _ := b.dial(t, ChatPath)

	write(t, ws, `{"type":"dance"}`)

	f := readFrame(t, ws)
	if protocol.TypeOf(f) != protocol.EventError || protocol.ParseStreamError(f).Code != "unsupported_type" {
		t.Errorf("expected unsupported_type error, got %s", f)
	}
}

func TestServer_Pings(t *testing.T) {
	b := newTestBackend(t, Config{PingPeriod: 50 * time.Millisecond})
	ws, _ := b.dial(t, ChatPath)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if protocol.TypeOf(data) != protocol.EventPing {
		t.Errorf("expected ping, got %s", data)
	}
	write(t, ws, `{"type":"pong"}`)
}

func TestServer_NotifyReachesProactiveSockets(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})
	ws, session := b.dial(t, ProactivePath)

	body := strings.NewReader(`{"content":"your report is ready"}`)
	req, _ := http.NewRequest(http.MethodPost, b.server.URL+"/sessions/"+session+"/notify", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	n := protocol.ParseNotification(readFrame(t, ws))
	if n.Content != "your report is ready" || n.Direction != "agent_to_user" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestServer_NotifyEmptyNamesFields(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})

	req, _ := http.NewRequest(http.MethodPost, b.server.URL+"/sessions/s1/notify", strings.NewReader(`{"content":"  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Code    string `json:"code"`
		Details struct {
			Fields []string `json:"fields"`
		} `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest || body.Code != "empty_notification" {
		t.Errorf("expected 400 empty_notification, got %d %s", resp.StatusCode, body.Code)
	}
	if strings.Join(body.Details.Fields, ",") != "content,event_type" {
		t.Errorf("expected fields content,event_type, got %v", body.Details.Fields)
	}
}

func TestServer_NotifyValidation(t *testing.T) {
	b := newTestBackend(t, Config{Token: testToken})

	tests := []struct {
		name   string
		auth   string
		body   string
		status int
	}{
		{"no token", "", `{"content":"x"}`, http.StatusUnauthorized},
		{"empty", "Bearer " + testToken, `{}`, http.StatusBadRequest},
		{"custom event", "Bearer " + testToken, `{"event_type":"background_job_completed"}`, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, b.server.URL+"/sessions/s1/notify", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			if tt.auth != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.auth)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}
