package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/voice-stream/internal/gateway"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const probeToken = "probe-token"

func startBackend(t *testing.T) (*httptest.Server, *gateway.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := gateway.NewStore(client)
	srv := gateway.NewServer(gateway.Config{Token: probeToken}, store, gateway.NewBridge(client, logger), logger)

	e := echo.New()
	srv.RegisterRoutes(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, store
}

func run(t *testing.T, ts *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--url", ts.URL, "--token", probeToken, "--timeout", "5s"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendPrintsReply(t *testing.T) {
	ts, _ := startBackend(t)

	out, err := run(t, ts, "send", "hello", "there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(out, "sent msg_") {
		t.Errorf("expected ack line, got %q", out)
	}
	if !strings.Contains(out, "You said: hello there\n") {
		t.Errorf("expected reply, got %q", out)
	}
}

func TestChatStreamsResponse(t *testing.T) {
	ts, _ := startBackend(t)

	out, err := run(t, ts, "chat", "stream", "me")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "You said: stream me\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestListenPrintsPushes(t *testing.T) {
	ts, store := startBackend(t)
	session, err := store.SessionFor(context.Background(), probeToken)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sessions/"+session+"/notify", strings.NewReader(`{"content":"ping from agent"}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+probeToken)
			if resp, err := http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}()

	out, err := run(t, ts, "listen", "--count", "1")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if out != "ping from agent\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestBadTokenFails(t *testing.T) {
	ts, _ := startBackend(t)

	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--url", ts.URL, "--token", "wrong", "--timeout", "2s", "send", "hi"})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("expected connect failure with a bad token")
	}
}

func TestSendRequiresMessage(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"send"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected argument error")
	}
}
