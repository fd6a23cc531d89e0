package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

func newHandlerServer(t *testing.T, m *Manager) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h := NewHandler(m, func(taskID string) error {
		if taskID == "missing" {
			return fmt.Errorf("task not found")
		}
		return nil
	}, nil)
	r.Get("/api/tasks/{id}/shell", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readSessionInfo(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read session info: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("Expected text frame first, got %v", msgType)
	}
	var info struct {
		Type    string `json:"type"`
		Session string `json:"session"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("Bad session info: %v", err)
	}
	if info.Type != "session_info" || info.Session == "" {
		t.Fatalf("Unexpected session info: %+v", info)
	}
	return info.Session
}

func TestHandler_EchoRoundtrip(t *testing.T) {
	m, fake := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.CloseNow()

	readSessionInfo(t, ctx, conn)

	// Client input reaches the PTY
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("echo hi\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitFor(t, "pty input", func() bool { return fake.inputString() == "echo hi\n" })

	// PTY output reaches the client
	fake.emit([]byte("hi\n"))
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if msgType != websocket.MessageBinary || string(data) != "hi\n" {
		t.Errorf("Unexpected frame: %v %q", msgType, data)
	}
}

func TestHandler_ResizeControlFrame(t *testing.T) {
	m, fake := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.CloseNow()

	readSessionInfo(t, ctx, conn)

	resize, _ := json.Marshal(controlMsg{Type: "resize", Cols: 120, Rows: 40})
	if err := conn.Write(ctx, websocket.MessageText, resize); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, "resize", func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.cols == 120 && fake.rows == 40
	})
}

func TestHandler_ReconnectReplaysScrollback(t *testing.T) {
	m, fake := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	sessionID := readSessionInfo(t, ctx, conn)
	conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, "detach", func() bool {
		ms := m.GetSession(sessionID)
		return ms != nil && ms.State() == SessionDetached
	})

	fake.emit([]byte("while you were away"))
	waitFor(t, "scrollback", func() bool {
		return m.GetSession(sessionID).Scrollback.Len() > 0
	})

	conn2, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell?session="+sessionID), nil)
	if err != nil {
		t.Fatalf("Reconnect dial failed: %v", err)
	}
	defer conn2.CloseNow()

	got := readSessionInfo(t, ctx, conn2)
	if got != sessionID {
		t.Errorf("Expected to rejoin session %s, got %s", sessionID, got)
	}

	msgType, data, err := conn2.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if msgType != websocket.MessageBinary || string(data) != "while you were away" {
		t.Errorf("Expected scrollback replay, got %v %q", msgType, data)
	}
}

func TestHandler_SecondAttachRefused(t *testing.T) {
	m, _ := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.CloseNow()
	sessionID := readSessionInfo(t, ctx, conn)
	waitFor(t, "attach", func() bool {
		ms := m.GetSession(sessionID)
		return ms != nil && ms.IsAttached()
	})

	// The session is still attached; a concurrent attach must be refused.
	conn2, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell?session="+sessionID), nil)
	if err != nil {
		t.Fatalf("Second dial failed: %v", err)
	}
	defer conn2.CloseNow()

	_, _, err = conn2.Read(ctx)
	if err == nil {
		t.Fatal("Expected second attach to be closed")
	}
	if status := websocket.CloseStatus(err); status != 4409 {
		t.Errorf("Expected close code 4409, got %d", status)
	}
}

func TestHandler_OversizedInputDropped(t *testing.T) {
	m, fake := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.CloseNow()
	readSessionInfo(t, ctx, conn)

	big := bytes.Repeat([]byte("a"), MaxInputMessageSize+1)
	if err := conn.Write(ctx, websocket.MessageBinary, big); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("ok")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// The follow-up frame arrives; the oversized one never reaches the PTY.
	waitFor(t, "small input", func() bool { return fake.inputString() == "ok" })
}

func TestHandler_InputRateLimited(t *testing.T) {
	m, fake := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/task-1/shell"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.CloseNow()
	readSessionInfo(t, ctx, conn)

	// Far more one-byte frames than the bucket can refill while they are
	// in flight.
	const flood = rateBurst + 400
	for i := 0; i < flood; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, []byte("x")); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	// Control frames bypass the limiter, so a resize sent after the flood
	// doubles as an ordering marker: once it lands, every earlier frame
	// has been processed.
	resize, _ := json.Marshal(controlMsg{Type: "resize", Cols: 99, Rows: 33})
	if err := conn.Write(ctx, websocket.MessageText, resize); err != nil {
		t.Fatalf("Resize write failed: %v", err)
	}
	waitFor(t, "resize during flood", func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.cols == 99 && fake.rows == 33
	})

	got := len(fake.inputString())
	if got >= flood {
		t.Errorf("Expected rate limiter to drop input, got all %d frames", got)
	}
	if got < rateBurst {
		t.Errorf("Burst should pass untouched, got only %d frames", got)
	}
}

func TestTokenBucketRefillsUnderRapidPolling(t *testing.T) {
	tb := newTokenBucket(1, 10)
	if !tb.allow() {
		t.Fatal("Initial token should be available")
	}
	if tb.allow() {
		t.Fatal("Bucket should be empty after the burst")
	}

	// Polling faster than the refill interval must still accrue tokens.
	deadline := time.Now().Add(2 * time.Second)
	refilled := false
	for time.Now().Before(deadline) {
		if tb.allow() {
			refilled = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !refilled {
		t.Error("Bucket never refilled under rapid polling")
	}
}

func TestHandler_UnknownTaskRejected(t *testing.T) {
	m, _ := newTestManager(t)
	srv := newHandlerServer(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL(srv, "/api/tasks/missing/shell"), nil)
	if err == nil {
		t.Fatal("Expected dial to fail for unknown task")
	}
	if resp != nil && resp.StatusCode != 404 {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}
