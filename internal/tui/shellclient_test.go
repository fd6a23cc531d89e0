package tui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeShellServer upgrades /api/tasks/{id}/shell, sends session info and
// echoes binary input back as output.
func fakeShellServer(t *testing.T) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	sessionCounter := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/tasks/") {
			http.NotFound(w, r)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()

		sid := r.URL.Query().Get("session")
		if sid == "" {
			mu.Lock()
			sessionCounter++
			sid = "sess-" + string(rune('0'+sessionCounter))
			mu.Unlock()
		}

		conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"session_info","session":"`+sid+`","task":"t-1"}`))

		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if msgType == websocket.MessageBinary {
				if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitStatus(t *testing.T, sc *ShellClient, want SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sc.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for status %s, stuck at %s (err=%v)", want, sc.Status(), sc.Err())
}

func TestShellClientConnectAndEcho(t *testing.T) {
	srv := fakeShellServer(t)
	sc := NewShellClient("t-1")

	if sc.Status() != StatusIdle {
		t.Fatalf("Expected idle, got %s", sc.Status())
	}

	if err := sc.Connect(srv.URL, 80, 24); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitStatus(t, sc, StatusConnected)

	if sc.SessionID() == "" {
		t.Error("Expected session ID after connect")
	}

	if err := sc.Send([]byte("echo hi\r")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(string(sc.Output()), "echo hi") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(string(sc.Output()), "echo hi") {
		t.Errorf("Expected echoed output, got %q", sc.Output())
	}
}

func TestShellClientDisconnectIsUserAction(t *testing.T) {
	srv := fakeShellServer(t)
	sc := NewShellClient("t-1")

	if err := sc.Connect(srv.URL, 80, 24); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitStatus(t, sc, StatusConnected)
	sid := sc.SessionID()

	sc.Disconnect()
	waitStatus(t, sc, StatusDisconnected)

	// No automatic retry: status stays disconnected.
	time.Sleep(50 * time.Millisecond)
	if sc.Status() != StatusDisconnected {
		t.Fatalf("Expected to stay disconnected, got %s", sc.Status())
	}

	// Reconnecting keeps the session ID.
	if err := sc.Connect(srv.URL, 80, 24); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	waitStatus(t, sc, StatusConnected)
	if sc.SessionID() != sid {
		t.Errorf("Expected session %s after reconnect, got %s", sid, sc.SessionID())
	}
}

func TestShellClientDialFailureIsError(t *testing.T) {
	sc := NewShellClient("t-1")

	if err := sc.Connect("http://127.0.0.1:1", 80, 24); err == nil {
		t.Fatal("Expected dial error")
	}
	if sc.Status() != StatusError {
		t.Errorf("Expected error status, got %s", sc.Status())
	}
	if sc.Err() == nil {
		t.Error("Expected Err() to surface the dial failure")
	}
}

func TestShellClientConnectWhileConnectedIsNoop(t *testing.T) {
	srv := fakeShellServer(t)
	sc := NewShellClient("t-1")

	if err := sc.Connect(srv.URL, 80, 24); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitStatus(t, sc, StatusConnected)

	if err := sc.Connect(srv.URL, 80, 24); err != nil {
		t.Errorf("Second Connect should be a no-op, got %v", err)
	}
	if sc.Status() != StatusConnected {
		t.Errorf("Expected to stay connected, got %s", sc.Status())
	}
}

func TestShellRegistrySurvivesNavigation(t *testing.T) {
	r := NewShellRegistry()

	a := r.GetOrCreate("t-1")
	b := r.GetOrCreate("t-2")
	if a == b {
		t.Fatal("Expected distinct clients per task")
	}

	// Simulates leaving and re-entering the shell view.
	if got := r.GetOrCreate("t-1"); got != a {
		t.Error("Expected the same client back for t-1")
	}
	if r.Count() != 2 {
		t.Errorf("Expected 2 clients, got %d", r.Count())
	}

	r.Remove("t-1")
	if r.Get("t-1") != nil {
		t.Error("Expected t-1 removed")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 client, got %d", r.Count())
	}
}
