package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// shellOutputLimit bounds the output tail kept per shell client.
const shellOutputLimit = 256 * 1024

// ShellClient is the console side of one task's shell. It tracks the
// connection status through the socket lifecycle and keeps the output
// tail for the shell view. There is no automatic retry: after a
// disconnect the session stays listed and reconnecting is a user action.
type ShellClient struct {
	TaskID string

	mu        sync.Mutex
	sessionID string
	status    SessionStatus
	lastErr   error
	conn      *websocket.Conn
	cancel    context.CancelFunc
	output    []byte
	userClose bool

	// notify coalesces output and status changes for the UI event loop.
	notify chan struct{}
}

// NewShellClient creates an idle shell client for a task.
func NewShellClient(taskID string) *ShellClient {
	return &ShellClient{
		TaskID: taskID,
		status: StatusIdle,
		notify: make(chan struct{}, 1),
	}
}

// Status returns the current connection status.
func (sc *ShellClient) Status() SessionStatus {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.status
}

// SessionID returns the server session ID, once known.
func (sc *ShellClient) SessionID() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sessionID
}

// Err returns the error behind an error status, if any.
func (sc *ShellClient) Err() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lastErr
}

// Output returns a copy of the buffered output tail.
func (sc *ShellClient) Output() []byte {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]byte, len(sc.output))
	copy(out, sc.output)
	return out
}

// Notify returns the channel signaled on output or status changes.
func (sc *ShellClient) Notify() <-chan struct{} {
	return sc.notify
}

func (sc *ShellClient) ping() {
	select {
	case sc.notify <- struct{}{}:
	default:
	}
}

func (sc *ShellClient) setStatus(status SessionStatus, err error) {
	sc.mu.Lock()
	sc.status = status
	sc.lastErr = err
	sc.mu.Unlock()
	sc.ping()
}

// Connect dials the shell endpoint. When the client already has a session
// ID from a previous connection it reconnects to that session and the
// daemon replays missed output.
func (sc *ShellClient) Connect(baseURL string, cols, rows int) error {
	sc.mu.Lock()
	if sc.status == StatusConnecting || sc.status == StatusConnected {
		sc.mu.Unlock()
		return nil
	}
	sessionID := sc.sessionID
	sc.status = StatusConnecting
	sc.lastErr = nil
	sc.userClose = false
	sc.mu.Unlock()
	sc.ping()

	url := fmt.Sprintf("%s/api/tasks/%s/shell?cols=%d&rows=%d",
		wsURL(baseURL), sc.TaskID, cols, rows)
	if sessionID != "" {
		url += "&session=" + sessionID
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		cancel()
		sc.setStatus(StatusError, err)
		return err
	}
	conn.SetReadLimit(1024 * 1024)

	sc.mu.Lock()
	sc.conn = conn
	sc.cancel = cancel
	sc.mu.Unlock()

	go sc.readLoop(ctx, conn)
	return nil
}

// readLoop pumps frames off the socket until it closes. The first text
// frame carries the session info; binary frames are shell output.
func (sc *ShellClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			sc.finish(err)
			return
		}

		if msgType == websocket.MessageText {
			var info struct {
				Type    string `json:"type"`
				Session string `json:"session"`
			}
			if json.Unmarshal(data, &info) == nil && info.Type == "session_info" {
				sc.mu.Lock()
				sc.sessionID = info.Session
				sc.status = StatusConnected
				sc.mu.Unlock()
				sc.ping()
			}
			continue
		}

		sc.mu.Lock()
		sc.output = append(sc.output, data...)
		if len(sc.output) > shellOutputLimit {
			sc.output = sc.output[len(sc.output)-shellOutputLimit:]
		}
		sc.mu.Unlock()
		sc.ping()
	}
}

// finish resolves the terminal status after the socket closes.
func (sc *ShellClient) finish(err error) {
	sc.mu.Lock()
	user := sc.userClose
	sc.conn = nil
	sc.mu.Unlock()

	switch {
	case user:
		sc.setStatus(StatusDisconnected, nil)
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		sc.setStatus(StatusDisconnected, nil)
	default:
		sc.setStatus(StatusError, err)
	}
}

// Send writes raw input bytes to the shell.
func (sc *ShellClient) Send(p []byte) error {
	sc.mu.Lock()
	conn := sc.conn
	sc.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.Write(context.Background(), websocket.MessageBinary, p)
}

// SendResize tells the daemon the terminal size changed.
func (sc *ShellClient) SendResize(cols, rows int) error {
	sc.mu.Lock()
	conn := sc.conn
	sc.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	msg, _ := json.Marshal(map[string]interface{}{
		"type": "resize",
		"cols": cols,
		"rows": rows,
	})
	return conn.Write(context.Background(), websocket.MessageText, msg)
}

// Disconnect closes the socket without ending the server session; the
// shell keeps running and Connect resumes it.
func (sc *ShellClient) Disconnect() {
	sc.mu.Lock()
	sc.userClose = true
	conn := sc.conn
	cancel := sc.cancel
	sc.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	// Wake any pending notify listener even when there was no connection.
	sc.ping()
}

func wsURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http")
}

// ShellRegistry tracks shell clients by task so sessions survive view
// navigation.
type ShellRegistry struct {
	mu      sync.Mutex
	clients map[string]*ShellClient
}

// NewShellRegistry creates an empty registry.
func NewShellRegistry() *ShellRegistry {
	return &ShellRegistry{clients: make(map[string]*ShellClient)}
}

// Get returns the client of a task, or nil.
func (r *ShellRegistry) Get(taskID string) *ShellClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[taskID]
}

// GetOrCreate returns the client of a task, creating an idle one if the
// task has none.
func (r *ShellRegistry) GetOrCreate(taskID string) *ShellClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := r.clients[taskID]; ok {
		return sc
	}
	sc := NewShellClient(taskID)
	r.clients[taskID] = sc
	return sc
}

// Remove disconnects and forgets the client of a task.
func (r *ShellRegistry) Remove(taskID string) {
	r.mu.Lock()
	sc := r.clients[taskID]
	delete(r.clients, taskID)
	r.mu.Unlock()

	if sc != nil {
		sc.Disconnect()
	}
}

// Count returns the number of tracked clients.
func (r *ShellRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
