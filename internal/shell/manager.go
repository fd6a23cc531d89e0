package shell

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState represents the lifecycle state of a managed shell session.
type SessionState string

const (
	// SessionActive means the PTY is alive and a client is attached.
	SessionActive SessionState = "active"
	// SessionDetached means the PTY is alive but no client is attached.
	SessionDetached SessionState = "detached"
	// SessionClosed means the shell process has ended.
	SessionClosed SessionState = "closed"
)

// DefaultIdleTimeout is how long a detached session stays alive before the
// cleanup pass reclaims it.
const DefaultIdleTimeout = 30 * time.Minute

// ManagedSession wraps a PTY with metadata for per-task session management.
// It maintains a scrollback buffer so that disconnected clients can
// reconnect and see output produced while away.
//
// Lifecycle:
//  1. Created via Manager.OpenForTask() → state=Active
//  2. Client disconnects → state=Detached (shell stays alive)
//  3. Client reconnects → state=Active (scrollback replayed)
//  4. Shell exits or explicit close → state=Closed
type ManagedSession struct {
	ID        string
	TaskID    string
	Shell     string
	CreatedAt time.Time
	ClosedAt  *time.Time

	Terminal   Pty
	Scrollback *ScrollbackBuffer

	mu           sync.Mutex
	state        SessionState
	lastActivity time.Time
	attached     io.Writer
	done         chan struct{}
}

// State returns the current session state.
func (ms *ManagedSession) State() SessionState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

// LastActivity returns the time of the last attach, detach or input.
func (ms *ManagedSession) LastActivity() time.Time {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastActivity
}

// IsAttached reports whether a client is currently attached.
func (ms *ManagedSession) IsAttached() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.attached != nil
}

// Attach connects a client writer to the session and returns the scrollback
// history to replay. Output produced from now on is forwarded to w.
func (ms *ManagedSession) Attach(w io.Writer) []byte {
	ms.mu.Lock()
	ms.attached = w
	if ms.state == SessionDetached {
		ms.state = SessionActive
	}
	ms.lastActivity = time.Now()
	ms.mu.Unlock()
	return ms.Scrollback.Snapshot()
}

// Detach disconnects the current client. The shell keeps running and output
// keeps accumulating in the scrollback buffer.
func (ms *ManagedSession) Detach() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.attached = nil
	if ms.state == SessionActive {
		ms.state = SessionDetached
	}
	ms.lastActivity = time.Now()
}

// WriteInput feeds client input to the shell.
func (ms *ManagedSession) WriteInput(p []byte) (int, error) {
	ms.mu.Lock()
	if ms.state == SessionClosed {
		ms.mu.Unlock()
		return 0, fmt.Errorf("session closed")
	}
	ms.lastActivity = time.Now()
	ms.mu.Unlock()
	return ms.Terminal.Write(p)
}

// Resize forwards a window resize to the PTY.
func (ms *ManagedSession) Resize(cols, rows uint16) error {
	return ms.Terminal.Resize(cols, rows)
}

// Done returns a channel closed when the shell process ends.
func (ms *ManagedSession) Done() <-chan struct{} {
	return ms.done
}

// Close terminates the session and its shell process.
func (ms *ManagedSession) Close() {
	ms.mu.Lock()
	if ms.state == SessionClosed {
		ms.mu.Unlock()
		return
	}
	ms.state = SessionClosed
	now := time.Now()
	ms.ClosedAt = &now
	ms.lastActivity = now
	ms.mu.Unlock()

	ms.Terminal.Close()
	ms.Scrollback.Close()
}

// forward writes PTY output to the scrollback and the attached client.
func (ms *ManagedSession) forward(p []byte) {
	ms.Scrollback.Write(p)
	ms.mu.Lock()
	w := ms.attached
	ms.mu.Unlock()
	if w != nil {
		// A write error just means the client went away; the next
		// Detach/Attach cycle sorts it out.
		w.Write(p)
	}
}

// Manager tracks the shell sessions of all tasks. It provides creation with
// per-task reuse, lookup, reconnection and idle cleanup.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*ManagedSession // session ID → session

	// ShellCommand is the command run for new sessions.
	ShellCommand string
	// ScrollbackSize is the max scrollback buffer size for new sessions.
	ScrollbackSize int
	// IdleTimeout is how long a detached session stays alive before cleanup.
	// Zero means no automatic cleanup.
	IdleTimeout time.Duration

	start func(command string, cols, rows uint16) (Pty, error)
	log   *zap.Logger
}

// NewManager creates a session manager with sensible defaults.
func NewManager(shellCommand string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:       make(map[string]*ManagedSession),
		ShellCommand:   shellCommand,
		ScrollbackSize: defaultScrollbackSize,
		IdleTimeout:    DefaultIdleTimeout,
		start:          StartTerminal,
		log:            logger,
	}
}

// OpenForTask returns a live session for the task, creating one only when
// the task has no reusable session. A detached live session for the same
// task is reused so that opening a shell twice is a no-op on the PTY side.
func (m *Manager) OpenForTask(taskID string, cols, rows uint16) (*ManagedSession, bool, error) {
	m.mu.Lock()
	for _, ms := range m.sessions {
		if ms.TaskID == taskID && ms.State() == SessionDetached {
			m.mu.Unlock()
			m.log.Info("shell session reused",
				zap.String("session", ms.ID),
				zap.String("task", taskID))
			return ms, true, nil
		}
	}
	m.mu.Unlock()

	ms, err := m.create(taskID, cols, rows)
	if err != nil {
		return nil, false, err
	}
	return ms, false, nil
}

func (m *Manager) create(taskID string, cols, rows uint16) (*ManagedSession, error) {
	term, err := m.start(m.ShellCommand, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}

	shellCmd := m.ShellCommand
	if shellCmd == "" {
		shellCmd = DefaultShell
	}

	ms := &ManagedSession{
		ID:           uuid.New().String(),
		TaskID:       taskID,
		Shell:        shellCmd,
		CreatedAt:    time.Now(),
		Terminal:     term,
		Scrollback:   NewScrollbackBuffer(m.ScrollbackSize),
		state:        SessionActive,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}

	go m.relayOutput(ms)

	m.mu.Lock()
	m.sessions[ms.ID] = ms
	m.mu.Unlock()

	m.log.Info("shell session created",
		zap.String("session", ms.ID),
		zap.String("task", taskID),
		zap.String("shell", shellCmd))

	return ms, nil
}

// relayOutput reads PTY output into the scrollback (and any attached
// client) for the lifetime of the shell process.
func (m *Manager) relayOutput(ms *ManagedSession) {
	defer close(ms.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := ms.Terminal.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ms.forward(data)
		}
		if err != nil {
			m.log.Info("shell session ended",
				zap.String("session", ms.ID),
				zap.String("task", ms.TaskID))
			ms.Close()
			return
		}
	}
}

// GetSession returns a managed session by ID, or nil if not found.
func (m *Manager) GetSession(sessionID string) *ManagedSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// SessionsForTask returns the sessions of a task in map order; callers
// sort as needed.
func (m *Manager) SessionsForTask(taskID string) []*ManagedSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ManagedSession
	for _, ms := range m.sessions {
		if ms.TaskID == taskID {
			result = append(result, ms)
		}
	}
	return result
}

// CloseSession closes a specific session by ID.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}

	ms.Close()
	m.log.Info("shell session closed", zap.String("session", sessionID))
	return nil
}

// RemoveSession drops a session from the registry, closing it first.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		ms.Close()
	}
}

// CloseAllForTask closes every session of a task.
func (m *Manager) CloseAllForTask(taskID string) {
	for _, ms := range m.SessionsForTask(taskID) {
		ms.Close()
	}
}

// CleanupIdle reclaims detached sessions idle longer than IdleTimeout and
// drops closed sessions past the same age. Returns how many it reclaimed.
func (m *Manager) CleanupIdle() int {
	if m.IdleTimeout <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-m.IdleTimeout)

	m.mu.RLock()
	var toClean []*ManagedSession
	for _, ms := range m.sessions {
		if ms.State() == SessionDetached && ms.LastActivity().Before(cutoff) {
			toClean = append(toClean, ms)
		}
	}
	m.mu.RUnlock()

	for _, ms := range toClean {
		m.log.Info("cleaning up idle shell session",
			zap.String("session", ms.ID),
			zap.Time("detached_since", ms.LastActivity()))
		ms.Close()
		m.mu.Lock()
		delete(m.sessions, ms.ID)
		m.mu.Unlock()
	}

	m.mu.Lock()
	for id, ms := range m.sessions {
		if ms.State() == SessionClosed && ms.LastActivity().Before(cutoff) {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	return len(toClean)
}

// SessionCount returns the total number of tracked sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveCount returns the number of active or detached sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, ms := range m.sessions {
		state := ms.State()
		if state == SessionActive || state == SessionDetached {
			count++
		}
	}
	return count
}
