package shell

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

// fakePty is an in-memory Pty. Output written via emit() appears on Read;
// input written by the session accumulates in input.
type fakePty struct {
	mu      sync.Mutex
	r       *io.PipeReader
	w       *io.PipeWriter
	input   bytes.Buffer
	cols    uint16
	rows    uint16
	closed  bool
	closeFn sync.Once
}

func newFakePty() *fakePty {
	r, w := io.Pipe()
	return &fakePty{r: r, w: w}
}

func (f *fakePty) emit(p []byte) { f.w.Write(p) }

func (f *fakePty) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakePty) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input.Write(p)
}

func (f *fakePty) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cols, f.rows = cols, rows
	return nil
}

func (f *fakePty) Close() {
	f.closeFn.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.w.Close()
		f.r.Close()
	})
}

func (f *fakePty) inputString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input.String()
}

func newTestManager(t *testing.T) (*Manager, *fakePty) {
	t.Helper()
	fake := newFakePty()
	m := NewManager("/bin/true", nil)
	m.start = func(command string, cols, rows uint16) (Pty, error) {
		return fake, nil
	}
	return m, fake
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestOpenForTask_CreatesActiveSession(t *testing.T) {
	m, _ := newTestManager(t)

	ms, reused, err := m.OpenForTask("task-1", 80, 24)
	if err != nil {
		t.Fatalf("OpenForTask failed: %v", err)
	}
	if reused {
		t.Error("First open should not reuse")
	}
	if ms.State() != SessionActive {
		t.Errorf("Expected active, got %s", ms.State())
	}
	if m.SessionCount() != 1 || m.ActiveCount() != 1 {
		t.Errorf("Expected 1 session, got %d/%d", m.SessionCount(), m.ActiveCount())
	}
}

func TestOpenForTask_ReusesDetachedSession(t *testing.T) {
	m, _ := newTestManager(t)

	ms, _, err := m.OpenForTask("task-1", 80, 24)
	if err != nil {
		t.Fatalf("OpenForTask failed: %v", err)
	}
	ms.Detach()
	if ms.State() != SessionDetached {
		t.Fatalf("Expected detached, got %s", ms.State())
	}

	again, reused, err := m.OpenForTask("task-1", 80, 24)
	if err != nil {
		t.Fatalf("Second OpenForTask failed: %v", err)
	}
	if !reused {
		t.Error("Expected reuse of detached session")
	}
	if again.ID != ms.ID {
		t.Error("Expected the same session back")
	}
	if m.SessionCount() != 1 {
		t.Errorf("Expected 1 session, got %d", m.SessionCount())
	}
}

func TestOpenForTask_DifferentTaskGetsNewSession(t *testing.T) {
	fakes := []*fakePty{newFakePty(), newFakePty()}
	next := 0
	m := NewManager("", nil)
	m.start = func(command string, cols, rows uint16) (Pty, error) {
		p := fakes[next]
		next++
		return p, nil
	}

	a, _, _ := m.OpenForTask("task-1", 80, 24)
	a.Detach()
	b, reused, err := m.OpenForTask("task-2", 80, 24)
	if err != nil {
		t.Fatalf("OpenForTask failed: %v", err)
	}
	if reused {
		t.Error("Detached session of another task must not be reused")
	}
	if a.ID == b.ID {
		t.Error("Expected distinct sessions")
	}
}

func TestAttachReplaysScrollbackAndForwards(t *testing.T) {
	m, fake := newTestManager(t)

	ms, _, _ := m.OpenForTask("task-1", 80, 24)
	ms.Detach()

	fake.emit([]byte("missed output"))
	waitFor(t, "scrollback", func() bool { return ms.Scrollback.Len() > 0 })

	var sink bytes.Buffer
	history := ms.Attach(&sink)
	if !bytes.Equal(history, []byte("missed output")) {
		t.Errorf("Expected replayed history, got %q", history)
	}
	if ms.State() != SessionActive {
		t.Errorf("Expected active after attach, got %s", ms.State())
	}

	fake.emit([]byte(" live"))
	waitFor(t, "forwarded output", func() bool {
		return bytes.Contains(sink.Bytes(), []byte(" live"))
	})
}

func TestWriteInputReachesPty(t *testing.T) {
	m, fake := newTestManager(t)

	ms, _, _ := m.OpenForTask("task-1", 80, 24)
	if _, err := ms.WriteInput([]byte("ls\n")); err != nil {
		t.Fatalf("WriteInput failed: %v", err)
	}
	if fake.inputString() != "ls\n" {
		t.Errorf("Expected input 'ls\\n', got %q", fake.inputString())
	}
}

func TestSessionClosesWhenPtyEnds(t *testing.T) {
	m, fake := newTestManager(t)

	ms, _, _ := m.OpenForTask("task-1", 80, 24)
	fake.Close()

	select {
	case <-ms.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done channel not closed after PTY end")
	}
	waitFor(t, "closed state", func() bool { return ms.State() == SessionClosed })

	if _, err := ms.WriteInput([]byte("x")); err == nil {
		t.Error("WriteInput on closed session should fail")
	}
}

func TestCloseSessionAndRemove(t *testing.T) {
	m, _ := newTestManager(t)

	ms, _, _ := m.OpenForTask("task-1", 80, 24)
	if err := m.CloseSession(ms.ID); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if ms.State() != SessionClosed {
		t.Errorf("Expected closed, got %s", ms.State())
	}
	if err := m.CloseSession("nope"); err == nil {
		t.Error("Expected error for unknown session")
	}

	m.RemoveSession(ms.ID)
	if m.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions after remove, got %d", m.SessionCount())
	}
}

func TestCleanupIdle(t *testing.T) {
	m, _ := newTestManager(t)
	m.IdleTimeout = 10 * time.Millisecond

	ms, _, _ := m.OpenForTask("task-1", 80, 24)
	ms.Detach()

	time.Sleep(30 * time.Millisecond)

	cleaned := m.CleanupIdle()
	if cleaned != 1 {
		t.Errorf("Expected 1 cleaned session, got %d", cleaned)
	}
	if m.SessionCount() != 0 {
		t.Errorf("Expected empty registry, got %d", m.SessionCount())
	}
}

func TestValidateShell(t *testing.T) {
	if err := ValidateShell(""); err != nil {
		t.Errorf("Empty shell should be valid: %v", err)
	}
	if err := ValidateShell("/bin/bash -l"); err != nil {
		t.Errorf("Plain command should be valid: %v", err)
	}
	if err := ValidateShell("/bin/sh; rm -rf /"); err == nil {
		t.Error("Command with semicolon should be rejected")
	}
	if err := ValidateShell(" "); err == nil {
		t.Error("Whitespace-only command should be rejected")
	}
	if err := ValidateShell("\t\n"); err == nil {
		t.Error("Whitespace-only command should be rejected")
	}
}
