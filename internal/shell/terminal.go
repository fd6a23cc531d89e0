// Package shell provides per-task interactive PTY sessions multiplexed
// over WebSocket connections, with reconnect support and scrollback replay.
package shell

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// DefaultShell is used when no shell command is configured.
const DefaultShell = "/bin/bash"

// MaxInputMessageSize caps a single client input message.
const MaxInputMessageSize = 64 * 1024

// Upper bounds for resize requests from clients.
const (
	MaxResizeCols = 1000
	MaxResizeRows = 500
)

// ValidateShell rejects shell commands with characters that could smuggle
// extra arguments. An empty command means DefaultShell.
func ValidateShell(command string) error {
	if command == "" {
		return nil
	}
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("shell command is blank")
	}
	if strings.ContainsAny(command, ";|&$`\n\r") {
		return fmt.Errorf("shell command contains forbidden characters")
	}
	return nil
}

// Pty is the I/O surface of a terminal session. *Terminal implements it;
// tests substitute in-memory fakes.
type Pty interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Close()
}

// Terminal is a live PTY running a shell process.
type Terminal struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool
}

// StartTerminal launches the shell command under a new PTY with the given
// initial size.
func StartTerminal(command string, cols, rows uint16) (Pty, error) {
	if err := ValidateShell(command); err != nil {
		return nil, err
	}
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	parts := strings.Fields(command)
	if len(parts) == 0 {
		parts = []string{DefaultShell}
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &Terminal{cmd: cmd, ptmx: ptmx}, nil
}

// Read reads PTY output.
func (t *Terminal) Read(p []byte) (int, error) {
	return t.ptmx.Read(p)
}

// Write feeds input to the shell.
func (t *Terminal) Write(p []byte) (int, error) {
	return t.ptmx.Write(p)
}

// Resize changes the PTY window size, clamping to the allowed bounds.
func (t *Terminal) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("resize to zero dimension")
	}
	if cols > MaxResizeCols {
		cols = MaxResizeCols
	}
	if rows > MaxResizeRows {
		rows = MaxResizeRows
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close terminates the shell process and releases the PTY.
func (t *Terminal) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.ptmx.Close()
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
}
