package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var shellSessionID string

var shellCmd = &cobra.Command{
	Use:   "shell [task-id]",
	Short: "Attach an interactive shell to a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellSessionID, "session", "", "Reconnect to an existing session")
}

func runShell(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("shell requires a terminal")
	}

	cols, rows, err := term.GetSize(fd)
	if err != nil {
		cols, rows = 80, 24
	}

	url := shellURL(apiAddr, taskID, cols, rows, shellSessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	dialCancel()
	if err != nil {
		return fmt.Errorf("failed to connect to task shell: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	// The first frame identifies the session so the user can reconnect.
	var info struct {
		Type    string `json:"type"`
		Session string `json:"session"`
		Task    string `json:"task"`
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("shell handshake failed: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil || info.Type != "session_info" {
		return fmt.Errorf("unexpected shell handshake")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	restore := func() { _ = term.Restore(fd, oldState) }
	defer restore()

	fmt.Printf("Connected to task %s (session %s). Detach with ctrl+].\r\n", taskID, info.Session)

	go watchResize(ctx, conn, fd)

	// stdin -> shell, with ctrl+] as the detach key.
	go func() {
		defer cancel()
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, 0x1d); i >= 0 {
				if i > 0 {
					_ = conn.Write(ctx, websocket.MessageBinary, chunk[:i])
				}
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		}
	}()

	// shell -> stdout
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			restore()
			if ctx.Err() != nil {
				fmt.Printf("\nDetached. Reconnect with: gridview shell %s --session %s\n", taskID, info.Session)
				return nil
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				fmt.Println("\nShell session ended.")
				return nil
			}
			if status == 4409 {
				return fmt.Errorf("session already attached elsewhere")
			}
			return fmt.Errorf("shell connection lost: %w", err)
		}
		if msgType == websocket.MessageBinary {
			if _, err := os.Stdout.Write(data); err != nil && err != io.ErrShortWrite {
				return err
			}
		}
	}
}

// watchResize forwards terminal size changes as resize control frames.
func watchResize(ctx context.Context, conn *websocket.Conn, fd int) {
	sig, stop := notifyWinch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			msg, _ := json.Marshal(map[string]interface{}{
				"type": "resize",
				"cols": cols,
				"rows": rows,
			})
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

func shellURL(base, taskID string, cols, rows int, session string) string {
	url := "ws" + strings.TrimPrefix(base, "http")
	url += fmt.Sprintf("/api/tasks/%s/shell?cols=%d&rows=%d", taskID, cols, rows)
	if session != "" {
		url += "&session=" + session
	}
	return url
}
