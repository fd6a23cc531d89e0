package shell

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// rateLimit is the maximum number of input messages allowed per second per
// WebSocket connection. Messages beyond this rate are dropped.
const rateLimit = 200

// rateBurst is the token bucket burst size, allowing short bursts of rapid
// input (e.g. paste operations) before rate limiting kicks in.
const rateBurst = 200

type controlMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TaskResolver reports whether a task exists and may host a shell.
type TaskResolver func(taskID string) error

// Handler serves the per-task shell WebSocket endpoint.
//
// Query parameters:
//   - session: (optional) reconnect to an existing detached session. If
//     omitted or stale, a session is opened for the task — reusing a live
//     detached one when present.
//   - cols, rows: initial terminal size for new sessions.
//
// Binary frames carry raw PTY bytes in both directions. Text frames carry
// JSON control messages; the only control type is "resize".
type Handler struct {
	manager *Manager
	resolve TaskResolver
	log     *zap.Logger
}

// NewHandler creates the WebSocket shell handler.
func NewHandler(manager *Manager, resolve TaskResolver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, resolve: resolve, log: logger}
}

// ServeHTTP upgrades the request and relays the shell session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}
	if err := h.resolve(taskID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn("shell websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	cols, rows := parseSize(r)

	var ms *ManagedSession

	// Try to reconnect to an existing session first.
	if sid := r.URL.Query().Get("session"); sid != "" {
		ms = h.manager.GetSession(sid)
		if ms != nil && ms.TaskID != taskID {
			ms = nil // wrong task
		}
		if ms != nil && ms.State() == SessionClosed {
			ms = nil
		}
		if ms != nil && ms.IsAttached() {
			conn.Close(4409, "session already attached")
			return
		}
	}

	if ms == nil {
		ms, _, err = h.manager.OpenForTask(taskID, cols, rows)
		if err != nil {
			h.log.Error("shell session open failed",
				zap.String("task", taskID), zap.Error(err))
			conn.Close(4500, "failed to start shell")
			return
		}
	}

	conn.SetReadLimit(1024 * 1024)

	// Tell the client its session ID so it can reconnect later.
	info, _ := json.Marshal(map[string]string{
		"type":    "session_info",
		"session": ms.ID,
		"task":    ms.TaskID,
	})
	if err := conn.Write(ctx, websocket.MessageText, info); err != nil {
		return
	}

	// Attach and replay missed output.
	wsWriter := &wsOutputWriter{conn: conn, ctx: ctx}
	history := ms.Attach(wsWriter)
	defer ms.Detach()

	if len(history) > 0 {
		if err := conn.Write(ctx, websocket.MessageBinary, history); err != nil {
			return
		}
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Watch for shell process termination.
	go func() {
		select {
		case <-ms.Done():
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := newTokenBucket(rateBurst, rateLimit)

	// Client -> shell stdin. Control frames bypass the input limiter so a
	// throttled burst cannot swallow a resize.
	for {
		msgType, data, err := conn.Read(relayCtx)
		if err != nil {
			break
		}

		if msgType != websocket.MessageBinary {
			var msg controlMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				ms.Resize(msg.Cols, msg.Rows)
			}
			continue
		}

		if !limiter.allow() {
			continue
		}
		if len(data) > MaxInputMessageSize {
			h.log.Warn("shell input message too large",
				zap.String("session", ms.ID), zap.Int("size", len(data)))
			continue
		}
		if _, err := ms.WriteInput(data); err != nil {
			break
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func parseSize(r *http.Request) (cols, rows uint16) {
	cols, rows = 80, 24
	q := r.URL.Query()
	if c, err := strconv.Atoi(q.Get("cols")); err == nil && c > 0 && c <= MaxResizeCols {
		cols = uint16(c)
	}
	if n, err := strconv.Atoi(q.Get("rows")); err == nil && n > 0 && n <= MaxResizeRows {
		rows = uint16(n)
	}
	return cols, rows
}

// wsOutputWriter wraps a WebSocket connection to implement io.Writer.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// tokenBucket implements a simple token bucket rate limiter for shell input.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token. The refill
// window only advances when whole tokens accrue, so rapid sub-interval
// polling cannot starve the bucket.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	if refill := int(elapsed.Seconds() * float64(tb.refillRate)); refill > 0 {
		tb.tokens += refill
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = now
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
