package tui

import "github.com/gridfleet/gridview/internal/models"

// GroupItem is a task group with its task status counts for the group list.
type GroupItem struct {
	models.TaskGroup
	Stats models.GroupStats
}

// PoolItem is a pool with its resource entries for the pool view.
type PoolItem struct {
	models.Pool
	Resources []models.PoolResource
}

// SessionItem is a shell session summary for the task detail view.
type SessionItem struct {
	ID           string
	TaskID       string
	Shell        string
	State        string
	CreatedAt    string
	LastActivity string
	Attached     bool
}

// SessionStatus is the client-side status of a shell connection. It is
// driven purely by the socket lifecycle; reconnecting after a disconnect
// is always a user action.
type SessionStatus string

const (
	StatusIdle         SessionStatus = "idle"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
)
