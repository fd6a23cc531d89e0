package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrGroupNotFound    = errors.New("task group not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrPoolNotFound     = errors.New("pool not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrSessionNotFound  = errors.New("shell session not found")
	ErrTerminalState    = errors.New("entity is in a terminal state")
)
