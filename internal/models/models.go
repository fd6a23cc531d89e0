// Package models defines the core domain types for gridview.
package models

import "time"

// WorkflowStatus represents the current state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusSucceeded WorkflowStatus = "succeeded"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCanceled  WorkflowStatus = "canceled"
)

// Terminal reports whether the status is a final one.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusSucceeded || s == WorkflowStatusFailed || s == WorkflowStatusCanceled
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// Terminal reports whether the status is a final one.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCanceled
}

// NodeStatus represents the health of a compute node.
type NodeStatus string

const (
	NodeStatusReady    NodeStatus = "ready"
	NodeStatusNotReady NodeStatus = "notready"
	NodeStatusCordoned NodeStatus = "cordoned"
)

// Workflow is a top-level unit of work composed of task groups.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	Labels    string         `json:"labels,omitempty"` // comma-separated
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// TaskGroup is a collection of related tasks within a workflow.
type TaskGroup struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	Ordinal    int            `json:"ordinal"`
	Status     WorkflowStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Task is the smallest unit of execution, e.g. a single container run.
type Task struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"group_id"`
	WorkflowID  string     `json:"workflow_id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	NodeName    string     `json:"node_name,omitempty"`
	Image       string     `json:"image,omitempty"`
	GPUs        int        `json:"gpus"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// Duration returns the task's wall-clock duration. For running tasks the
// caller supplies the current time so every row shares one clock tick.
func (t *Task) Duration(now time.Time) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := now
	if t.EndedAt != nil {
		end = *t.EndedAt
	}
	if end.Before(*t.StartedAt) {
		return 0
	}
	return end.Sub(*t.StartedAt)
}

// ResourceKind identifies a pool resource dimension.
type ResourceKind string

const (
	ResourceGPU     ResourceKind = "gpu"
	ResourceCPU     ResourceKind = "cpu"
	ResourceMemory  ResourceKind = "memory"
	ResourceStorage ResourceKind = "storage"
)

// Pool is a named partition of cluster capacity.
type Pool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	NodeCount   int       `json:"node_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PoolResource is one capacity dimension of a pool.
type PoolResource struct {
	ID        string       `json:"id"`
	PoolID    string       `json:"pool_id"`
	Kind      ResourceKind `json:"kind"`
	Capacity  float64      `json:"capacity"`
	Allocated float64      `json:"allocated"`
	Unit      string       `json:"unit,omitempty"`
}

// Utilization returns allocated/capacity clamped to [0, 1].
func (r *PoolResource) Utilization() float64 {
	if r.Capacity <= 0 {
		return 0
	}
	u := r.Allocated / r.Capacity
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}

// Node is a single compute host within a pool.
type Node struct {
	Name         string      `json:"name"`
	PoolID       string      `json:"pool_id"`
	Status       NodeStatus  `json:"status"`
	GPUCapacity  int         `json:"gpu_capacity"`
	GPUAllocated int         `json:"gpu_allocated"`
	CPUMillis    int64       `json:"cpu_millis"`
	MemoryBytes  int64       `json:"memory_bytes"`
	HeartbeatAt  *time.Time  `json:"heartbeat_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Devices      []GPUDevice `json:"devices,omitempty"`
}

// GPUDevice describes one accelerator installed in a node.
type GPUDevice struct {
	NodeName    string  `json:"node_name"`
	Index       int     `json:"index"`
	Model       string  `json:"model"`
	MemoryMiB   int     `json:"memory_mib"`
	Utilization float64 `json:"utilization"`
	Temperature float64 `json:"temperature"`
}

// GroupStats summarizes the tasks of a group by status.
type GroupStats struct {
	GroupID   string `json:"group_id"`
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Canceled  int    `json:"canceled"`
}

// Event records a control action for audit purposes.
type Event struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
