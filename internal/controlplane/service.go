// Package controlplane provides the HTTP API and service layer for gridview.
package controlplane

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gridfleet/gridview/internal/audit"
	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/shell"
	"github.com/gridfleet/gridview/internal/store"
)

// Service provides the control plane business logic.
type Service struct {
	store  *store.Store
	audit  *audit.Recorder
	shells *shell.Manager
}

// NewService creates a new control plane service.
func NewService(s *store.Store, rec *audit.Recorder, shells *shell.Manager) *Service {
	return &Service{
		store:  s,
		audit:  rec,
		shells: shells,
	}
}

// Shells exposes the shell session manager for the WebSocket handler.
func (s *Service) Shells() *shell.Manager {
	return s.shells
}

// --- Workflow Operations ---

// GroupSpec describes one task group in a workflow creation request.
type GroupSpec struct {
	Name  string     `json:"name"`
	Tasks []TaskSpec `json:"tasks"`
}

// TaskSpec describes one task in a workflow creation request.
type TaskSpec struct {
	Name  string `json:"name"`
	Image string `json:"image"`
	GPUs  int    `json:"gpus"`
	Count int    `json:"count"` // replicas; 0 means 1
}

// CreateWorkflow creates a workflow with its groups and tasks.
func (s *Service) CreateWorkflow(name, labels string, groups []GroupSpec) (*models.Workflow, error) {
	wf, err := s.store.CreateWorkflow(name, labels)
	if err != nil {
		return nil, err
	}

	for i, gs := range groups {
		g, err := s.store.CreateGroup(wf.ID, gs.Name, i)
		if err != nil {
			return nil, err
		}
		for _, ts := range gs.Tasks {
			count := ts.Count
			if count <= 0 {
				count = 1
			}
			for j := 0; j < count; j++ {
				taskName := ts.Name
				if count > 1 {
					taskName = fmt.Sprintf("%s-%d", ts.Name, j)
				}
				if _, err := s.store.CreateTask(g.ID, wf.ID, taskName, ts.Image, ts.GPUs); err != nil {
					return nil, err
				}
			}
		}
	}

	s.audit.Record("workflow.create", wf.ID, map[string]interface{}{"name": name, "groups": len(groups)})
	return wf, nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Service) GetWorkflow(id string) (*models.Workflow, error) {
	wf, err := s.store.GetWorkflow(id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, ErrWorkflowNotFound
	}
	return wf, nil
}

// ListWorkflows returns workflows, optionally filtered by status.
func (s *Service) ListWorkflows(status string) ([]models.Workflow, error) {
	return s.store.ListWorkflows(status)
}

// GroupWithStats pairs a task group with its task status counts.
type GroupWithStats struct {
	models.TaskGroup
	Stats models.GroupStats `json:"stats"`
}

// ListGroups returns the groups of a workflow with per-group task stats.
func (s *Service) ListGroups(workflowID string) ([]GroupWithStats, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, ErrWorkflowNotFound
	}

	groups, err := s.store.ListGroups(workflowID)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.GroupStatsForWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	result := make([]GroupWithStats, 0, len(groups))
	for _, g := range groups {
		result = append(result, GroupWithStats{TaskGroup: g, Stats: stats[g.ID]})
	}
	return result, nil
}

// CancelWorkflow cancels a workflow and its non-terminal groups and tasks.
func (s *Service) CancelWorkflow(id string) (*models.Workflow, error) {
	wf, err := s.store.CancelWorkflow(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if errors.Is(err, store.ErrBadTransition) {
		return nil, ErrTerminalState
	}
	if err != nil {
		return nil, err
	}

	s.audit.Record("workflow.cancel", id, nil)
	return wf, nil
}

// --- Task Operations ---

// ListTasks returns the tasks of a group, optionally filtered by status.
func (s *Service) ListTasks(groupID, status string) ([]models.Task, error) {
	g, err := s.store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}
	return s.store.ListTasks(groupID, status)
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(id string) (*models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// ReportTaskStatus applies a status report from a node agent. A bare
// heartbeat (empty status) only refreshes the liveness timestamp.
func (s *Service) ReportTaskStatus(id string, status models.TaskStatus, nodeName string, exitCode *int) (*models.Task, error) {
	if status == "" {
		if err := s.store.TouchTaskHeartbeat(id); err != nil {
			return nil, err
		}
		return s.GetTask(id)
	}

	task, err := s.store.ReportTaskStatus(id, status, nodeName, exitCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if errors.Is(err, store.ErrBadTransition) {
		return nil, ErrTerminalState
	}
	return task, err
}

// CancelTask cancels a single task and closes any shells running on it.
func (s *Service) CancelTask(id string) (*models.Task, error) {
	task, err := s.store.CancelTask(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if errors.Is(err, store.ErrBadTransition) {
		return nil, ErrTerminalState
	}
	if err != nil {
		return nil, err
	}

	if s.shells != nil {
		s.shells.CloseAllForTask(id)
	}
	s.audit.Record("task.cancel", id, nil)
	return task, nil
}

// --- Pool Operations ---

// PoolWithResources pairs a pool with its resource entries.
type PoolWithResources struct {
	models.Pool
	Resources []models.PoolResource `json:"resources"`
}

// ListPools returns all pools with their resource rollups.
func (s *Service) ListPools() ([]PoolWithResources, error) {
	pools, err := s.store.ListPools()
	if err != nil {
		return nil, err
	}

	result := make([]PoolWithResources, 0, len(pools))
	for _, p := range pools {
		resources, err := s.store.ListPoolResources(p.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, PoolWithResources{Pool: p, Resources: resources})
	}
	return result, nil
}

// ListPoolResources returns the resource entries of a pool.
func (s *Service) ListPoolResources(poolID string) ([]models.PoolResource, error) {
	p, err := s.store.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPoolNotFound
	}
	return s.store.ListPoolResources(poolID)
}

// --- Node Operations ---

// ListNodes returns nodes, optionally filtered by pool.
func (s *Service) ListNodes(poolID string) ([]models.Node, error) {
	return s.store.ListNodes(poolID)
}

// GetNode retrieves a node by name, including its GPU devices.
func (s *Service) GetNode(name string) (*models.Node, error) {
	n, err := s.store.GetNode(name)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

// --- Shell Session Operations ---

// SessionInfo is the API projection of a managed shell session.
type SessionInfo struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	Shell        string `json:"shell"`
	State        string `json:"state"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
	Attached     bool   `json:"attached"`
}

// ListSessions returns the shell sessions of a task, newest first.
func (s *Service) ListSessions(taskID string) ([]SessionInfo, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}

	sessions := s.shells.SessionsForTask(taskID)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	infos := make([]SessionInfo, 0, len(sessions))
	for _, ms := range sessions {
		infos = append(infos, SessionInfo{
			ID:           ms.ID,
			TaskID:       ms.TaskID,
			Shell:        ms.Shell,
			State:        string(ms.State()),
			CreatedAt:    ms.CreatedAt.UTC().Format(time.RFC3339),
			LastActivity: ms.LastActivity().UTC().Format(time.RFC3339),
			Attached:     ms.IsAttached(),
		})
	}
	return infos, nil
}

// CloseSession closes a shell session of a task and drops it from the
// registry.
func (s *Service) CloseSession(taskID, sessionID string) error {
	ms := s.shells.GetSession(sessionID)
	if ms == nil || ms.TaskID != taskID {
		return ErrSessionNotFound
	}
	s.shells.RemoveSession(sessionID)
	s.audit.Record("shell.close", sessionID, map[string]string{"task_id": taskID})
	return nil
}

// ResolveTask reports whether a task exists; used by the shell handler.
func (s *Service) ResolveTask(taskID string) error {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	return nil
}

// --- Event Operations ---

// RecentEvents returns the latest audit events.
func (s *Service) RecentEvents(limit int) ([]models.Event, error) {
	return s.audit.Recent(limit)
}
