// Package reconcile rolls task statuses up to group and workflow statuses.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridfleet/gridview/internal/audit"
	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/store"
)

// Reconciler periodically derives group and workflow statuses from their
// tasks, fails running tasks whose heartbeat expired, and flags nodes that
// stopped reporting.
type Reconciler struct {
	store *store.Store
	audit *audit.Recorder
	log   *zap.Logger

	// Interval is how often a reconcile pass runs.
	Interval time.Duration
	// HeartbeatTTL is how stale a running task's heartbeat may be before
	// the task is failed. Zero disables heartbeat expiry.
	HeartbeatTTL time.Duration
	// NodeHeartbeatTTL is the same cutoff for node heartbeats. Zero
	// disables stale-node marking.
	NodeHeartbeatTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler with the given pass interval.
func New(s *store.Store, rec *audit.Recorder, interval time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:    s,
		audit:    rec,
		log:      logger,
		Interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the reconcile loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.loop()
	r.log.Info("reconciler started", zap.Duration("interval", r.Interval))
}

// Stop gracefully stops the reconcile loop.
func (r *Reconciler) Stop() {
	r.cancel()
	r.wg.Wait()
	r.log.Info("reconciler stopped")
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Pass(); err != nil {
				r.log.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// Pass runs one full reconcile: heartbeat expiry, then status roll-up,
// then stale-node marking. Exported so tests and the daemon can force a
// pass without waiting for the ticker.
func (r *Reconciler) Pass() error {
	if r.HeartbeatTTL > 0 {
		cutoff := time.Now().Add(-r.HeartbeatTTL)
		failed, err := r.store.FailExpiredTasks(cutoff)
		if err != nil {
			return err
		}
		for _, id := range failed {
			r.log.Warn("task heartbeat expired", zap.String("task", id))
			r.audit.Record("task.heartbeat_expired", id, nil)
		}
	}

	if err := r.rollUp(); err != nil {
		return err
	}

	if r.NodeHeartbeatTTL > 0 {
		cutoff := time.Now().Add(-r.NodeHeartbeatTTL)
		stale, err := r.store.MarkStaleNodes(cutoff)
		if err != nil {
			return err
		}
		for _, name := range stale {
			r.log.Warn("node heartbeat expired", zap.String("node", name))
		}
	}

	return nil
}

// rollUp derives group statuses from tasks and workflow statuses from
// groups for every non-terminal workflow.
func (r *Reconciler) rollUp() error {
	workflows, err := r.store.ListWorkflows("")
	if err != nil {
		return err
	}

	for _, wf := range workflows {
		if wf.Status.Terminal() {
			continue
		}

		groups, err := r.store.ListGroups(wf.ID)
		if err != nil {
			return err
		}

		groupStatuses := make([]models.WorkflowStatus, 0, len(groups))
		for _, g := range groups {
			tasks, err := r.store.ListTasks(g.ID, "")
			if err != nil {
				return err
			}

			derived := foldTasks(tasks)
			if derived != g.Status {
				if err := r.store.UpdateGroupStatus(g.ID, derived); err != nil {
					return err
				}
			}
			groupStatuses = append(groupStatuses, derived)
		}

		derived := foldGroups(groupStatuses)
		if derived != wf.Status {
			r.log.Info("workflow status changed",
				zap.String("workflow", wf.ID),
				zap.String("from", string(wf.Status)),
				zap.String("to", string(derived)))
			if err := r.store.UpdateWorkflowStatus(wf.ID, derived); err != nil {
				return err
			}
		}
	}

	return nil
}

// foldTasks derives a group status from its tasks. Failure dominates,
// then cancellation, then success; any running task keeps the group
// running, and a partially finished group counts as running too.
func foldTasks(tasks []models.Task) models.WorkflowStatus {
	if len(tasks) == 0 {
		return models.WorkflowStatusPending
	}

	var running, pending, succeeded, failed, canceled int
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusRunning:
			running++
		case models.TaskStatusPending:
			pending++
		case models.TaskStatusSucceeded:
			succeeded++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusCanceled:
			canceled++
		}
	}

	switch {
	case running > 0:
		return models.WorkflowStatusRunning
	case pending > 0 && (succeeded > 0 || failed > 0 || canceled > 0):
		return models.WorkflowStatusRunning
	case pending > 0:
		return models.WorkflowStatusPending
	case failed > 0:
		return models.WorkflowStatusFailed
	case canceled > 0:
		return models.WorkflowStatusCanceled
	default:
		return models.WorkflowStatusSucceeded
	}
}

// foldGroups applies the same fold over group statuses.
func foldGroups(groups []models.WorkflowStatus) models.WorkflowStatus {
	if len(groups) == 0 {
		return models.WorkflowStatusPending
	}

	var running, pending, succeeded, failed, canceled int
	for _, st := range groups {
		switch st {
		case models.WorkflowStatusRunning:
			running++
		case models.WorkflowStatusPending:
			pending++
		case models.WorkflowStatusSucceeded:
			succeeded++
		case models.WorkflowStatusFailed:
			failed++
		case models.WorkflowStatusCanceled:
			canceled++
		}
	}

	switch {
	case running > 0:
		return models.WorkflowStatusRunning
	case pending > 0 && (succeeded > 0 || failed > 0 || canceled > 0):
		return models.WorkflowStatusRunning
	case pending > 0:
		return models.WorkflowStatusPending
	case failed > 0:
		return models.WorkflowStatusFailed
	case canceled > 0:
		return models.WorkflowStatusCanceled
	default:
		return models.WorkflowStatusSucceeded
	}
}
