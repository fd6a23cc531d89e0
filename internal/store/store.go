// Package store provides SQLite-backed persistence for gridview.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gridfleet/gridview/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = fmt.Errorf("not found")

// ErrBadTransition indicates a status change that the entity cannot make.
var ErrBadTransition = fmt.Errorf("invalid status transition")

// Store provides access to the gridview SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		labels TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_groups (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ordinal INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (workflow_id) REFERENCES workflows(id)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		node_name TEXT,
		image TEXT,
		gpus INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		heartbeat_at DATETIME,
		FOREIGN KEY (group_id) REFERENCES task_groups(id),
		FOREIGN KEY (workflow_id) REFERENCES workflows(id)
	);

	CREATE TABLE IF NOT EXISTS pools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pool_resources (
		id TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		capacity REAL NOT NULL DEFAULT 0,
		allocated REAL NOT NULL DEFAULT 0,
		unit TEXT,
		UNIQUE (pool_id, kind),
		FOREIGN KEY (pool_id) REFERENCES pools(id)
	);

	CREATE TABLE IF NOT EXISTS nodes (
		name TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ready',
		gpu_capacity INTEGER NOT NULL DEFAULT 0,
		gpu_allocated INTEGER NOT NULL DEFAULT 0,
		cpu_millis INTEGER NOT NULL DEFAULT 0,
		memory_bytes INTEGER NOT NULL DEFAULT 0,
		heartbeat_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (pool_id) REFERENCES pools(id)
	);

	CREATE TABLE IF NOT EXISTS gpu_devices (
		node_name TEXT NOT NULL,
		idx INTEGER NOT NULL,
		model TEXT NOT NULL,
		memory_mib INTEGER NOT NULL DEFAULT 0,
		utilization REAL NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (node_name, idx),
		FOREIGN KEY (node_name) REFERENCES nodes(name)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_groups_workflow ON task_groups(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_group ON tasks(group_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_workflow ON tasks(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_nodes_pool ON nodes(pool_id);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Workflow Operations ---

// CreateWorkflow inserts a new workflow.
func (s *Store) CreateWorkflow(name, labels string) (*models.Workflow, error) {
	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    models.WorkflowStatusPending,
		Labels:    labels,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO workflows (id, name, status, labels, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.Status, wf.Labels, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	return wf, nil
}

func scanWorkflow(scan func(...interface{}) error) (*models.Workflow, error) {
	wf := &models.Workflow{}
	var labels sql.NullString
	var startedAt, endedAt sql.NullTime

	err := scan(&wf.ID, &wf.Name, &wf.Status, &labels, &wf.CreatedAt, &wf.UpdatedAt, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	if labels.Valid {
		wf.Labels = labels.String
	}
	if startedAt.Valid {
		wf.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		wf.EndedAt = &endedAt.Time
	}
	return wf, nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Store) GetWorkflow(id string) (*models.Workflow, error) {
	row := s.db.QueryRow(
		`SELECT id, name, status, labels, created_at, updated_at, started_at, ended_at FROM workflows WHERE id = ?`,
		id,
	)
	wf, err := scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns all workflows, optionally filtered by status.
func (s *Store) ListWorkflows(status string) ([]models.Workflow, error) {
	query := `SELECT id, name, status, labels, created_at, updated_at, started_at, ended_at FROM workflows`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// UpdateWorkflowStatus updates a workflow's status, maintaining the
// started/ended timestamps as it enters running or a terminal state.
func (s *Store) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	now := time.Now().UTC()
	var err error
	switch {
	case status == models.WorkflowStatusRunning:
		_, err = s.db.Exec(
			`UPDATE workflows SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
	case status.Terminal():
		_, err = s.db.Exec(
			`UPDATE workflows SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
	default:
		_, err = s.db.Exec(
			`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, id,
		)
	}
	return err
}

// CancelWorkflow marks a workflow and all of its non-terminal groups and
// tasks as canceled in a single transaction.
func (s *Store) CancelWorkflow(id string) (*models.Workflow, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRow(
		`SELECT id, name, status, labels, created_at, updated_at, started_at, ended_at FROM workflows WHERE id = ?`,
		id,
	)
	wf, err := scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	if wf.Status.Terminal() {
		return nil, ErrBadTransition
	}

	_, err = tx.Exec(
		`UPDATE tasks SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ?
		 WHERE workflow_id = ? AND status IN (?, ?)`,
		models.TaskStatusCanceled, now, now, id, models.TaskStatusPending, models.TaskStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel tasks: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE task_groups SET status = ?, updated_at = ?
		 WHERE workflow_id = ? AND status IN (?, ?)`,
		models.WorkflowStatusCanceled, now, id, models.WorkflowStatusPending, models.WorkflowStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel groups: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE workflows SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ? WHERE id = ?`,
		models.WorkflowStatusCanceled, now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	wf.Status = models.WorkflowStatusCanceled
	wf.UpdatedAt = now
	if wf.EndedAt == nil {
		wf.EndedAt = &now
	}
	return wf, nil
}

// --- Task Group Operations ---

// CreateGroup inserts a new task group.
func (s *Store) CreateGroup(workflowID, name string, ordinal int) (*models.TaskGroup, error) {
	now := time.Now().UTC()
	g := &models.TaskGroup{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Name:       name,
		Ordinal:    ordinal,
		Status:     models.WorkflowStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO task_groups (id, workflow_id, name, ordinal, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.WorkflowID, g.Name, g.Ordinal, g.Status, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

// GetGroup retrieves a task group by ID.
func (s *Store) GetGroup(id string) (*models.TaskGroup, error) {
	g := &models.TaskGroup{}
	err := s.db.QueryRow(
		`SELECT id, workflow_id, name, ordinal, status, created_at, updated_at FROM task_groups WHERE id = ?`,
		id,
	).Scan(&g.ID, &g.WorkflowID, &g.Name, &g.Ordinal, &g.Status, &g.CreatedAt, &g.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	return g, nil
}

// ListGroups returns the task groups of a workflow in ordinal order.
func (s *Store) ListGroups(workflowID string) ([]models.TaskGroup, error) {
	rows, err := s.db.Query(
		`SELECT id, workflow_id, name, ordinal, status, created_at, updated_at FROM task_groups WHERE workflow_id = ? ORDER BY ordinal, created_at`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.TaskGroup
	for rows.Next() {
		var g models.TaskGroup
		if err := rows.Scan(&g.ID, &g.WorkflowID, &g.Name, &g.Ordinal, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateGroupStatus updates the status of a task group.
func (s *Store) UpdateGroupStatus(id string, status models.WorkflowStatus) error {
	_, err := s.db.Exec(
		`UPDATE task_groups SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

// --- Task Operations ---

// CreateTask inserts a new task into a group.
func (s *Store) CreateTask(groupID, workflowID, name, image string, gpus int) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:         uuid.New().String(),
		GroupID:    groupID,
		WorkflowID: workflowID,
		Name:       name,
		Image:      image,
		GPUs:       gpus,
		Status:     models.TaskStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, group_id, workflow_id, name, status, image, gpus, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.GroupID, task.WorkflowID, task.Name, task.Status, task.Image, task.GPUs, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func scanTask(scan func(...interface{}) error) (*models.Task, error) {
	task := &models.Task{}
	var nodeName, image sql.NullString
	var exitCode sql.NullInt64
	var startedAt, endedAt, heartbeatAt sql.NullTime

	err := scan(&task.ID, &task.GroupID, &task.WorkflowID, &task.Name, &task.Status,
		&nodeName, &image, &task.GPUs, &exitCode,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &endedAt, &heartbeatAt)
	if err != nil {
		return nil, err
	}
	if nodeName.Valid {
		task.NodeName = nodeName.String
	}
	if image.Valid {
		task.Image = image.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		task.ExitCode = &code
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		task.EndedAt = &endedAt.Time
	}
	if heartbeatAt.Valid {
		task.HeartbeatAt = &heartbeatAt.Time
	}
	return task, nil
}

const taskColumns = `id, group_id, workflow_id, name, status, node_name, image, gpus, exit_code, created_at, updated_at, started_at, ended_at, heartbeat_at`

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns the tasks of a group, optionally filtered by status.
func (s *Store) ListTasks(groupID, status string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE group_id = ?`
	args := []interface{}{groupID}

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	return s.queryTasks(query, args...)
}

// ListTasksByWorkflow returns every task of a workflow.
func (s *Store) ListTasksByWorkflow(workflowID string) ([]models.Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? ORDER BY created_at`, workflowID)
}

func (s *Store) queryTasks(query string, args ...interface{}) ([]models.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ReportTaskStatus applies a status report from a node agent. Entering
// running sets started_at and the heartbeat; a terminal status sets
// ended_at and the exit code. Reports against a terminal task are rejected.
func (s *Store) ReportTaskStatus(id string, status models.TaskStatus, nodeName string, exitCode *int) (*models.Task, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if task.Status.Terminal() {
		return nil, ErrBadTransition
	}

	now := time.Now().UTC()
	switch {
	case status == models.TaskStatusRunning:
		_, err = s.db.Exec(
			`UPDATE tasks SET status = ?, node_name = COALESCE(NULLIF(?, ''), node_name), started_at = COALESCE(started_at, ?), heartbeat_at = ?, updated_at = ? WHERE id = ?`,
			status, nodeName, now, now, now, id,
		)
	case status.Terminal():
		var code sql.NullInt64
		if exitCode != nil {
			code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
		}
		_, err = s.db.Exec(
			`UPDATE tasks SET status = ?, exit_code = ?, ended_at = COALESCE(ended_at, ?), updated_at = ? WHERE id = ?`,
			status, code, now, now, id,
		)
	default:
		_, err = s.db.Exec(
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, id,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetTask(id)
}

// TouchTaskHeartbeat records a liveness heartbeat for a running task.
func (s *Store) TouchTaskHeartbeat(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE tasks SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, models.TaskStatusRunning,
	)
	return err
}

// CancelTask marks a single non-terminal task as canceled.
func (s *Store) CancelTask(id string) (*models.Task, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if task.Status.Terminal() {
		return nil, ErrBadTransition
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE tasks SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ? WHERE id = ?`,
		models.TaskStatusCanceled, now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	return s.GetTask(id)
}

// FailExpiredTasks marks running tasks whose heartbeat is older than the
// cutoff as failed. Returns the IDs of the tasks it failed.
func (s *Store) FailExpiredTasks(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM tasks WHERE status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		models.TaskStatusRunning, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired task: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.db.Exec(
			`UPDATE tasks SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ? WHERE id = ? AND status = ?`,
			models.TaskStatusFailed, now, now, id, models.TaskStatusRunning,
		)
		if err != nil {
			return ids, fmt.Errorf("fail task %s: %w", id, err)
		}
	}
	return ids, nil
}

// GroupStatsForWorkflow aggregates task counts by status per group.
func (s *Store) GroupStatsForWorkflow(workflowID string) (map[string]models.GroupStats, error) {
	rows, err := s.db.Query(
		`SELECT group_id, status, COUNT(*) FROM tasks WHERE workflow_id = ? GROUP BY group_id, status`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]models.GroupStats)
	for rows.Next() {
		var groupID string
		var status models.TaskStatus
		var count int
		if err := rows.Scan(&groupID, &status, &count); err != nil {
			return nil, fmt.Errorf("scan group stats: %w", err)
		}
		st := stats[groupID]
		st.GroupID = groupID
		st.Total += count
		switch status {
		case models.TaskStatusPending:
			st.Pending += count
		case models.TaskStatusRunning:
			st.Running += count
		case models.TaskStatusSucceeded:
			st.Succeeded += count
		case models.TaskStatusFailed:
			st.Failed += count
		case models.TaskStatusCanceled:
			st.Canceled += count
		}
		stats[groupID] = st
	}
	return stats, rows.Err()
}

// --- Pool Operations ---

// CreatePool inserts a new pool.
func (s *Store) CreatePool(name, description string) (*models.Pool, error) {
	now := time.Now().UTC()
	p := &models.Pool{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pools (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pool: %w", err)
	}
	return p, nil
}

// GetPool retrieves a pool by ID.
func (s *Store) GetPool(id string) (*models.Pool, error) {
	p := &models.Pool{}
	var desc sql.NullString
	err := s.db.QueryRow(
		`SELECT p.id, p.name, p.description, p.created_at, p.updated_at,
		        (SELECT COUNT(*) FROM nodes n WHERE n.pool_id = p.id)
		 FROM pools p WHERE p.id = ?`,
		id,
	).Scan(&p.ID, &p.Name, &desc, &p.CreatedAt, &p.UpdatedAt, &p.NodeCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pool: %w", err)
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, nil
}

// ListPools returns all pools with their node counts.
func (s *Store) ListPools() ([]models.Pool, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.name, p.description, p.created_at, p.updated_at,
		        (SELECT COUNT(*) FROM nodes n WHERE n.pool_id = p.id)
		 FROM pools p ORDER BY p.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	var pools []models.Pool
	for rows.Next() {
		var p models.Pool
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt, &p.UpdatedAt, &p.NodeCount); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		if desc.Valid {
			p.Description = desc.String
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// UpsertPoolResource creates or updates one resource dimension of a pool.
func (s *Store) UpsertPoolResource(poolID string, kind models.ResourceKind, capacity, allocated float64, unit string) (*models.PoolResource, error) {
	r := &models.PoolResource{
		ID:        uuid.New().String(),
		PoolID:    poolID,
		Kind:      kind,
		Capacity:  capacity,
		Allocated: allocated,
		Unit:      unit,
	}

	_, err := s.db.Exec(
		`INSERT INTO pool_resources (id, pool_id, kind, capacity, allocated, unit) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (pool_id, kind) DO UPDATE SET capacity = excluded.capacity, allocated = excluded.allocated, unit = excluded.unit`,
		r.ID, r.PoolID, r.Kind, r.Capacity, r.Allocated, r.Unit,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert pool resource: %w", err)
	}
	return r, nil
}

// ListPoolResources returns the resource entries of a pool.
func (s *Store) ListPoolResources(poolID string) ([]models.PoolResource, error) {
	rows, err := s.db.Query(
		`SELECT id, pool_id, kind, capacity, allocated, unit FROM pool_resources WHERE pool_id = ? ORDER BY kind`,
		poolID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pool resources: %w", err)
	}
	defer rows.Close()

	var resources []models.PoolResource
	for rows.Next() {
		var r models.PoolResource
		var unit sql.NullString
		if err := rows.Scan(&r.ID, &r.PoolID, &r.Kind, &r.Capacity, &r.Allocated, &unit); err != nil {
			return nil, fmt.Errorf("scan pool resource: %w", err)
		}
		if unit.Valid {
			r.Unit = unit.String
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// --- Node Operations ---

// UpsertNode creates or updates a node record and stamps its heartbeat.
func (s *Store) UpsertNode(n *models.Node) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO nodes (name, pool_id, status, gpu_capacity, gpu_allocated, cpu_millis, memory_bytes, heartbeat_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   pool_id = excluded.pool_id,
		   status = excluded.status,
		   gpu_capacity = excluded.gpu_capacity,
		   gpu_allocated = excluded.gpu_allocated,
		   cpu_millis = excluded.cpu_millis,
		   memory_bytes = excluded.memory_bytes,
		   heartbeat_at = excluded.heartbeat_at,
		   updated_at = excluded.updated_at`,
		n.Name, n.PoolID, n.Status, n.GPUCapacity, n.GPUAllocated, n.CPUMillis, n.MemoryBytes, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

func scanNode(scan func(...interface{}) error) (*models.Node, error) {
	n := &models.Node{}
	var heartbeat sql.NullTime
	err := scan(&n.Name, &n.PoolID, &n.Status, &n.GPUCapacity, &n.GPUAllocated,
		&n.CPUMillis, &n.MemoryBytes, &heartbeat, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if heartbeat.Valid {
		n.HeartbeatAt = &heartbeat.Time
	}
	return n, nil
}

const nodeColumns = `name, pool_id, status, gpu_capacity, gpu_allocated, cpu_millis, memory_bytes, heartbeat_at, created_at, updated_at`

// GetNode retrieves a node by name, including its GPU devices.
func (s *Store) GetNode(name string) (*models.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE name = ?`, name)
	n, err := scanNode(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}

	devices, err := s.ListGPUDevices(name)
	if err != nil {
		return nil, err
	}
	n.Devices = devices
	return n, nil
}

// ListNodes returns all nodes, optionally filtered by pool.
func (s *Store) ListNodes(poolID string) ([]models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes`
	var args []interface{}
	if poolID != "" {
		query += ` WHERE pool_id = ?`
		args = append(args, poolID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		n, err := scanNode(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// UpdateNodeStatus updates the status of a node.
func (s *Store) UpdateNodeStatus(name string, status models.NodeStatus) error {
	_, err := s.db.Exec(
		`UPDATE nodes SET status = ?, updated_at = ? WHERE name = ?`,
		status, time.Now().UTC(), name,
	)
	return err
}

// MarkStaleNodes flags ready nodes without a recent heartbeat as notready.
// Returns the names of the nodes it flagged.
func (s *Store) MarkStaleNodes(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT name FROM nodes WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		models.NodeStatusReady, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale nodes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan stale node: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		if err := s.UpdateNodeStatus(name, models.NodeStatusNotReady); err != nil {
			return names, err
		}
	}
	return names, nil
}

// UpsertGPUDevice creates or updates one GPU device record of a node.
func (s *Store) UpsertGPUDevice(d *models.GPUDevice) error {
	_, err := s.db.Exec(
		`INSERT INTO gpu_devices (node_name, idx, model, memory_mib, utilization, temperature)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (node_name, idx) DO UPDATE SET
		   model = excluded.model,
		   memory_mib = excluded.memory_mib,
		   utilization = excluded.utilization,
		   temperature = excluded.temperature`,
		d.NodeName, d.Index, d.Model, d.MemoryMiB, d.Utilization, d.Temperature,
	)
	if err != nil {
		return fmt.Errorf("upsert gpu device: %w", err)
	}
	return nil
}

// ListGPUDevices returns the GPU devices of a node in index order.
func (s *Store) ListGPUDevices(nodeName string) ([]models.GPUDevice, error) {
	rows, err := s.db.Query(
		`SELECT node_name, idx, model, memory_mib, utilization, temperature FROM gpu_devices WHERE node_name = ? ORDER BY idx`,
		nodeName,
	)
	if err != nil {
		return nil, fmt.Errorf("query gpu devices: %w", err)
	}
	defer rows.Close()

	var devices []models.GPUDevice
	for rows.Next() {
		var d models.GPUDevice
		if err := rows.Scan(&d.NodeName, &d.Index, &d.Model, &d.MemoryMiB, &d.Utilization, &d.Temperature); err != nil {
			return nil, fmt.Errorf("scan gpu device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// --- Event Operations ---

// AppendEvent inserts an audit event.
func (s *Store) AppendEvent(action, subject, detail string) (*models.Event, error) {
	e := &models.Event{
		ID:        uuid.New().String(),
		Action:    action,
		Subject:   subject,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO events (id, action, subject, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Subject, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// ListEvents returns the most recent audit events, newest first.
func (s *Store) ListEvents(limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, action, subject, detail, created_at FROM events ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.Subject, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
