package tui

import "github.com/gridfleet/gridview/internal/models"

// TaskStats aggregates the loaded task list for the summary line.
type TaskStats struct {
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Canceled  int
	GPUs      int // GPUs requested by non-terminal tasks
}

// statsCache memoizes the aggregation so View can call it every frame;
// it recomputes only when the task slice is replaced.
type statsCache struct {
	tasks []models.Task
	stats TaskStats
}

// For returns the stats of the given task list, computing them at most
// once per slice.
func (c *statsCache) For(tasks []models.Task) TaskStats {
	if sameSlice(c.tasks, tasks) {
		return c.stats
	}
	c.tasks = tasks
	c.stats = computeStats(tasks)
	return c.stats
}

func sameSlice(a, b []models.Task) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

func computeStats(tasks []models.Task) TaskStats {
	var s TaskStats
	s.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending:
			s.Pending++
		case models.TaskStatusRunning:
			s.Running++
		case models.TaskStatusSucceeded:
			s.Succeeded++
		case models.TaskStatusFailed:
			s.Failed++
		case models.TaskStatusCanceled:
			s.Canceled++
		}
		if !t.Status.Terminal() {
			s.GPUs += t.GPUs
		}
	}
	return s
}
