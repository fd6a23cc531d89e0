package main

import (
	"go.uber.org/zap"

	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/store"
)

// seedFixture loads a small demo cluster so the console renders something
// on first run. It is a no-op when workflows already exist.
func seedFixture(s *store.Store, logger *zap.Logger) error {
	existing, err := s.ListWorkflows("")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	pool, err := s.CreatePool("h100-prod", "Production H100 pool")
	if err != nil {
		return err
	}
	if _, err := s.UpsertPoolResource(pool.ID, models.ResourceGPU, 32, 22, "devices"); err != nil {
		return err
	}
	if _, err := s.UpsertPoolResource(pool.ID, models.ResourceCPU, 512000, 310000, "millis"); err != nil {
		return err
	}
	if _, err := s.UpsertPoolResource(pool.ID, models.ResourceMemory, 4096, 2900, "GiB"); err != nil {
		return err
	}

	devPool, err := s.CreatePool("a100-dev", "Development A100 pool")
	if err != nil {
		return err
	}
	if _, err := s.UpsertPoolResource(devPool.ID, models.ResourceGPU, 8, 3, "devices"); err != nil {
		return err
	}

	nodes := []struct {
		name   string
		pool   string
		status models.NodeStatus
		cap    int
		alloc  int
	}{
		{"gpu-node-01", pool.ID, models.NodeStatusReady, 8, 8},
		{"gpu-node-02", pool.ID, models.NodeStatusReady, 8, 6},
		{"gpu-node-03", pool.ID, models.NodeStatusReady, 8, 8},
		{"gpu-node-04", pool.ID, models.NodeStatusCordoned, 8, 0},
		{"dev-node-01", devPool.ID, models.NodeStatusReady, 8, 3},
	}
	for _, n := range nodes {
		err := s.UpsertNode(&models.Node{
			Name:         n.name,
			PoolID:       n.pool,
			Status:       n.status,
			GPUCapacity:  n.cap,
			GPUAllocated: n.alloc,
			CPUMillis:    128000,
			MemoryBytes:  1 << 40,
		})
		if err != nil {
			return err
		}
		for i := 0; i < n.cap; i++ {
			util := 0.0
			if i < n.alloc {
				util = 0.87
			}
			err := s.UpsertGPUDevice(&models.GPUDevice{
				NodeName:    n.name,
				Index:       i,
				Model:       "H100-SXM5-80GB",
				MemoryMiB:   81920,
				Utilization: util,
				Temperature: 52 + util*20,
			})
			if err != nil {
				return err
			}
		}
	}

	wf, err := s.CreateWorkflow("llm-pretrain-7b", "team=research,priority=high")
	if err != nil {
		return err
	}

	prep, err := s.CreateGroup(wf.ID, "data-prep", 0)
	if err != nil {
		return err
	}
	train, err := s.CreateGroup(wf.ID, "train", 1)
	if err != nil {
		return err
	}

	prepTask, err := s.CreateTask(prep.ID, wf.ID, "tokenize-corpus", "prep:v3", 0)
	if err != nil {
		return err
	}
	code := 0
	if _, err := s.ReportTaskStatus(prepTask.ID, models.TaskStatusRunning, "gpu-node-02", nil); err != nil {
		return err
	}
	if _, err := s.ReportTaskStatus(prepTask.ID, models.TaskStatusSucceeded, "gpu-node-02", &code); err != nil {
		return err
	}

	workers := []string{"gpu-node-01", "gpu-node-02", "gpu-node-03"}
	for i, node := range workers {
		task, err := s.CreateTask(train.ID, wf.ID, workerName(i), "train:v12", 8)
		if err != nil {
			return err
		}
		if _, err := s.ReportTaskStatus(task.ID, models.TaskStatusRunning, node, nil); err != nil {
			return err
		}
	}

	if _, err := s.CreateWorkflow("eval-suite-nightly", "team=research"); err != nil {
		return err
	}

	logger.Info("seeded demo fixture",
		zap.String("workflow", wf.ID),
		zap.Int("nodes", len(nodes)))
	return nil
}

func workerName(i int) string {
	return "train-worker-" + string(rune('0'+i))
}
