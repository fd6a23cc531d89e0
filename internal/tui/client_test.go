package tui

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/workflows", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") == "running" {
			w.Write([]byte(`[{"id":"wf-1","name":"train","status":"running","created_at":"2026-08-20T10:00:00Z","updated_at":"2026-08-20T10:00:00Z"}]`))
			return
		}
		w.Write([]byte(`[
			{"id":"wf-1","name":"train","status":"running","created_at":"2026-08-20T10:00:00Z","updated_at":"2026-08-20T10:00:00Z"},
			{"id":"wf-2","name":"eval","status":"pending","created_at":"2026-08-21T10:00:00Z","updated_at":"2026-08-21T10:00:00Z"}
		]`))
	})
	mux.HandleFunc("/api/workflows/wf-1/groups", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"g-1","workflow_id":"wf-1","name":"workers","ordinal":0,"status":"running",
			"created_at":"2026-08-20T10:00:00Z","updated_at":"2026-08-20T10:00:00Z",
			"stats":{"group_id":"g-1","total":4,"running":2,"succeeded":2}}]`))
	})
	mux.HandleFunc("/api/groups/g-1/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"t-1","group_id":"g-1","workflow_id":"wf-1","name":"worker-0","status":"running",
			"node_name":"gpu-node-01","gpus":8,"created_at":"2026-08-20T10:00:00Z","updated_at":"2026-08-20T10:00:00Z"}]`))
	})
	mux.HandleFunc("/api/pools", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"p-1","name":"h100","node_count":4,
			"created_at":"2026-08-20T10:00:00Z","updated_at":"2026-08-20T10:00:00Z",
			"resources":[{"id":"r-1","pool_id":"p-1","kind":"gpu","capacity":32,"allocated":24,"unit":"devices"}]}]`))
	})
	mux.HandleFunc("/api/tasks/t-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"t-1","status":"canceled"}`))
	})
	mux.HandleFunc("/api/tasks/gone/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"task not found"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientListWorkflows(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	workflows, err := c.ListWorkflows("")
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(workflows) != 2 {
		t.Fatalf("Expected 2 workflows, got %d", len(workflows))
	}
	if workflows[0].Name != "train" {
		t.Errorf("Expected train, got %s", workflows[0].Name)
	}

	running, err := c.ListWorkflows("running")
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(running) != 1 {
		t.Errorf("Expected 1 running workflow, got %d", len(running))
	}
}

func TestClientListGroups(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	groups, err := c.ListGroups("wf-1")
	if err != nil {
		t.Fatalf("ListGroups failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(groups))
	}
	if groups[0].Name != "workers" || groups[0].Stats.Total != 4 || groups[0].Stats.Running != 2 {
		t.Errorf("Unexpected group: %+v", groups[0])
	}
}

func TestClientListTasks(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	tasks, err := c.ListTasks("g-1", "")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].NodeName != "gpu-node-01" || tasks[0].GPUs != 8 {
		t.Errorf("Unexpected tasks: %+v", tasks)
	}
}

func TestClientListPools(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	pools, err := c.ListPools()
	if err != nil {
		t.Fatalf("ListPools failed: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("Expected 1 pool, got %d", len(pools))
	}
	if len(pools[0].Resources) != 1 {
		t.Fatalf("Expected 1 resource, got %d", len(pools[0].Resources))
	}
	if got := pools[0].Resources[0].Utilization(); got != 0.75 {
		t.Errorf("Expected utilization 0.75, got %f", got)
	}
}

func TestClientErrorSurface(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	if err := c.CancelTask("t-1"); err != nil {
		t.Errorf("CancelTask failed: %v", err)
	}

	err := c.CancelTask("gone")
	if err == nil {
		t.Fatal("Expected error for missing task")
	}
	if got := err.Error(); got != "API error: task not found" {
		t.Errorf("Unexpected error text: %q", got)
	}
}

func TestClientCheckHealth(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	ok, err := c.CheckHealth()
	if err != nil || !ok {
		t.Errorf("Expected healthy, got ok=%v err=%v", ok, err)
	}

	down := NewClient("http://127.0.0.1:1")
	if ok, _ := down.CheckHealth(); ok {
		t.Error("Expected unhealthy for unreachable daemon")
	}
}
