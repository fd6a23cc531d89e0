package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gridfleet/gridview/internal/audit"
	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/shell"
	"github.com/gridfleet/gridview/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := NewService(s, audit.NewRecorder(s), shell.NewManager("/bin/true", nil))
	srv := httptest.NewServer(NewServer(svc, "", nil).Router())
	t.Cleanup(srv.Close)
	return srv, s
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	decode(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("Expected status ok, got %q", body.Status)
	}
}

func TestCreateAndGetWorkflow(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{
		Name: "train-llm",
		Groups: []GroupSpec{
			{Name: "workers", Tasks: []TaskSpec{{Name: "worker", Image: "train:v1", GPUs: 8, Count: 3}}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	var wf models.Workflow
	decode(t, resp, &wf)
	if wf.Name != "train-llm" || wf.Status != models.WorkflowStatusPending {
		t.Errorf("Unexpected workflow: %+v", wf)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workflows/"+wf.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var got models.Workflow
	decode(t, resp, &got)
	if got.ID != wf.ID {
		t.Errorf("Expected workflow %s, got %s", wf.ID, got.ID)
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetWorkflow_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/workflows/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListGroupsWithStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{
		Name: "wf",
		Groups: []GroupSpec{
			{Name: "prep", Tasks: []TaskSpec{{Name: "download"}}},
			{Name: "train", Tasks: []TaskSpec{{Name: "worker", GPUs: 4, Count: 2}}},
		},
	})
	var wf models.Workflow
	decode(t, resp, &wf)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workflows/"+wf.ID+"/groups", nil)
	var groups []GroupWithStats
	decode(t, resp, &groups)

	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if groups[0].Name != "prep" || groups[1].Name != "train" {
		t.Errorf("Groups out of order: %s, %s", groups[0].Name, groups[1].Name)
	}
	if groups[1].Stats.Total != 2 || groups[1].Stats.Pending != 2 {
		t.Errorf("Unexpected train stats: %+v", groups[1].Stats)
	}
}

func TestTaskReportAndCancel(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{
		Name:   "wf",
		Groups: []GroupSpec{{Name: "g", Tasks: []TaskSpec{{Name: "t1"}, {Name: "t2"}}}},
	})
	var wf models.Workflow
	decode(t, resp, &wf)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workflows/"+wf.ID+"/groups", nil)
	var groups []GroupWithStats
	decode(t, resp, &groups)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/groups/"+groups[0].ID+"/tasks", nil)
	var tasks []models.Task
	decode(t, resp, &tasks)
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}

	// Agent reports the first task running on a node
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+tasks[0].ID+"/status",
		taskStatusReport{Status: "running", NodeName: "gpu-node-01"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var task models.Task
	decode(t, resp, &task)
	if task.Status != models.TaskStatusRunning || task.NodeName != "gpu-node-01" {
		t.Errorf("Unexpected task after report: %+v", task)
	}
	if task.StartedAt == nil || task.HeartbeatAt == nil {
		t.Error("Expected started_at and heartbeat_at to be set")
	}

	// Cancel the second task
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+tasks[1].ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	decode(t, resp, &task)
	if task.Status != models.TaskStatusCanceled {
		t.Errorf("Expected canceled, got %s", task.Status)
	}

	// A second cancel conflicts
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+tasks[1].ID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for double cancel, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTaskStatusFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{
		Name:   "wf",
		Groups: []GroupSpec{{Name: "g", Tasks: []TaskSpec{{Name: "t", Count: 3}}}},
	})
	var wf models.Workflow
	decode(t, resp, &wf)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workflows/"+wf.ID+"/groups", nil)
	var groups []GroupWithStats
	decode(t, resp, &groups)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/groups/"+groups[0].ID+"/tasks", nil)
	var tasks []models.Task
	decode(t, resp, &tasks)

	doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+tasks[0].ID+"/status",
		taskStatusReport{Status: "running", NodeName: "n1"}).Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/groups/"+groups[0].ID+"/tasks?status=running", nil)
	var running []models.Task
	decode(t, resp, &running)
	if len(running) != 1 {
		t.Errorf("Expected 1 running task, got %d", len(running))
	}
}

func TestCancelWorkflowCascades(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{
		Name:   "wf",
		Groups: []GroupSpec{{Name: "g", Tasks: []TaskSpec{{Name: "t", Count: 2}}}},
	})
	var wf models.Workflow
	decode(t, resp, &wf)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/workflows/"+wf.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var canceled models.Workflow
	decode(t, resp, &canceled)
	if canceled.Status != models.WorkflowStatusCanceled {
		t.Errorf("Expected canceled, got %s", canceled.Status)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/workflows?status=canceled", nil)
	var list []models.Workflow
	decode(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("Expected 1 canceled workflow, got %d", len(list))
	}
}

func TestPoolsAndNodes(t *testing.T) {
	srv, st := newTestServer(t)

	pool, err := st.CreatePool("h100-prod", "production H100 pool")
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	if _, err := st.UpsertPoolResource(pool.ID, models.ResourceGPU, 64, 48, "devices"); err != nil {
		t.Fatalf("Failed to upsert resource: %v", err)
	}
	node := &models.Node{Name: "gpu-node-01", PoolID: pool.ID, Status: models.NodeStatusReady, GPUCapacity: 8, GPUAllocated: 6}
	if err := st.UpsertNode(node); err != nil {
		t.Fatalf("Failed to upsert node: %v", err)
	}
	if err := st.UpsertGPUDevice(&models.GPUDevice{NodeName: "gpu-node-01", Index: 0, Model: "H100", MemoryMiB: 81920}); err != nil {
		t.Fatalf("Failed to upsert device: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/pools", nil)
	var pools []PoolWithResources
	decode(t, resp, &pools)
	if len(pools) != 1 || pools[0].Name != "h100-prod" {
		t.Fatalf("Unexpected pools: %+v", pools)
	}
	if len(pools[0].Resources) != 1 || pools[0].Resources[0].Capacity != 64 {
		t.Errorf("Unexpected resources: %+v", pools[0].Resources)
	}
	if pools[0].NodeCount != 1 {
		t.Errorf("Expected node count 1, got %d", pools[0].NodeCount)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/nodes?pool="+pool.ID, nil)
	var nodes []models.Node
	decode(t, resp, &nodes)
	if len(nodes) != 1 || nodes[0].Name != "gpu-node-01" {
		t.Fatalf("Unexpected nodes: %+v", nodes)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/nodes/gpu-node-01", nil)
	var detail models.Node
	decode(t, resp, &detail)
	if len(detail.Devices) != 1 || detail.Devices[0].Model != "H100" {
		t.Errorf("Expected device detail, got %+v", detail.Devices)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/nodes/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionEndpoints(t *testing.T) {
	srv, st := newTestServer(t)

	wf, _ := st.CreateWorkflow("wf", "")
	g, _ := st.CreateGroup(wf.ID, "g", 0)
	task, _ := st.CreateTask(g.ID, wf.ID, "t", "", 0)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+task.ID+"/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var sessions []SessionInfo
	decode(t, resp, &sessions)
	if len(sessions) != 0 {
		t.Errorf("Expected no sessions, got %d", len(sessions))
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/nope/sessions", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/tasks/"+task.ID+"/sessions/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEventsRecorded(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/workflows", createWorkflowRequest{Name: "wf"})
	var wf models.Workflow
	decode(t, resp, &wf)
	doJSON(t, http.MethodPost, srv.URL+"/api/workflows/"+wf.ID+"/cancel", nil).Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/events", nil)
	var events []models.Event
	decode(t, resp, &events)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Action != "workflow.cancel" {
		t.Errorf("Expected workflow.cancel first, got %s", events[0].Action)
	}
}
