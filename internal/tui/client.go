package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gridfleet/gridview/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the gridview API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the API base URL, for building WebSocket addresses.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListWorkflows fetches workflows, optionally filtered by status.
func (c *Client) ListWorkflows(status string) ([]models.Workflow, error) {
	url := c.baseURL + "/api/workflows"
	if status != "" {
		url += "?status=" + status
	}

	var workflows []models.Workflow
	if err := c.getJSON(url, &workflows); err != nil {
		return nil, err
	}
	return workflows, nil
}

// GetWorkflow fetches a single workflow.
func (c *Client) GetWorkflow(id string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.getJSON(c.baseURL+"/api/workflows/"+id, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ListGroups fetches the groups of a workflow with their task stats.
func (c *Client) ListGroups(workflowID string) ([]GroupItem, error) {
	var raw []struct {
		models.TaskGroup
		Stats models.GroupStats `json:"stats"`
	}
	if err := c.getJSON(c.baseURL+"/api/workflows/"+workflowID+"/groups", &raw); err != nil {
		return nil, err
	}

	items := make([]GroupItem, len(raw))
	for i, g := range raw {
		items[i] = GroupItem{TaskGroup: g.TaskGroup, Stats: g.Stats}
	}
	return items, nil
}

// CancelWorkflow cancels a workflow.
func (c *Client) CancelWorkflow(id string) error {
	return c.post(c.baseURL+"/api/workflows/"+id+"/cancel", nil)
}

// ListTasks fetches the tasks of a group, optionally filtered by status.
func (c *Client) ListTasks(groupID, status string) ([]models.Task, error) {
	url := c.baseURL + "/api/groups/" + groupID + "/tasks"
	if status != "" {
		url += "?status=" + status
	}

	var tasks []models.Task
	if err := c.getJSON(url, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a single task.
func (c *Client) GetTask(id string) (*models.Task, error) {
	var task models.Task
	if err := c.getJSON(c.baseURL+"/api/tasks/"+id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask cancels a task.
func (c *Client) CancelTask(id string) error {
	return c.post(c.baseURL+"/api/tasks/"+id+"/cancel", nil)
}

// ListPools fetches all pools with their resource rollups.
func (c *Client) ListPools() ([]PoolItem, error) {
	var raw []struct {
		models.Pool
		Resources []models.PoolResource `json:"resources"`
	}
	if err := c.getJSON(c.baseURL+"/api/pools", &raw); err != nil {
		return nil, err
	}

	items := make([]PoolItem, len(raw))
	for i, p := range raw {
		items[i] = PoolItem{Pool: p.Pool, Resources: p.Resources}
	}
	return items, nil
}

// ListNodes fetches nodes, optionally filtered by pool.
func (c *Client) ListNodes(poolID string) ([]models.Node, error) {
	url := c.baseURL + "/api/nodes"
	if poolID != "" {
		url += "?pool=" + poolID
	}

	var nodes []models.Node
	if err := c.getJSON(url, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode fetches a node with its GPU devices.
func (c *Client) GetNode(name string) (*models.Node, error) {
	var n models.Node
	if err := c.getJSON(c.baseURL+"/api/nodes/"+name, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListSessions fetches the shell sessions of a task.
func (c *Client) ListSessions(taskID string) ([]SessionItem, error) {
	var raw []struct {
		ID           string `json:"id"`
		TaskID       string `json:"task_id"`
		Shell        string `json:"shell"`
		State        string `json:"state"`
		CreatedAt    string `json:"created_at"`
		LastActivity string `json:"last_activity"`
		Attached     bool   `json:"attached"`
	}
	if err := c.getJSON(c.baseURL+"/api/tasks/"+taskID+"/sessions", &raw); err != nil {
		return nil, err
	}

	items := make([]SessionItem, len(raw))
	for i, s := range raw {
		items[i] = SessionItem{
			ID:           s.ID,
			TaskID:       s.TaskID,
			Shell:        s.Shell,
			State:        s.State,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			Attached:     s.Attached,
		}
	}
	return items, nil
}

// CloseSession closes a shell session on the daemon.
func (c *Client) CloseSession(taskID, sessionID string) error {
	req, err := http.NewRequest(http.MethodDelete,
		c.baseURL+"/api/tasks/"+taskID+"/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return nil
}

// CheckHealth checks if the daemon is healthy.
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) getJSON(url string, v interface{}) error {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(url string, data interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.httpClient.Post(url, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("API error: %s", e.Error)
	}
	return fmt.Errorf("API error: status %d", resp.StatusCode)
}
