package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gridfleet/gridview/internal/models"
	"github.com/gridfleet/gridview/internal/shell"
)

// Server provides the HTTP API for gridview.
type Server struct {
	service *Service
	addr    string
	log     *zap.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		addr:    addr,
		log:     logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	shellHandler := shell.NewHandler(s.service.Shells(), s.service.ResolveTask, s.log)

	r.Route("/api", func(r chi.Router) {
		r.Get("/workflows", s.listWorkflows)
		r.Post("/workflows", s.createWorkflow)
		r.Get("/workflows/{id}", s.getWorkflow)
		r.Get("/workflows/{id}/groups", s.listGroups)
		r.Post("/workflows/{id}/cancel", s.cancelWorkflow)

		r.Get("/groups/{id}/tasks", s.listTasks)

		r.Get("/tasks/{id}", s.getTask)
		r.Post("/tasks/{id}/status", s.reportTaskStatus)
		r.Post("/tasks/{id}/cancel", s.cancelTask)
		r.Get("/tasks/{id}/sessions", s.listSessions)
		r.Delete("/tasks/{id}/sessions/{sid}", s.closeSession)
		r.Get("/tasks/{id}/shell", shellHandler.ServeHTTP)

		r.Get("/pools", s.listPools)
		r.Get("/pools/{id}/resources", s.listPoolResources)

		r.Get("/nodes", s.listNodes)
		r.Get("/nodes/{name}", s.getNode)

		r.Get("/events", s.listEvents)
	})

	r.Get("/health", s.health)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket shells hold the connection open
	}

	s.log.Info("starting gridview daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// serviceError maps service sentinel errors to HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWorkflowNotFound),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrPoolNotFound),
		errors.Is(err, ErrNodeNotFound),
		errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrTerminalState):
		writeError(w, http.StatusConflict, err)
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

// --- Workflow Handlers ---

type createWorkflowRequest struct {
	Name   string      `json:"name"`
	Labels string      `json:"labels"`
	Groups []GroupSpec `json:"groups"`
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	wf, err := s.service.CreateWorkflow(req.Name, req.Labels, req.Groups)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.service.ListWorkflows(r.URL.Query().Get("status"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if workflows == nil {
		workflows = []models.Workflow{}
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.service.GetWorkflow(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.ListGroups(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.service.CancelWorkflow(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// --- Task Handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.ListTasks(chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type taskStatusReport struct {
	Status   string `json:"status"`
	NodeName string `json:"node_name"`
	ExitCode *int   `json:"exit_code"`
}

func (s *Server) reportTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}

	task, err := s.service.ReportTaskStatus(chi.URLParam(r, "id"),
		models.TaskStatus(req.Status), req.NodeName, req.ExitCode)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.CancelTask(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Shell Session Handlers ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	err := s.service.CloseSession(chi.URLParam(r, "id"), chi.URLParam(r, "sid"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// --- Pool Handlers ---

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.service.ListPools()
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if pools == nil {
		pools = []PoolWithResources{}
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) listPoolResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.service.ListPoolResources(chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if resources == nil {
		resources = []models.PoolResource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

// --- Node Handlers ---

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.service.ListNodes(r.URL.Query().Get("pool"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.GetNode(chi.URLParam(r, "name"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// --- Event Handlers ---

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.service.RecentEvents(limit)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.service.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
