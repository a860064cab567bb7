package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/notify"
	"github.com/nidhogg/hivemind/internal/store"
	"github.com/nidhogg/hivemind/internal/workflow"
)

// Dispatcher resolves one task to a terminal result.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *workflow.Task) *workflow.TaskResult
}

// Scheduler executes a whole workflow.
type Scheduler interface {
	Execute(ctx context.Context, wf *workflow.Workflow) *workflow.WorkflowResult
}

// History persists settled dispatches. Nil means history endpoints are
// disabled; orchestration itself never requires it.
type History interface {
	SaveTaskRecord(ctx context.Context, workflowID string, t *workflow.Task) error
	SaveWorkflowRun(ctx context.Context, wf *workflow.Workflow, res *workflow.WorkflowResult) error
	ListTaskRecords(ctx context.Context, limit int) ([]*store.TaskRecord, error)
	ListWorkflowRuns(ctx context.Context, limit int) ([]*store.WorkflowRun, error)
}

// workflowRun tracks one submitted workflow. The scheduler mutates its
// own copy; reads only ever see the submitted snapshot until the final
// state is swapped in under the lock.
type workflowRun struct {
	Snapshot    *workflow.Workflow       `json:"workflow"`
	Result      *workflow.WorkflowResult `json:"result,omitempty"`
	SubmittedAt time.Time                `json:"submitted_at"`
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	registry   *agent.Registry
	dispatcher Dispatcher
	scheduler  Scheduler
	history    History
	notifier   *notify.Notifier
	logger     *zap.Logger

	tasks  map[string]*workflow.Task
	runs   map[string]*workflowRun
	runIDs []string // submission order
	mu     sync.RWMutex
}

// NewHandler creates a new API handler.
func NewHandler(
	registry *agent.Registry,
	dispatcher Dispatcher,
	scheduler Scheduler,
	history History,
	notifier *notify.Notifier,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		history:    history,
		notifier:   notifier,
		logger:     logger,
		tasks:      make(map[string]*workflow.Task),
		runs:       make(map[string]*workflowRun),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Agent registration and monitoring projection
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.registerAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.unregisterAgent)

		// Task and workflow submission
		r.Post("/tasks", h.submitTask)
		r.Get("/tasks/{id}", h.getTask)
		r.Post("/workflows", h.submitWorkflow)
		r.Get("/workflows", h.listWorkflows)
		r.Get("/workflows/{id}", h.getWorkflow)

		// Dispatch history (requires the store)
		r.Get("/history/tasks", h.listTaskHistory)
		r.Get("/history/workflows", h.listWorkflowHistory)

		// Event announcements
		r.Get("/events", h.listEvents)
		r.Post("/events", h.announceEvent)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "hivemind"})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

type registerAgentRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Capabilities) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "capabilities are required"})
		return
	}

	a := &agent.Agent{
		ID:           req.ID,
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Status:       agent.StatusActive,
	}
	h.registry.Register(a)
	h.notifier.Announce(r.Context(), &notify.Event{
		Type:    notify.EventAgentJoined,
		Title:   fmt.Sprintf("agent %s joined", a.Name),
		Detail:  fmt.Sprintf("capabilities: %v", a.Capabilities),
		AgentID: a.ID,
	})

	registered, _ := h.registry.Get(a.ID)
	writeJSON(w, http.StatusCreated, registered)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) unregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	h.registry.Unregister(id)
	h.notifier.Announce(r.Context(), &notify.Event{
		Type:    notify.EventAgentLeft,
		Title:   fmt.Sprintf("agent %s left", a.Name),
		AgentID: id,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

type taskRequest struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Capability string          `json:"capability"`
	Complexity string          `json:"complexity,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Parallel   bool            `json:"parallel,omitempty"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (req *taskRequest) toTask() *workflow.Task {
	return &workflow.Task{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Type:       req.Type,
		Capability: req.Capability,
		Complexity: workflow.Complexity(req.Complexity),
		Priority:   req.Priority,
		Parallel:   req.Parallel,
		DependsOn:  append([]string(nil), req.DependsOn...),
		Data:       req.Data,
		Status:     workflow.TaskPending,
		CreatedAt:  time.Now(),
	}
}

// submitTask dispatches an ad-hoc task synchronously and returns its
// terminal result.
func (h *Handler) submitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Capability == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "capability is required"})
		return
	}

	task := req.toTask()
	result := h.dispatcher.Dispatch(r.Context(), task)

	h.mu.Lock()
	h.tasks[task.ID] = task
	h.mu.Unlock()

	if h.history != nil {
		if err := h.history.SaveTaskRecord(r.Context(), "", task); err != nil {
			h.logger.Warn("failed to save task record", zap.Error(err))
		}
	}
	if !result.Success {
		h.notifier.Announce(r.Context(), &notify.Event{
			Type:    notify.EventTaskFailed,
			Title:   fmt.Sprintf("task %s failed", task.Name),
			Detail:  result.Error,
			AgentID: result.AgentID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task":   task,
		"result": result,
	})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.RLock()
	task, ok := h.tasks[id]
	h.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type workflowRequest struct {
	Name  string        `json:"name"`
	Tasks []taskRequest `json:"tasks"`
}

// submitWorkflow accepts a workflow and executes it in the background;
// progress is polled via GET /workflows/{id}.
func (h *Handler) submitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Tasks) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one task is required"})
		return
	}
	for i, t := range req.Tasks {
		if t.Capability == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("task %d: capability is required", i),
			})
			return
		}
	}

	build := func() *workflow.Workflow {
		wf := &workflow.Workflow{
			Name:      req.Name,
			Status:    workflow.WorkflowExecuting,
			CreatedAt: time.Now(),
		}
		for _, t := range req.Tasks {
			wf.Tasks = append(wf.Tasks, t.toTask())
		}
		return wf
	}

	wf := build()
	wf.ID = uuid.New().String()

	// The scheduler owns this copy; readers see the snapshot until the
	// run settles.
	snapshot := build()
	snapshot.ID = wf.ID
	for i, t := range snapshot.Tasks {
		t.ID = wf.Tasks[i].ID
	}

	run := &workflowRun{Snapshot: snapshot, SubmittedAt: time.Now()}
	h.mu.Lock()
	h.runs[wf.ID] = run
	h.runIDs = append(h.runIDs, wf.ID)
	h.mu.Unlock()

	go h.executeWorkflow(wf)

	writeJSON(w, http.StatusCreated, map[string]string{
		"workflow_id": wf.ID,
		"status":      string(workflow.WorkflowExecuting),
	})
}

func (h *Handler) executeWorkflow(wf *workflow.Workflow) {
	ctx := context.Background()
	result := h.scheduler.Execute(ctx, wf)

	h.mu.Lock()
	run := h.runs[wf.ID]
	run.Snapshot = wf
	run.Result = result
	h.mu.Unlock()

	if h.history != nil {
		for _, t := range wf.Tasks {
			if err := h.history.SaveTaskRecord(ctx, wf.ID, t); err != nil {
				h.logger.Warn("failed to save task record", zap.Error(err))
			}
		}
		if err := h.history.SaveWorkflowRun(ctx, wf, result); err != nil {
			h.logger.Warn("failed to save workflow run", zap.Error(err))
		}
	}

	eventType := notify.EventWorkflowCompleted
	if !result.Success {
		eventType = notify.EventWorkflowFailed
	}
	h.notifier.Announce(ctx, &notify.Event{
		Type:   eventType,
		Title:  fmt.Sprintf("workflow %s settled", wf.Name),
		Detail: fmt.Sprintf("success=%t tasks=%d duration=%s", result.Success, len(wf.Tasks), result.Duration),
	})
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*workflowRun, 0, len(h.runIDs))
	for _, id := range h.runIDs {
		out = append(out, h.runs[id])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.RLock()
	run, ok := h.runs[id]
	h.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) listTaskHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history store not configured"})
		return
	}
	records, err := h.history.ListTaskRecords(r.Context(), queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) listWorkflowHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history store not configured"})
		return
	}
	runs, err := h.history.ListWorkflowRuns(r.Context(), queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": h.notifier.Platforms(),
		"events":    h.notifier.History(50),
	})
}

func (h *Handler) announceEvent(w http.ResponseWriter, r *http.Request) {
	var ev notify.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if ev.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}
	h.notifier.Announce(r.Context(), &ev)
	writeJSON(w, http.StatusOK, map[string]string{"status": "announced"})
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
