package service

import (
	"encoding/json"
	"net/http"

	"wopa/internal/taskstore"
	"wopa/internal/validate"
	"wopa/internal/wire"
)

// Handlers implements the Service tier's public HTTP surface (§4.1).
type Handlers struct {
	Orchestrator *Orchestrator
	Store        *taskstore.Store
	Archive      *taskstore.Archive
}

var availableServices = []struct {
	ServiceName string `json:"service_name"`
	Description string `json:"description"`
}{
	{"message_analysis", "Classifies free-text messages for malicious intent."},
	{"link_analysis", "Fetches and analyzes a URL's content and reachability."},
	{"file_static_analysis", "Extracts static signatures and metadata from a file."},
	{"file_dynamic_analysis", "Detonates a file in a sandbox and analyzes its behavior."},
	{"app_analysis", "Runs a mobile app in an emulator and analyzes its behavior."},
}

// AvailableServices implements GET /available_services.
func (h *Handlers) AvailableServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, availableServices)
}

type analyzeMessageBody struct {
	Message string `json:"message"`
}

// AnalyzeMessage implements POST /analyze_message.
func (h *Handlers) AnalyzeMessage(w http.ResponseWriter, r *http.Request) {
	var body analyzeMessageBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validate.Message(body.Message); err != nil {
		writeValidationError(w, err)
		return
	}
	outcome := h.Orchestrator.Process(r.Context(), wire.ServiceMessageAnalysis, wire.WorkerPayload{Message: body.Message})
	writeOutcome(w, outcome)
}

type analyzeLinkBody struct {
	URL string `json:"url"`
}

// AnalyzeLink implements POST /analyze_link.
func (h *Handlers) AnalyzeLink(w http.ResponseWriter, r *http.Request) {
	var body analyzeLinkBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validate.URL(body.URL); err != nil {
		writeValidationError(w, err)
		return
	}
	outcome := h.Orchestrator.Process(r.Context(), wire.ServiceLinkAnalysis, wire.WorkerPayload{URL: body.URL})
	writeOutcome(w, outcome)
}

type analyzeFileBody struct {
	FileRef string `json:"file_ref"`
}

// AnalyzeFileStatic implements POST /analyze_file_static.
func (h *Handlers) AnalyzeFileStatic(w http.ResponseWriter, r *http.Request) {
	var body analyzeFileBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validate.FileRef(body.FileRef); err != nil {
		writeValidationError(w, err)
		return
	}
	outcome := h.Orchestrator.Process(r.Context(), wire.ServiceFileStaticAnalysis, wire.WorkerPayload{FileRef: body.FileRef})
	writeOutcome(w, outcome)
}

// AnalyzeFileDynamic implements POST /analyze_file_dynamic.
func (h *Handlers) AnalyzeFileDynamic(w http.ResponseWriter, r *http.Request) {
	var body analyzeFileBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validate.FileRef(body.FileRef); err != nil {
		writeValidationError(w, err)
		return
	}
	outcome := h.Orchestrator.Process(r.Context(), wire.ServiceFileDynamicAnalysis, wire.WorkerPayload{FileRef: body.FileRef})
	writeOutcome(w, outcome)
}

type analyzeAppBody struct {
	AppRef       string `json:"app_ref"`
	Instructions string `json:"instructions"`
}

// AnalyzeApp implements POST /analyze_app.
func (h *Handlers) AnalyzeApp(w http.ResponseWriter, r *http.Request) {
	var body analyzeAppBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validate.App(body.AppRef, body.Instructions); err != nil {
		writeValidationError(w, err)
		return
	}
	outcome := h.Orchestrator.Process(r.Context(), wire.ServiceAppAnalysis, wire.WorkerPayload{
		AppRef:       body.AppRef,
		Instructions: body.Instructions,
	})
	writeOutcome(w, outcome)
}

type taskSummary struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	ServiceName string `json:"service_name"`
	CreatedAt   string `json:"created_at"`
}

// ListTasks implements GET /tasks. When the Archive is configured, its
// completed-task summaries extend the in-memory store's soft-cap-bounded
// history, deduplicated by task_id (the in-memory copy wins, since it
// carries live status rather than the archive's frozen completion record).
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.Store.List()
	seen := make(map[string]bool, len(tasks))
	out := make([]taskSummary, 0, len(tasks))
	for _, t := range tasks {
		seen[t.TaskID] = true
		out = append(out, taskSummary{
			TaskID:      t.TaskID,
			Status:      string(t.Status),
			ServiceName: string(t.ServiceName),
			CreatedAt:   t.CreatedAt.Format(timeFormat),
		})
	}
	if h.Archive != nil {
		archived, err := h.Archive.List(1000)
		if err == nil {
			for _, a := range archived {
				if seen[a.TaskID] {
					continue
				}
				out = append(out, taskSummary{
					TaskID:      a.TaskID,
					Status:      string(wire.StatusCompleted),
					ServiceName: string(a.ServiceName),
					CreatedAt:   a.CompletedAt.Format(timeFormat),
				})
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTaskEvents implements the expansion's GET /tasks/{task_id}/events: a
// best-effort view of the task's lifecycle, reconstructed from its
// current stored state since the Service tier keeps no separate event
// log of its own (the eventbus publication is fire-and-forget towards
// external subscribers, not a queryable history).
func (h *Handlers) GetTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	t, err := h.Store.Get(taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, wire.ErrorEnvelope{Status: "error", Message: "Task not found"})
		return
	}
	events := []map[string]string{
		{"status": "pending", "at": t.CreatedAt.Format(timeFormat)},
	}
	if t.Status != wire.StatusPending {
		events = append(events, map[string]string{"status": "in_progress", "at": t.CreatedAt.Format(timeFormat)})
	}
	if t.Status.Terminal() {
		events = append(events, map[string]string{"status": string(t.Status), "at": t.UpdatedAt.Format(timeFormat)})
	}
	writeJSON(w, http.StatusOK, events)
}

// GetTaskStatus implements GET /get_task_status?task_id=....
func (h *Handlers) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, wire.ErrorEnvelope{Status: "error", Message: "task_id is required"})
		return
	}
	t, err := h.Store.Get(taskID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, wire.ErrorEnvelope{Status: "error", Message: "Task not found"})
		return
	}
	resp := struct {
		Status string        `json:"status"`
		Result *wire.Verdict `json:"result,omitempty"`
		Error  string        `json:"error,omitempty"`
	}{Status: string(t.Status), Result: t.Result, Error: t.Error}
	writeJSON(w, http.StatusOK, resp)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, wire.ErrorEnvelope{Status: "error", Message: "invalid request body"})
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, wire.ErrorEnvelope{Status: "error", Message: err.Error()})
}

func writeOutcome(w http.ResponseWriter, o Outcome) {
	if o.Status == wire.StatusError {
		writeJSON(w, http.StatusOK, struct {
			TaskID  string `json:"task_id"`
			Status  string `json:"status"`
			Message string `json:"message"`
		}{o.TaskID, string(o.Status), o.Message})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TaskID string        `json:"task_id"`
		Status string        `json:"status"`
		Result *wire.Verdict `json:"result"`
	}{o.TaskID, string(o.Status), o.Result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
