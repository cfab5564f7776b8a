package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wopa/internal/platform/eventbus"
	"wopa/internal/taskstore"
	"wopa/internal/wire"
)

// archiver is the subset of *taskstore.Archive the Orchestrator needs,
// letting it run without a bbolt-backed archive in tests.
type archiver interface {
	Put(summary taskstore.ArchiveSummary) error
}

const (
	defaultWorkerTimeout     = 120 * time.Second
	defaultAggregatorTimeout = 60 * time.Second
)

// Orchestrator implements the Service tier's per-service processing
// algorithm (§4.1 steps 1-8): create task, dispatch to Worker, aggregate
// via the Provider tier's chat_complete, reconcile, persist.
type Orchestrator struct {
	Store           *taskstore.Store
	Client          *BackendClient
	WorkerURL       string
	ProviderURL     string
	WorkerTimeout   time.Duration
	AggregatorTimeout time.Duration
	Events          *eventbus.Bus
	Archive         archiver
}

// NewOrchestrator wires an Orchestrator with the spec's default timeouts.
func NewOrchestrator(store *taskstore.Store, client *BackendClient, workerURL, providerURL string, events *eventbus.Bus, archive archiver) *Orchestrator {
	return &Orchestrator{
		Store:             store,
		Client:            client,
		WorkerURL:         workerURL,
		ProviderURL:       providerURL,
		WorkerTimeout:     defaultWorkerTimeout,
		AggregatorTimeout: defaultAggregatorTimeout,
		Events:            events,
		Archive:           archive,
	}
}

// Outcome is the result of running Process: either a completed Verdict or
// a user-safe error message, mirroring the task envelope shape in §4.1.
type Outcome struct {
	TaskID  string
	Status  wire.TaskStatus
	Result  *wire.Verdict
	Message string
}

// Process runs the full pipeline for one request: create the task, call
// the Worker tier, call the aggregator, reconcile, and persist.
func (o *Orchestrator) Process(ctx context.Context, serviceName wire.ServiceName, payload wire.WorkerPayload) Outcome {
	taskID := string(serviceName) + "-" + uuid.NewString()
	if _, err := o.Store.Create(taskID, serviceName, payload, wire.StatusPending); err != nil {
		return Outcome{TaskID: taskID, Status: wire.StatusError, Message: "internal error occurred"}
	}
	o.publish(ctx, taskID, serviceName, wire.StatusPending)

	if err := o.Store.Transition(taskID, wire.StatusPending, wire.StatusInProgress); err != nil {
		return o.fail(ctx, taskID, serviceName, "internal error occurred")
	}
	o.publish(ctx, taskID, serviceName, wire.StatusInProgress)

	workerReq := wire.WorkerRequest{
		TaskID:     taskID,
		WorkerName: wire.WorkerForService(serviceName),
		Payload:    payload,
	}

	workerCtx, cancel := context.WithTimeout(ctx, o.WorkerTimeout)
	workerResp, httpStatus, err := o.Client.CallWorker(workerCtx, o.WorkerURL, o.WorkerTimeout, workerReq)
	cancel()
	if err != nil || httpStatus >= 300 || workerResp.Status == "error" {
		msg := "internal error occurred"
		if err != nil {
			msg = userSafeWorkerError(serviceName)
		} else if workerResp.Error != "" {
			msg = userSafeWorkerError(serviceName)
		}
		slog.Warn("worker call failed", "task_id", taskID, "http_status", httpStatus, "error", err, "worker_error", workerResp.Error)
		return o.fail(ctx, taskID, serviceName, msg)
	}
	if workerResp.Result == nil {
		return o.fail(ctx, taskID, serviceName, "internal error occurred")
	}

	verdict, ok := o.aggregate(ctx, taskID, *workerResp.Result)
	if !ok {
		// ProviderProtocolError after retry: the task still completes, with
		// a verdict computed by the deterministic tie-break from the
		// worker's checks and marked by its Override field; no error
		// envelope is returned.
		degraded := DegradedVerdict(*workerResp.Result)
		if err := o.Store.SetResult(taskID, degraded); err != nil {
			slog.Error("persist degraded verdict failed", "task_id", taskID, "error", err)
		}
		o.archive(taskID, serviceName, degraded)
		o.publish(ctx, taskID, serviceName, wire.StatusCompleted)
		return Outcome{TaskID: taskID, Status: wire.StatusCompleted, Result: &degraded}
	}

	if err := o.Store.SetResult(taskID, verdict); err != nil {
		return o.fail(ctx, taskID, serviceName, "internal error occurred")
	}
	o.archive(taskID, serviceName, verdict)
	o.publish(ctx, taskID, serviceName, wire.StatusCompleted)
	return Outcome{TaskID: taskID, Status: wire.StatusCompleted, Result: &verdict}
}

// archive best-effort records a completed task in the bounded bbolt ring,
// swallowing failures the way event publication does: the archive only
// extends GET /tasks history, it is never load-bearing for a response.
func (o *Orchestrator) archive(taskID string, serviceName wire.ServiceName, verdict wire.Verdict) {
	if o.Archive == nil {
		return
	}
	if err := o.Archive.Put(taskstore.ArchiveSummary{
		TaskID:      taskID,
		ServiceName: serviceName,
		RiskLevel:   verdict.RiskLevel,
		CompletedAt: time.Now(),
	}); err != nil {
		slog.Warn("archive completed task failed", "task_id", taskID, "error", err)
	}
}

// aggregate calls the Provider tier's chat_complete aggregator role,
// reparsing once on invalid JSON per §4.1 step 6.
func (o *Orchestrator) aggregate(ctx context.Context, taskID string, result wire.WorkerResult) (wire.Verdict, bool) {
	prompt := buildPrompt(result)
	parsed, ok := o.callAndParse(ctx, prompt)
	if !ok {
		parsed, ok = o.callAndParse(ctx, reinforcedPrompt(prompt))
		if !ok {
			return wire.Verdict{}, false
		}
	}
	return BuildVerdict(result, parsed), true
}

func (o *Orchestrator) callAndParse(ctx context.Context, prompt string) (aggregatorJSON, bool) {
	aggCtx, cancel := context.WithTimeout(ctx, o.AggregatorTimeout)
	defer cancel()
	resp, status, err := o.Client.CallChatComplete(aggCtx, o.ProviderURL, o.AggregatorTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	if err != nil || status >= 300 || resp.Status != "success" {
		return aggregatorJSON{}, false
	}
	parsed, err := parseAggregatorJSON(resp.Response)
	if err != nil {
		return aggregatorJSON{}, false
	}
	return parsed, true
}

func (o *Orchestrator) fail(ctx context.Context, taskID string, serviceName wire.ServiceName, message string) Outcome {
	if err := o.Store.SetError(taskID, message); err != nil {
		slog.Error("persist task error failed", "task_id", taskID, "error", err)
	}
	o.publish(ctx, taskID, serviceName, wire.StatusError)
	return Outcome{TaskID: taskID, Status: wire.StatusError, Message: message}
}

func (o *Orchestrator) publish(ctx context.Context, taskID string, serviceName wire.ServiceName, status wire.TaskStatus) {
	o.Events.PublishTaskStatus(ctx, eventbus.TaskEvent{
		TaskID:  taskID,
		Service: string(serviceName),
		Status:  string(status),
	})
}

// userSafeWorkerError maps a failed worker call to a jargon-free message
// chosen by service name alone (§7). The worker tier reports an
// unavailable sandbox or emulator as a completed run with a failed check,
// not as a failed call, so that case reaches the aggregator instead of
// this function.
func userSafeWorkerError(serviceName wire.ServiceName) string {
	switch serviceName {
	case wire.ServiceFileDynamicAnalysis:
		return "Sandbox unavailable"
	case wire.ServiceAppAnalysis:
		return "Emulator unavailable"
	default:
		return "LLM service unavailable"
	}
}
