package worker

import (
	"context"

	"wopa/internal/wire"
)

// Worker is one of the tagged variants {Text, Link, FileStatic,
// FileDynamic, App}, each declaring its step list statically; the
// Dispatcher invokes it uniformly (§9 "tagged variants" design note).
type Worker interface {
	Run(ctx context.Context, pc *ProviderClient, taskID string, payload wire.WorkerPayload) wire.WorkerResult
}

// Registry is the worker_name -> Worker plugin table built at startup,
// generalizing the teacher's task-type-keyed PluginRegistry to be keyed
// by worker name instead.
type Registry struct {
	workers map[wire.WorkerName]Worker
}

// NewRegistry builds the fixed registry of the five spec'd workers.
func NewRegistry() *Registry {
	return &Registry{
		workers: map[wire.WorkerName]Worker{
			wire.WorkerText:        TextWorker{},
			wire.WorkerLink:        LinkWorker{},
			wire.WorkerFileStatic:  FileStaticWorker{},
			wire.WorkerFileDynamic: FileDynamicWorker{},
			wire.WorkerAppBehavior: AppBehaviorWorker{},
		},
	}
}

// Names returns the registered worker_name values, for GET /workers.
func (r *Registry) Names() []wire.WorkerName {
	names := make([]wire.WorkerName, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}

// Dispatcher routes a WorkerRequest to the matching Worker and converts
// its result into a WorkerResponse. Only an unknown worker_name yields an
// error response: a run whose checks all failed, including one whose
// sandbox or emulator call failed, is still returned as completed with
// every check at risk_level unknown, and the Service tier passes it to
// the aggregator like any other result.
type Dispatcher struct {
	Registry *Registry
	Client   *ProviderClient
}

// NewDispatcher builds a Dispatcher over the standard Registry and a
// ProviderClient pointed at the given Provider tier base URL.
func NewDispatcher(providerBaseURL string) *Dispatcher {
	return &Dispatcher{
		Registry: NewRegistry(),
		Client:   NewProviderClient(providerBaseURL),
	}
}

// Handle implements POST /request_worker's business logic.
func (d *Dispatcher) Handle(ctx context.Context, req wire.WorkerRequest) wire.WorkerResponse {
	w, ok := d.Registry.workers[req.WorkerName]
	if !ok {
		return wire.WorkerResponse{
			TaskID: req.TaskID,
			Status: "error",
			Error:  "unknown worker_name",
		}
	}
	result := w.Run(ctx, d.Client, req.TaskID, req.Payload)
	return wire.WorkerResponse{
		TaskID: req.TaskID,
		Status: "completed",
		Result: &result,
	}
}
