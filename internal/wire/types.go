// Package wire defines the closed envelope types exchanged between the
// service, worker, and provider tiers, plus a strict-mode JSON decoder
// that rejects unknown top-level fields unless relaxed.
package wire

import "time"

// ServiceName enumerates the five analysis services the Service tier
// fronts, each mapped to exactly one worker_name.
type ServiceName string

const (
	ServiceMessageAnalysis     ServiceName = "message_analysis"
	ServiceLinkAnalysis        ServiceName = "link_analysis"
	ServiceFileStaticAnalysis  ServiceName = "file_static_analysis"
	ServiceFileDynamicAnalysis ServiceName = "file_dynamic_analysis"
	ServiceAppAnalysis         ServiceName = "app_analysis"
)

// WorkerName enumerates the worker variants dispatched by the Worker tier.
type WorkerName string

const (
	WorkerText         WorkerName = "text"
	WorkerLink         WorkerName = "link"
	WorkerFileStatic   WorkerName = "file_static"
	WorkerFileDynamic  WorkerName = "file_dynamic"
	WorkerAppBehavior  WorkerName = "app_behavior"
)

// WorkerForService returns the worker_name that handles requests for a
// given service, the fixed one-to-one mapping the Service tier dispatches
// against.
func WorkerForService(s ServiceName) WorkerName {
	switch s {
	case ServiceMessageAnalysis:
		return WorkerText
	case ServiceLinkAnalysis:
		return WorkerLink
	case ServiceFileStaticAnalysis:
		return WorkerFileStatic
	case ServiceFileDynamicAnalysis:
		return WorkerFileDynamic
	case ServiceAppAnalysis:
		return WorkerAppBehavior
	default:
		return ""
	}
}

// TaskStatus enumerates the DAG of statuses a Task moves through:
// pending -> in_progress -> {completed, error}. Terminal states never
// transition further.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusError      TaskStatus = "error"
)

// Terminal reports whether s is a terminal status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// RiskLevel enumerates the three-point risk scale used throughout checks
// and verdicts.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// Score maps a RiskLevel onto the [0,1] scale used by the deterministic
// tie-break (low=0, medium=0.5, high=1). Unknown contributes 0 and is
// expected to be excluded from weighted sums upstream.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskMedium:
		return 0.5
	case RiskHigh:
		return 1
	default:
		return 0
	}
}

// NormalizeRiskLevel maps an arbitrary string onto the closest valid
// RiskLevel by case-insensitive lexical match, defaulting to medium per
// spec for an aggregator response outside the allowed set.
func NormalizeRiskLevel(s string) RiskLevel {
	switch RiskLevel(normalizeToken(s)) {
	case RiskLow:
		return RiskLow
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	default:
		return RiskMedium
	}
}

func normalizeToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// Check is a single named analysis unit inside a worker step.
type Check struct {
	CheckID       string    `json:"check_id"`
	AnalysisAgent string    `json:"analysis_agent"`
	Weight        float64   `json:"weight"`
	RiskLevel     RiskLevel `json:"risk_level"`
	Confidence    float64   `json:"confidence"`
	Explanation   string    `json:"explanation"`
	Error         string    `json:"error,omitempty"`
}

// Failed reports whether the check recorded a failure (risk_level=unknown
// per the worker tier's failure semantics).
func (c Check) Failed() bool { return c.RiskLevel == RiskUnknown }

// StepResult groups the checks produced by one named step of a worker run.
type StepResult struct {
	Step   string  `json:"step"`
	Checks []Check `json:"checks"`
}

// WorkerRequest is the Service -> Worker envelope.
type WorkerRequest struct {
	TaskID     string          `json:"task_id"`
	WorkerName WorkerName      `json:"worker_name"`
	Payload    WorkerPayload   `json:"payload"`
}

// WorkerPayload is the worker-specific input. Only the fields of the
// target worker are set: message, url or file_ref alone, or app_ref
// together with instructions for the app_behavior worker.
type WorkerPayload struct {
	Message      string `json:"message,omitempty"`
	URL          string `json:"url,omitempty"`
	FileRef      string `json:"file_ref,omitempty"`
	AppRef       string `json:"app_ref,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// WorkerResult is the worker-defined structure returned on success: the
// ordered step results.
type WorkerResult struct {
	Steps []StepResult `json:"steps"`
}

// WorkerResponse is the Worker -> Service envelope.
type WorkerResponse struct {
	TaskID string        `json:"task_id"`
	Status string        `json:"status"`
	Result *WorkerResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Verdict is the aggregator's output, stored in Task.Result.
type Verdict struct {
	RiskLevel  RiskLevel            `json:"risk_level"`
	Confidence float64              `json:"confidence"`
	Reasons    map[string][]Check   `json:"reasons"`
	Override   string               `json:"override,omitempty"`
}

// Task is a unit of work created by the Service tier.
type Task struct {
	TaskID      string      `json:"task_id"`
	ServiceName ServiceName `json:"service_name"`
	Status      TaskStatus  `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Input       any         `json:"input,omitempty"`
	Result      *Verdict    `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ProviderKind enumerates the backend kinds the Provider tier routes to.
type ProviderKind string

const (
	KindLLMChat   ProviderKind = "llm_chat"
	KindLLMVision ProviderKind = "llm_vision"
	KindSandbox   ProviderKind = "sandbox"
	KindEmulator  ProviderKind = "emulator"
)

// ProviderInstance is a single concrete backend endpoint of one kind.
// InFlight and Healthy are mutated only by the Provider tier's pool.
type ProviderInstance struct {
	Kind      ProviderKind      `json:"kind"`
	Endpoint  string            `json:"endpoint"`
	Capacity  int               `json:"capacity"`
	InFlight  int64             `json:"in_flight"`
	Healthy   bool              `json:"healthy"`
	LastCheck time.Time         `json:"last_check"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
