package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wopa/internal/wire"
)

const sandboxCallTimeout = 300 * time.Second

// FileDynamicWorker submits a file to the sandbox and classifies its
// observed behavior with a single LLM call over the resulting logs.
type FileDynamicWorker struct{}

// Run implements Worker.
func (FileDynamicWorker) Run(ctx context.Context, pc *ProviderClient, _ string, payload wire.WorkerPayload) wire.WorkerResult {
	sandboxResp, err := pc.SandboxRunFile(ctx, sandboxCallTimeout, wire.SandboxRunFileRequest{FileRef: payload.FileRef})
	if err != nil || sandboxResp.Status != "success" {
		check := failedCheck("sandbox_detonation", "sandbox_run_file", 1.0, classifyProviderErr(err, sandboxResp.Status))
		return wire.WorkerResult{Steps: []wire.StepResult{{Step: "Sandbox_Detonation", Checks: []wire.Check{check}}}}
	}

	sandboxCheck := wire.Check{
		CheckID:       "sandbox_detonation",
		AnalysisAgent: "sandbox_run_file",
		Weight:        0.3,
		RiskLevel:     wire.RiskLow,
		Confidence:    1.0,
		Explanation:   fmt.Sprintf("sandbox produced %d log lines", len(sandboxResp.Logs)),
	}

	llmCheck := analyzeSandboxLogs(ctx, pc, sandboxResp.Logs)

	checks := NormalizeWeightsTo1(RenormalizeStep([]wire.Check{sandboxCheck, llmCheck}))
	return wire.WorkerResult{Steps: []wire.StepResult{{Step: "Sandbox_Detonation", Checks: checks}}}
}

func analyzeSandboxLogs(ctx context.Context, pc *ProviderClient, logs []string) wire.Check {
	const weight = 0.7
	prompt := fmt.Sprintf(
		"Classify these sandbox execution logs for malicious behavior. Respond with JSON {\"risk_level\":\"low|medium|high\",\"confidence\":0..1,\"explanation\":\"...\"}.\nLogs:\n%s",
		strings.Join(logs, "\n"))
	resp, err := pc.ChatComplete(ctx, chatCompleteTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	if err != nil || resp.Status != "success" {
		return failedCheck("sandbox_log_analysis", "LLM_sandbox_log_analyzer", weight, err)
	}
	var parsed artifactVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
		return failedCheck("sandbox_log_analysis", "LLM_sandbox_log_analyzer", weight, jerr)
	}
	return wire.Check{
		CheckID:       "sandbox_log_analysis",
		AnalysisAgent: "LLM_sandbox_log_analyzer",
		Weight:        weight,
		RiskLevel:     wire.NormalizeRiskLevel(parsed.RiskLevel),
		Confidence:    clamp01(parsed.Confidence),
		Explanation:   parsed.Explanation,
	}
}

// classifyProviderErr turns a provider-call failure or a non-success
// status body into an error value describing it, for failedCheck's
// message.
func classifyProviderErr(err error, status string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("provider returned status %q", status)
}
