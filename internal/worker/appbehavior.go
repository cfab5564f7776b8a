package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wopa/internal/wire"
)

const emulatorCallTimeout = 600 * time.Second

// AppBehaviorWorker submits an app to the emulator, then judges its
// screenshots with a vision model and its event log with a chat model,
// merging the two by weighted average (§9's resolved open question).
type AppBehaviorWorker struct{}

// Run implements Worker.
func (AppBehaviorWorker) Run(ctx context.Context, pc *ProviderClient, taskID string, payload wire.WorkerPayload) wire.WorkerResult {
	emuResp, err := pc.EmulatorRunApp(ctx, emulatorCallTimeout, wire.EmulatorRunAppRequest{
		TaskID:       taskID,
		AppRef:       payload.AppRef,
		Instructions: payload.Instructions,
	})
	if err != nil || emuResp.Status != "success" {
		check := failedCheck("emulator_run", "emulator_run_app", 1.0, classifyProviderErr(err, emuResp.Status))
		return wire.WorkerResult{Steps: []wire.StepResult{{Step: "App_Behavior_Analysis", Checks: []wire.Check{check}}}}
	}

	checks := RunStep(ctx, DefaultFanoutCap, []CheckFunc{
		func(ctx context.Context) wire.Check { return analyzeAppVisuals(ctx, pc, emuResp.Visuals.Screenshots) },
		func(ctx context.Context) wire.Check { return analyzeAppEvents(ctx, pc, emuResp.Events) },
	})
	checks = NormalizeWeightsTo1(RenormalizeStep(checks))
	return wire.WorkerResult{Steps: []wire.StepResult{{Step: "App_Behavior_Analysis", Checks: checks}}}
}

func analyzeAppVisuals(ctx context.Context, pc *ProviderClient, screenshots []string) wire.Check {
	const weight = 0.5
	if len(screenshots) == 0 {
		return failedCheck("app_visual", "LLM_vision_app_analyzer", weight, fmt.Errorf("no screenshots returned"))
	}
	images := make([]wire.Image, 0, min(len(screenshots), 8))
	for i, s := range screenshots {
		if i >= 8 {
			break
		}
		images = append(images, wire.Image{Mime: "image/png", Base64: s})
	}
	req := wire.VisionCompleteRequest{
		ChatCompleteRequest: wire.ChatCompleteRequest{
			Prompt: "Inspect these app screenshots for malicious or deceptive UI behavior. Respond with JSON {\"risk_level\":\"low|medium|high\",\"confidence\":0..1,\"explanation\":\"...\"}.",
		},
		Images: images,
	}
	resp, err := pc.VisionComplete(ctx, chatCompleteTimeout, req)
	if err != nil || resp.Status != "success" {
		return failedCheck("app_visual", "LLM_vision_app_analyzer", weight, err)
	}
	var parsed artifactVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
		return failedCheck("app_visual", "LLM_vision_app_analyzer", weight, jerr)
	}
	return wire.Check{
		CheckID:       "app_visual",
		AnalysisAgent: "LLM_vision_app_analyzer",
		Weight:        weight,
		RiskLevel:     wire.NormalizeRiskLevel(parsed.RiskLevel),
		Confidence:    clamp01(parsed.Confidence),
		Explanation:   parsed.Explanation,
	}
}

func analyzeAppEvents(ctx context.Context, pc *ProviderClient, events []string) wire.Check {
	const weight = 0.5
	if len(events) == 0 {
		return failedCheck("app_events", "LLM_event_app_analyzer", weight, fmt.Errorf("no events returned"))
	}
	prompt := fmt.Sprintf(
		"Assess these app runtime events for malicious behavior. Respond with JSON {\"risk_level\":\"low|medium|high\",\"confidence\":0..1,\"explanation\":\"...\"}.\nEvents:\n%s",
		strings.Join(events, "\n"))
	resp, err := pc.ChatComplete(ctx, chatCompleteTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	if err != nil || resp.Status != "success" {
		return failedCheck("app_events", "LLM_event_app_analyzer", weight, err)
	}
	var parsed artifactVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
		return failedCheck("app_events", "LLM_event_app_analyzer", weight, jerr)
	}
	return wire.Check{
		CheckID:       "app_events",
		AnalysisAgent: "LLM_event_app_analyzer",
		Weight:        weight,
		RiskLevel:     wire.NormalizeRiskLevel(parsed.RiskLevel),
		Confidence:    clamp01(parsed.Confidence),
		Explanation:   parsed.Explanation,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
