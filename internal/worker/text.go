package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wopa/internal/wire"
)

const chatCompleteTimeout = 60 * time.Second

// TextWorker classifies a free-text message via a single LLM call.
type TextWorker struct{}

type textClassification struct {
	Classification        string   `json:"classification"`
	Reasoning              string   `json:"reasoning"`
	SuspiciousIndicators   []string `json:"suspicious_indicators"`
	Confidence             float64  `json:"confidence"`
}

// Run implements Worker.
func (TextWorker) Run(ctx context.Context, pc *ProviderClient, _ string, payload wire.WorkerPayload) wire.WorkerResult {
	prompt := fmt.Sprintf(
		"Classify this message for malicious intent. Respond with JSON {\"classification\":\"benign|suspicious|malicious\",\"reasoning\":\"...\",\"suspicious_indicators\":[...],\"confidence\":0..1}.\nMessage: %q",
		payload.Message)

	var check wire.Check
	resp, err := pc.ChatComplete(ctx, chatCompleteTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	switch {
	case err != nil || resp.Status != "success":
		check = failedCheck("text_1", "LLM_text_classifier", 1.0, err)
	default:
		var parsed textClassification
		if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
			check = failedCheck("text_1", "LLM_text_classifier", 1.0, jerr)
		} else {
			check = wire.Check{
				CheckID:       "text_1",
				AnalysisAgent: "LLM_text_classifier",
				Weight:        1.0,
				RiskLevel:     classificationToRisk(parsed.Classification),
				Confidence:    clamp01(parsed.Confidence),
				Explanation:   parsed.Reasoning,
			}
		}
	}
	return wire.WorkerResult{Steps: []wire.StepResult{{Step: "Text_Classification", Checks: []wire.Check{check}}}}
}

func classificationToRisk(c string) wire.RiskLevel {
	switch strings.ToLower(c) {
	case "malicious":
		return wire.RiskHigh
	case "suspicious":
		return wire.RiskMedium
	case "benign":
		return wire.RiskLow
	default:
		return wire.RiskMedium
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func failedCheck(id, agent string, weight float64, err error) wire.Check {
	msg := "provider call failed"
	if err != nil {
		msg = err.Error()
	}
	return wire.Check{
		CheckID:       id,
		AnalysisAgent: agent,
		Weight:        weight,
		RiskLevel:     wire.RiskUnknown,
		Confidence:    0,
		Error:         msg,
	}
}

// extractJSON returns the first balanced {...} substring of s, tolerating
// markdown fences or prose an LLM might add around its JSON answer.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
