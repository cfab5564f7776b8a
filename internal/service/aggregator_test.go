package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"wopa/internal/wire"
	"wopa/internal/worker"
)

// TestDeterministicTiebreakMixedRiskLink reproduces §8 scenario 2: mixed
// risk link content scoring about 0.271 (0.255·0.85 over a total weight of
// 0.8), below the 0.33 medium threshold.
func TestDeterministicTiebreakMixedRiskLink(t *testing.T) {
	checks := []wire.Check{
		{CheckID: "html", RiskLevel: wire.RiskHigh, Confidence: 0.85, Weight: 0.255},
		{CheckID: "script_1", RiskLevel: wire.RiskLow, Confidence: 0.9, Weight: 0.015},
		{CheckID: "script_2", RiskLevel: wire.RiskLow, Confidence: 0.9, Weight: 0.015},
		{CheckID: "script_3", RiskLevel: wire.RiskLow, Confidence: 0.9, Weight: 0.015},
		{CheckID: "suspiciousness", RiskLevel: wire.RiskLow, Confidence: 0.95, Weight: 0.5},
	}
	level, _ := deterministicTiebreak(checks)
	require.Equal(t, wire.RiskLow, level)
}

// TestLinkWorkerRunNormalizesAcrossSteps drives LinkWorker.Run end to end
// against stub page and provider servers reproducing §8 scenario 2 (HTML
// risk high/0.85, three low-risk scripts, suspiciousness low/0.95), then
// feeds the resulting WorkerResult through the same deterministic tie-break
// path the Service tier uses. It exists because TestDeterministicTiebreakMixedRiskLink
// above only exercises deterministicTiebreak with hand-built weights and
// would not catch a bug in how link.go itself computes and normalizes them.
func TestLinkWorkerRunNormalizesAcrossSteps(t *testing.T) {
	const page = `<html><body><p>hi</p>` +
		`<script>var a=1;</script><script>var b=2;</script><script>var c=3;</script>` +
		`</body></html>`
	pageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer pageServer.Close()

	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req wire.ChatCompleteRequest
		require.NoError(t, json.Unmarshal(body, &req))

		var verdict string
		switch {
		case strings.Contains(req.Prompt, "Judge the overall suspiciousness"):
			verdict = `{"risk_level":"low","confidence":0.95,"explanation":"benign overall"}`
		case strings.Contains(req.Prompt, "<script"):
			verdict = `{"risk_level":"high","confidence":0.85,"explanation":"suspicious markup"}`
		default:
			verdict = `{"risk_level":"low","confidence":0.9,"explanation":"benign script"}`
		}
		json.NewEncoder(w).Encode(wire.LLMResponse{Status: "success", Response: verdict})
	}))
	defer providerServer.Close()

	pc := worker.NewProviderClient(providerServer.URL)
	result := worker.LinkWorker{}.Run(context.Background(), pc, "", wire.WorkerPayload{URL: pageServer.URL})

	var sum float64
	for _, step := range result.Steps {
		for _, c := range step.Checks {
			require.False(t, c.Failed(), "check %s/%s failed: %s", step.Step, c.CheckID, c.Explanation)
			sum += c.Weight
		}
	}
	require.InDelta(t, 1.0, sum, 1e-6)

	verdict := DegradedVerdict(result)
	require.Equal(t, wire.RiskLow, verdict.RiskLevel)
}

func TestDeterministicTiebreakIsDeterministic(t *testing.T) {
	checks := []wire.Check{
		{CheckID: "a", RiskLevel: wire.RiskHigh, Confidence: 0.7, Weight: 0.6},
		{CheckID: "b", RiskLevel: wire.RiskMedium, Confidence: 0.4, Weight: 0.4},
	}
	l1, c1 := deterministicTiebreak(checks)
	l2, c2 := deterministicTiebreak(checks)
	require.Equal(t, l1, l2)
	require.InDelta(t, c1, c2, 1e-9)
}

func TestDeterministicTiebreakExcludesFailedChecks(t *testing.T) {
	checks := []wire.Check{
		{CheckID: "ok", RiskLevel: wire.RiskLow, Confidence: 0.9, Weight: 0.5},
		{CheckID: "failed", RiskLevel: wire.RiskUnknown, Confidence: 0, Weight: 0.5},
	}
	level, confidence := deterministicTiebreak(checks)
	require.Equal(t, wire.RiskLow, level)
	require.InDelta(t, 0.9, confidence, 1e-9)
}

func TestBuildVerdictOverridesLLMDisagreement(t *testing.T) {
	result := wire.WorkerResult{Steps: []wire.StepResult{
		{Step: "Page_Accessibility", Checks: []wire.Check{
			{CheckID: "html", RiskLevel: wire.RiskHigh, Confidence: 0.85, Weight: 0.255},
		}},
		{Step: "LLM_Link_Suspiciousness", Checks: []wire.Check{
			{CheckID: "suspiciousness", RiskLevel: wire.RiskLow, Confidence: 0.95, Weight: 0.745},
		}},
	}}
	// LLM says "high" but the deterministic tie-break computes "low";
	// distance is 2 buckets apart, so the override must fire.
	parsed := aggregatorJSON{RiskLevel: "high", Confidence: 0.5}
	verdict := BuildVerdict(result, parsed)
	require.Equal(t, wire.RiskLow, verdict.RiskLevel)
	require.Equal(t, "deterministic_tiebreak", verdict.Override)
}

func TestBuildVerdictAcceptsAgreeingLLM(t *testing.T) {
	result := wire.WorkerResult{Steps: []wire.StepResult{
		{Step: "text", Checks: []wire.Check{
			{CheckID: "c1", RiskLevel: wire.RiskLow, Confidence: 0.9, Weight: 1.0},
		}},
	}}
	parsed := aggregatorJSON{RiskLevel: "low", Confidence: 0.9, Reasons: map[string][]wire.Check{
		"text": result.Steps[0].Checks,
	}}
	verdict := BuildVerdict(result, parsed)
	require.Equal(t, wire.RiskLow, verdict.RiskLevel)
	require.Empty(t, verdict.Override)
	require.InDelta(t, 0.9, verdict.Confidence, 1e-9)
}

func TestParseAggregatorJSONToleratesSurroundingProse(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"risk_level\":\"medium\",\"confidence\":0.7,\"reasons\":{}}\n```\nThanks!"
	parsed, err := parseAggregatorJSON(raw)
	require.NoError(t, err)
	require.Equal(t, "medium", parsed.RiskLevel)
}

func TestParseAggregatorJSONRejectsNonJSON(t *testing.T) {
	_, err := parseAggregatorJSON("not json at all")
	require.Error(t, err)
}
