package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"wopa/internal/wire"
)

// allChecks flattens a WorkerResult's steps into one ordered slice, for
// prompt serialization and deterministic scoring alike.
func allChecks(result wire.WorkerResult) []wire.Check {
	var out []wire.Check
	for _, step := range result.Steps {
		out = append(out, step.Checks...)
	}
	return out
}

// buildPrompt constructs the aggregator prompt per §4.5: a fixed JSON-only
// instruction, a compact serialization of the worker's per-step checks,
// and the tie-break rule text (informational; the Service tier applies
// the rule itself regardless of what the model does with it).
func buildPrompt(result wire.WorkerResult) string {
	var b strings.Builder
	b.WriteString("Return strictly a JSON object of shape ")
	b.WriteString(`{"risk_level":"low|medium|high","confidence":0..1,"reasons":{"<step>":[{"check_id":...}]}}`)
	b.WriteString(". No prose, no markdown fences.\n\n")
	b.WriteString("Per-step check findings:\n")
	for _, step := range result.Steps {
		fmt.Fprintf(&b, "Step %s:\n", step.Step)
		for _, c := range step.Checks {
			fmt.Fprintf(&b, "  - check_id=%s agent=%s weight=%.4f risk_level=%s confidence=%.4f explanation=%q\n",
				c.CheckID, c.AnalysisAgent, c.Weight, c.RiskLevel, c.Confidence, c.Explanation)
		}
	}
	b.WriteString("\nTie-break rule: weighted average of risk_level (low=0, medium=0.5, high=1) times confidence. ")
	b.WriteString(">=0.66 => high; >=0.33 => medium; else low. Weight only successful checks.\n")
	b.WriteString("Reinforced instruction: respond with JSON only.\n")
	return b.String()
}

// reinforcedPrompt appends an extra JSON-only admonition for the single
// permitted reparse retry on the first parse failure.
func reinforcedPrompt(base string) string {
	return base + "\nIMPORTANT: your previous response was not valid JSON. Respond with JSON ONLY, no commentary.\n"
}

// deterministicTiebreak computes the risk score and overall confidence per
// §4.5's formula: weighted average of risk_level scores weighted by
// confidence, restricted to successful (non-unknown) checks. Two calls on
// identical input yield identical output, satisfying the aggregator
// determinism invariant in §8.
func deterministicTiebreak(checks []wire.Check) (wire.RiskLevel, float64) {
	var weightedRisk, weightSum, weightedConf float64
	for _, c := range checks {
		if c.Failed() {
			continue
		}
		weightedRisk += c.Weight * c.Confidence * c.RiskLevel.Score()
		weightedConf += c.Weight * c.Confidence
		weightSum += c.Weight
	}
	if weightSum <= 0 {
		return wire.RiskLow, 0
	}
	score := weightedRisk / weightSum
	confidence := weightedConf / weightSum

	var level wire.RiskLevel
	switch {
	case score >= 0.66:
		level = wire.RiskHigh
	case score >= 0.33:
		level = wire.RiskMedium
	default:
		level = wire.RiskLow
	}
	return level, confidence
}

// levelDistance measures how many tie-break buckets apart two risk levels
// are (low/medium/high map to 0/1/2), used to decide whether the LLM's
// answer disagrees with the deterministic result by more than one level.
func levelDistance(a, b wire.RiskLevel) int {
	idx := map[wire.RiskLevel]int{wire.RiskLow: 0, wire.RiskMedium: 1, wire.RiskHigh: 2}
	ai, aok := idx[a]
	bi, bok := idx[b]
	if !aok || !bok {
		return 2
	}
	d := ai - bi
	if d < 0 {
		d = -d
	}
	return d
}

// aggregatorJSON is the shape the aggregator LLM call is instructed to
// return; ParseAggregatorResponse decodes into this before reconciling
// with the deterministic tie-break.
type aggregatorJSON struct {
	RiskLevel  string                        `json:"risk_level"`
	Confidence float64                       `json:"confidence"`
	Reasons    map[string][]wire.Check       `json:"reasons"`
}

// parseAggregatorJSON extracts the first balanced JSON object from raw,
// tolerating leading/trailing prose the model might add despite
// instructions. Returns an error if no object is found or it fails to
// unmarshal.
func parseAggregatorJSON(raw string) (aggregatorJSON, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return aggregatorJSON{}, fmt.Errorf("aggregator: no JSON object found")
	}
	var out aggregatorJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return aggregatorJSON{}, fmt.Errorf("aggregator: %w", err)
	}
	return out, nil
}

// BuildVerdict reconciles the aggregator's parsed JSON with the
// deterministic tie-break computed from the same checks. If they disagree
// by more than one level, the deterministic value wins and reasons are
// annotated accordingly.
func BuildVerdict(result wire.WorkerResult, parsed aggregatorJSON) wire.Verdict {
	checks := allChecks(result)
	detLevel, detConfidence := deterministicTiebreak(checks)

	llmLevel := wire.NormalizeRiskLevel(parsed.RiskLevel)
	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 || math.IsNaN(confidence) {
		confidence = detConfidence
	}

	reasons := parsed.Reasons
	if reasons == nil {
		reasons = make(map[string][]wire.Check)
		for _, step := range result.Steps {
			reasons[step.Step] = step.Checks
		}
	}

	finalLevel := llmLevel
	var override string
	if levelDistance(llmLevel, detLevel) > 1 {
		finalLevel = detLevel
		confidence = detConfidence
		override = "deterministic_tiebreak"
	}

	return wire.Verdict{
		RiskLevel:  finalLevel,
		Confidence: confidence,
		Reasons:    reasons,
		Override:   override,
	}
}

// DegradedVerdict is returned when the aggregator's JSON cannot be parsed
// even after the single reparse retry (§4.5, §7 ProviderProtocolError):
// the deterministic tie-break still produces a usable Verdict from the
// worker's own checks, annotated as degraded.
func DegradedVerdict(result wire.WorkerResult) wire.Verdict {
	checks := allChecks(result)
	level, confidence := deterministicTiebreak(checks)
	reasons := make(map[string][]wire.Check, len(result.Steps))
	for _, step := range result.Steps {
		reasons[step.Step] = step.Checks
	}
	return wire.Verdict{
		RiskLevel:  level,
		Confidence: confidence,
		Reasons:    reasons,
		Override:   "aggregator_unparseable_degraded",
	}
}
