package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"wopa/internal/wire"
)

// FileStaticWorker hashes the file_ref string with SHA-256, then
// classifies the reference and its digest with a single LLM call. It does
// not read the file's contents and extracts no file metadata.
type FileStaticWorker struct{}

// Run implements Worker.
func (FileStaticWorker) Run(ctx context.Context, pc *ProviderClient, _ string, payload wire.WorkerPayload) wire.WorkerResult {
	sum := sha256.Sum256([]byte(payload.FileRef))
	digest := hex.EncodeToString(sum[:])

	hashCheck := wire.Check{
		CheckID:       "hash_extraction",
		AnalysisAgent: "sha256_signature",
		Weight:        0.2,
		RiskLevel:     wire.RiskLow,
		Confidence:    1.0,
		Explanation:   fmt.Sprintf("sha256=%s", digest),
	}

	llmCheck := analyzeFileSignature(ctx, pc, payload.FileRef, digest)

	checks := NormalizeWeightsTo1(RenormalizeStep([]wire.Check{hashCheck, llmCheck}))
	return wire.WorkerResult{Steps: []wire.StepResult{{Step: "Static_Signature_Analysis", Checks: checks}}}
}

func analyzeFileSignature(ctx context.Context, pc *ProviderClient, fileRef, digest string) wire.Check {
	const weight = 0.8
	prompt := fmt.Sprintf(
		"Assess this file's static signature for malicious indicators. Respond with JSON {\"risk_level\":\"low|medium|high\",\"confidence\":0..1,\"explanation\":\"...\"}.\nfile_ref=%s sha256=%s",
		fileRef, digest)
	resp, err := pc.ChatComplete(ctx, chatCompleteTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	if err != nil || resp.Status != "success" {
		return failedCheck("static_llm_analysis", "LLM_static_signature_analyzer", weight, err)
	}
	var parsed artifactVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
		return failedCheck("static_llm_analysis", "LLM_static_signature_analyzer", weight, jerr)
	}
	return wire.Check{
		CheckID:       "static_llm_analysis",
		AnalysisAgent: "LLM_static_signature_analyzer",
		Weight:        weight,
		RiskLevel:     wire.NormalizeRiskLevel(parsed.RiskLevel),
		Confidence:    clamp01(parsed.Confidence),
		Explanation:   parsed.Explanation,
	}
}
