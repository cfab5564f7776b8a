package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"wopa/internal/wire"
)

const (
	pageFetchTimeout    = 10 * time.Second
	maxRedirects        = 3
	maxScriptBytes      = 256 * 1024
	maxScripts          = 32
	contentAnalysisHTMLShare = 0.85 // of the 0.3 Content_Analysis weight
)

// LinkWorker analyzes a URL across three steps: page accessibility,
// content analysis of the HTML plus its scripts, and an overall
// suspiciousness judgment.
type LinkWorker struct{}

// Run implements Worker.
func (LinkWorker) Run(ctx context.Context, pc *ProviderClient, _ string, payload wire.WorkerPayload) wire.WorkerResult {
	accessCheck, html, fetchErr := fetchPage(ctx, payload.URL)
	steps := []wire.StepResult{{Step: "Page_Accessibility", Checks: []wire.Check{accessCheck}}}

	if fetchErr != nil {
		// Page_Accessibility failed: Content_Analysis and
		// LLM_Link_Suspiciousness cannot run against fetched content, but
		// the worker itself does not fail (§4.2: a single failing check,
		// or even a whole non-required step, does not fail the worker).
		steps = append(steps,
			wire.StepResult{Step: "Content_Analysis", Checks: []wire.Check{failedCheck("content_html", "LLM_html_analyzer", 0.3, fetchErr)}},
			wire.StepResult{Step: "LLM_Link_Suspiciousness", Checks: []wire.Check{failedCheck("suspiciousness", "LLM_link_suspiciousness", 0.5, fetchErr)}},
		)
		return wire.WorkerResult{Steps: NormalizeAcrossSteps(steps)}
	}

	scripts := extractScripts(html)

	contentChecks := RunStep(ctx, DefaultFanoutCap, contentAnalysisCheckFuncs(pc, html, scripts))
	contentChecks = RenormalizeStep(contentChecks)
	steps = append(steps, wire.StepResult{Step: "Content_Analysis", Checks: contentChecks})

	suspiciousness := overallSuspiciousnessCheck(ctx, pc, payload.URL, html)
	steps = append(steps, wire.StepResult{Step: "LLM_Link_Suspiciousness", Checks: []wire.Check{suspiciousness}})

	// Each step above only redistributes its own failed checks' weight to
	// its own survivors; the three steps' budgeted weights (0.3/0.3/0.5)
	// still need one combined pass so the worker's full output sums to 1.0.
	return wire.WorkerResult{Steps: NormalizeAcrossSteps(steps)}
}

func fetchPage(ctx context.Context, rawURL string) (wire.Check, string, error) {
	client := &http.Client{
		Timeout: pageFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return failedCheck("page_accessibility", "http_fetch", 0.3, err), "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return failedCheck("page_accessibility", "http_fetch", 0.3, err), "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return failedCheck("page_accessibility", "http_fetch", 0.3, err), "", err
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("page returned status %d", resp.StatusCode)
		return failedCheck("page_accessibility", "http_fetch", 0.3, err), "", err
	}

	check := wire.Check{
		CheckID:       "page_accessibility",
		AnalysisAgent: "http_fetch",
		Weight:        0.3,
		RiskLevel:     wire.RiskLow,
		Confidence:    1.0,
		Explanation:   fmt.Sprintf("fetched with status %d", resp.StatusCode),
	}
	return check, string(body), nil
}

var scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)

// extractScripts returns up to maxScripts inline script bodies under
// maxScriptBytes each. Regex extraction (not a full HTML parse) is
// sufficient here: the worker only needs script text to hand to an LLM
// classifier, not a DOM.
func extractScripts(html string) []string {
	matches := scriptTagRe.FindAllStringSubmatch(html, -1)
	var scripts []string
	for _, m := range matches {
		if len(scripts) >= maxScripts {
			break
		}
		body := m[1]
		if body == "" {
			continue
		}
		if len(body) > maxScriptBytes {
			body = body[:maxScriptBytes]
		}
		scripts = append(scripts, body)
	}
	return scripts
}

// contentAnalysisCheckFuncs builds one CheckFunc for the HTML artifact and
// one per script, with weights split per §4.2: HTML gets
// contentAnalysisHTMLShare of the 0.3 step weight, the remainder split
// equally across scripts (each clipped to a floor of 1e-4).
func contentAnalysisCheckFuncs(pc *ProviderClient, html string, scripts []string) []CheckFunc {
	const stepWeight = 0.3
	htmlWeight := stepWeight * contentAnalysisHTMLShare
	remaining := stepWeight - htmlWeight

	var scriptWeight float64
	if len(scripts) > 0 {
		scriptWeight = remaining / float64(len(scripts))
		if scriptWeight < 1e-4 {
			scriptWeight = 1e-4
		}
	}

	fns := []CheckFunc{
		func(ctx context.Context) wire.Check {
			return analyzeArtifact(ctx, pc, "content_html", "LLM_html_analyzer", htmlWeight, html)
		},
	}
	for i, script := range scripts {
		i, script := i, script
		fns = append(fns, func(ctx context.Context) wire.Check {
			id := fmt.Sprintf("content_script_%d", i+1)
			return analyzeArtifact(ctx, pc, id, "LLM_script_analyzer", scriptWeight, script)
		})
	}
	return fns
}

type artifactVerdict struct {
	RiskLevel   string  `json:"risk_level"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

func analyzeArtifact(ctx context.Context, pc *ProviderClient, id, agent string, weight float64, content string) wire.Check {
	prompt := fmt.Sprintf(
		"Analyze this web artifact for malicious intent. Respond with JSON {\"risk_level\":\"low|medium|high\",\"confidence\":0..1,\"explanation\":\"...\"}.\nArtifact:\n%s",
		content)
	resp, err := pc.ChatComplete(ctx, chatCompleteTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	if err != nil || resp.Status != "success" {
		return failedCheck(id, agent, weight, err)
	}
	var parsed artifactVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
		return failedCheck(id, agent, weight, jerr)
	}
	return wire.Check{
		CheckID:       id,
		AnalysisAgent: agent,
		Weight:        weight,
		RiskLevel:     wire.NormalizeRiskLevel(parsed.RiskLevel),
		Confidence:    clamp01(parsed.Confidence),
		Explanation:   parsed.Explanation,
	}
}

func overallSuspiciousnessCheck(ctx context.Context, pc *ProviderClient, url, html string) wire.Check {
	const weight = 0.5
	prompt := fmt.Sprintf(
		"Judge the overall suspiciousness of this URL and its page. Respond with JSON {\"risk_level\":\"low|medium|high\",\"confidence\":0..1,\"explanation\":\"...\"}.\nURL: %s\nPage excerpt: %.2000s",
		url, html)
	resp, err := pc.ChatComplete(ctx, chatCompleteTimeout, wire.ChatCompleteRequest{Prompt: prompt})
	if err != nil || resp.Status != "success" {
		return failedCheck("suspiciousness", "LLM_link_suspiciousness", weight, err)
	}
	var parsed artifactVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Response)), &parsed); jerr != nil {
		return failedCheck("suspiciousness", "LLM_link_suspiciousness", weight, jerr)
	}
	return wire.Check{
		CheckID:       "suspiciousness",
		AnalysisAgent: "LLM_link_suspiciousness",
		Weight:        weight,
		RiskLevel:     wire.NormalizeRiskLevel(parsed.RiskLevel),
		Confidence:    clamp01(parsed.Confidence),
		Explanation:   parsed.Explanation,
	}
}
