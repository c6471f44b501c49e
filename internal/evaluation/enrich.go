package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/talentlane/backend/internal/codehost"
	"github.com/talentlane/backend/internal/llm"
	"github.com/talentlane/backend/internal/scoring"
)

const enrichSystemPrompt = `You are a senior engineering hiring advisor. You receive a candidate's
public repository analysis: profile, per-repository metrics, curated code
samples, and pre-computed scores. The scores are authoritative context;
never contradict or recompute them.

Respond with JSON only, exactly this shape:
{
  "recruiter_summary": {
    "top_strengths": ["..."],
    "risks_or_weaknesses": ["..."],
    "recommended_role_level": "...",
    "portfolio_readiness": "..."
  },
  "engineer_breakdown": {
    "code_patterns": ["..."],
    "architecture_analysis": ["..."],
    "testing_maturity": "...",
    "testing_details": "...",
    "complexity_insights": ["..."],
    "notable_implementations": ["..."],
    "improvement_areas": ["..."],
    "interview_probes": ["..."],
    "repo_notes": {"repo-name": "one-sentence note"}
  }
}
Keep every list to at most five short, concrete items grounded in the
provided metrics and samples.`

// enrichment is the model's narrative contribution to the report.
// Anything the model omits is filled by defaults, so a slightly
// off-shape response degrades instead of failing.
type enrichment struct {
	RecruiterSummary struct {
		TopStrengths         []string `json:"top_strengths"`
		RisksOrWeaknesses    []string `json:"risks_or_weaknesses"`
		RecommendedRoleLevel string   `json:"recommended_role_level"`
		PortfolioReadiness   string   `json:"portfolio_readiness"`
	} `json:"recruiter_summary"`
	EngineerBreakdown struct {
		CodePatterns           []string          `json:"code_patterns"`
		ArchitectureAnalysis   []string          `json:"architecture_analysis"`
		TestingMaturity        string            `json:"testing_maturity"`
		TestingDetails         string            `json:"testing_details"`
		ComplexityInsights     []string          `json:"complexity_insights"`
		NotableImplementations []string          `json:"notable_implementations"`
		ImprovementAreas       []string          `json:"improvement_areas"`
		InterviewProbes        []string          `json:"interview_probes"`
		RepoNotes              map[string]string `json:"repo_notes"`
	} `json:"engineer_breakdown"`
}

// enrich runs the single enrichment completion. Model transport errors
// propagate; shape deviations are absorbed by the defaulting pass.
func enrich(ctx context.Context, model llm.Client, profile *codehost.Profile, metrics []*RepoMetrics, activity scoring.Activity, scores scoring.Result) (*enrichment, error) {
	payload := map[string]any{
		"profile":  profile,
		"activity": activity,
		"scores":   scores,
		"repositories": func() []map[string]any {
			out := make([]map[string]any, 0, len(metrics))
			for _, m := range metrics {
				out = append(out, map[string]any{
					"name":       m.RepoName,
					"signals":    m.Signals,
					"stars":      m.Stars,
					"test_files": m.TestFiles,
				})
			}
			return out
		}(),
		"code_samples": collectSnippets(metrics),
	}
	contextJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	content, err := model.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: enrichSystemPrompt},
		{Role: llm.RoleUser, Content: string(contextJSON)},
	}, llm.Options{Temperature: 0.2, JSONMode: true})
	if err != nil {
		return nil, err
	}

	var e enrichment
	if err := json.Unmarshal([]byte(stripFences(content)), &e); err != nil {
		// An undecodable response falls back to fully defaulted
		// narratives rather than failing the evaluation.
		return &enrichment{}, nil
	}
	return &e, nil
}

func collectSnippets(metrics []*RepoMetrics) []Snippet {
	var out []Snippet
	for _, m := range metrics {
		out = append(out, m.Snippets...)
		if len(out) >= 12 {
			out = out[:12]
			break
		}
	}
	return out
}

// applyDefaults fills whatever the model left empty from the computed
// scores, keeping the report shape complete.
func applyDefaults(e *enrichment, scores scoring.Result, repoCount int) {
	rs := &e.RecruiterSummary
	if len(rs.TopStrengths) == 0 {
		rs.TopStrengths = []string{fmt.Sprintf("Portfolio of %d analyzable repositories at %s level", repoCount, scores.Level)}
	}
	if len(rs.RisksOrWeaknesses) == 0 {
		rs.RisksOrWeaknesses = []string{"Automated narrative unavailable; rely on the score breakdown"}
	}
	if rs.RecommendedRoleLevel == "" {
		rs.RecommendedRoleLevel = scores.Level
	}
	if rs.PortfolioReadiness == "" {
		rs.PortfolioReadiness = scores.HiringReadiness
	}

	eb := &e.EngineerBreakdown
	if len(eb.CodePatterns) == 0 {
		eb.CodePatterns = []string{"No standout patterns extracted"}
	}
	if len(eb.ArchitectureAnalysis) == 0 {
		eb.ArchitectureAnalysis = []string{"Architecture narrative unavailable"}
	}
	if eb.TestingMaturity == "" {
		switch {
		case scores.EngineeringPractices >= 18:
			eb.TestingMaturity = "Established"
		case scores.EngineeringPractices >= 10:
			eb.TestingMaturity = "Developing"
		default:
			eb.TestingMaturity = "Minimal"
		}
	}
	if len(eb.ComplexityInsights) == 0 {
		eb.ComplexityInsights = []string{"Complexity narrative unavailable"}
	}
	if len(eb.NotableImplementations) == 0 {
		eb.NotableImplementations = []string{}
	}
	if len(eb.ImprovementAreas) == 0 {
		eb.ImprovementAreas = []string{"Broaden test coverage", "Document setup and usage in READMEs"}
	}
	if len(eb.InterviewProbes) == 0 {
		eb.InterviewProbes = []string{"Walk through the design of the largest repository"}
	}
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
