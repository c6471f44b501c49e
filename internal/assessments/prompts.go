package assessments

import (
	"fmt"
	"strings"

	"github.com/talentlane/backend/internal/store"
)

// Completion temperatures: question generation stays exploratory, the
// final report stays stable.
const (
	generationTemperature  = 0.5
	finalReportTemperature = 0.2
)

// assessorPrompt fixes the interviewer persona for a session. Every turn
// replays it, so the rules hold for the whole conversation.
func assessorPrompt(a *store.Assessment) string {
	skills := "general skills for the role"
	if len(a.Skills) > 0 {
		skills = strings.Join(a.Skills, ", ")
	}
	return fmt.Sprintf(`You are a professional technical interviewer conducting a structured
assessment.

Candidate profile under assessment:
- Profession: %s
- Target role: %s
- Skills to probe: %s
- Difficulty: %s
- Total questions: %d

Rules:
1. Ask exactly one question at a time. Never ask several at once.
2. Always respond with JSON only. No prose outside the JSON object.
3. When evaluating an answer respond with:
   {"evaluation": "...", "score": <0-10>, "next_question": "...", "hint": "..."}
   Set "next_question" to "" after the final question has been answered.
4. Adapt difficulty: a strong answer earns a harder follow-up, a weak
   answer an easier one, always within the configured difficulty band.
5. Keep evaluations to two or three sentences, addressed to the candidate.`,
		a.Profession, a.Role, skills, a.Difficulty, a.QuestionCount)
}

func firstQuestionPrompt() string {
	return `Begin the assessment. Respond with JSON: {"question": "..."}`
}

func finalReportPrompt(scores []float64) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("Q%d: %.1f/10", i+1, s)
	}
	return fmt.Sprintf(`The assessment is finished. Per-question scores: %s.
Produce the final report as JSON:
{"score": <0-100>, "breakdown": {"<skill>": <0-100>, ...}, "summary": "...",
 "strengths": ["..."], "weaknesses": ["..."]}
Ground the breakdown in the skills probed and weight it consistently with
the per-question scores.`, strings.Join(parts, ", "))
}
