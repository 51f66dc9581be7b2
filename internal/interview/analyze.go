package interview

import (
	"context"
	"encoding/json"
	"strings"

	"expertmine/internal/logging"
)

// Analysis is what one answer contributed to the knowledge picture.
type Analysis struct {
	Skills    []string `json:"skills"`
	Workflows []string `json:"workflows"`
}

// AnalyzeAnswer extracts skills and workflows from a submitted answer.
// Extraction is best-effort: a provider failure or malformed output degrades
// to an empty analysis rather than failing the round, since the exchange
// itself is still valuable interview material.
func (n *Node) AnalyzeAnswer(ctx context.Context, question, answer string) Analysis {
	timer := logging.StartTimer(logging.CategoryInterview, "AnalyzeAnswer")
	defer timer.Stop()

	prompt := "Extract professional knowledge from this interview exchange.\n\n" +
		"Question: " + question + "\n" +
		"Answer: " + answer + "\n\n" +
		`Return a JSON object with two string arrays:
{"skills": ["short skill names mentioned or demonstrated"], "workflows": ["named multi-step processes described"]}
Return only the JSON object.`

	resp, err := n.client.CompleteWithSystem(ctx,
		"You extract structured skills and workflows from interview answers. Respond with JSON only.",
		prompt)
	if err != nil {
		logging.Get(logging.CategoryInterview).Warn("Answer analysis failed, continuing without extraction: %v", err)
		return Analysis{}
	}

	analysis, ok := parseAnalysis(resp)
	if !ok {
		logging.Get(logging.CategoryInterview).Warn("Answer analysis output malformed, continuing without extraction")
		return Analysis{}
	}

	logging.InterviewDebug("Extracted %d skills, %d workflows from answer",
		len(analysis.Skills), len(analysis.Workflows))
	return analysis
}

// parseAnalysis leniently parses the provider output: it tolerates markdown
// fences and surrounding prose by slicing out the outermost JSON object.
func parseAnalysis(raw string) (Analysis, bool) {
	body := extractJSONObject(raw)
	if body == "" {
		return Analysis{}, false
	}

	var a Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Analysis{}, false
	}

	a.Skills = cleanTerms(a.Skills)
	a.Workflows = cleanTerms(a.Workflows)
	return a, true
}

// extractJSONObject returns the substring between the first '{' and the last
// '}' inclusive, or empty if no object is present.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func cleanTerms(terms []string) []string {
	out := terms[:0]
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
