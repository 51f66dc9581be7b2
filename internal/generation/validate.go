package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"expertmine/internal/types"
)

// Minimum substance requirements. Instances below these are dropped, never
// repaired: a padded answer is worse for a buyer than a missing one.
const (
	minQuestionLen = 20
	minAnswerLen   = 100
)

// parseInstances leniently parses the provider output, tolerating markdown
// fences and surrounding prose by slicing out the outermost JSON array.
func parseInstances(raw string) ([]types.GeneratedInstance, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var candidates []types.GeneratedInstance
	if err := json.Unmarshal([]byte(raw[start:end+1]), &candidates); err != nil {
		return nil, fmt.Errorf("malformed instance array: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("empty instance array")
	}
	return candidates, nil
}

// validateInstances filters candidates down to those meeting the substance
// floor, returning the survivors and the dropped count.
func validateInstances(candidates []types.GeneratedInstance) ([]types.GeneratedInstance, int) {
	valid := candidates[:0]
	dropped := 0
	for _, c := range candidates {
		c.Question = strings.TrimSpace(c.Question)
		c.Answer = strings.TrimSpace(c.Answer)
		c.Tags = cleanTags(c.Tags)

		if len(c.Question) <= minQuestionLen || len(c.Answer) <= minAnswerLen || len(c.Tags) == 0 {
			dropped++
			continue
		}
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		valid = append(valid, c)
	}
	return valid, dropped
}

func cleanTags(tags []string) []string {
	out := tags[:0]
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// scoreQuality computes a 0-100 quality score from fixed weights: answer
// substance dominates, metadata completeness fills out the rest.
func scoreQuality(inst types.GeneratedInstance) float64 {
	score := 0.0

	// Answer length, saturating at 1000 chars for the full 40 points.
	answerPoints := float64(len(inst.Answer)) / 1000.0 * 40.0
	if answerPoints > 40 {
		answerPoints = 40
	}
	score += answerPoints

	// Tag richness, 5 points each up to 20.
	tagPoints := float64(len(inst.Tags)) * 5.0
	if tagPoints > 20 {
		tagPoints = 20
	}
	score += tagPoints

	if inst.Category != "" {
		score += 10
	}
	if inst.Difficulty != "" {
		score += 10
	}
	score += inst.Confidence * 20.0

	if score > 100 {
		score = 100
	}
	return score
}

// provenance returns the session skills and workflows the instance text
// actually references, case-insensitively.
func provenance(inst types.GeneratedInstance, session *types.InterviewSession) (skills, workflows []string) {
	text := strings.ToLower(inst.Question + " " + inst.Answer)
	for _, s := range session.SkillList() {
		if strings.Contains(text, strings.ToLower(s)) {
			skills = append(skills, s)
		}
	}
	for _, w := range session.WorkflowList() {
		if strings.Contains(text, strings.ToLower(w)) {
			workflows = append(workflows, w)
		}
	}
	return skills, workflows
}
