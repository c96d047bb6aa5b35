package grading

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/models"
)

const (
	msgParseFailed = "Failed to parse LLM response"
	msgNoResponse  = "No response from LLM"
	msgNoFeedback  = "No feedback provided"
)

// ParseResponse extracts {score, feedback} from oracle output. It tolerates markdown code
// fences, prose around the JSON object and scores given as numeric strings. A missing score
// is 0 and missing feedback becomes "No feedback provided".
func ParseResponse(raw string) (models.CriterionResult, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return models.CriterionResult{}, err
	}
	score, err := parseScore(lookup(obj, "score"))
	if err != nil {
		return models.CriterionResult{}, err
	}
	return models.CriterionResult{Score: score, Feedback: parseFeedback(lookup(obj, "feedback"))}, nil
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	s := stripFences(strings.TrimSpace(raw))
	if s == "" {
		return nil, errs.Parse("empty response")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		return obj, nil
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errs.Parse("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil || obj == nil {
		return nil, errs.Parse("invalid JSON object in response")
	}
	return obj, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// lookup finds key case-insensitively, preferring an exact match.
func lookup(obj map[string]json.RawMessage, key string) json.RawMessage {
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func parseScore(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errs.Parse("score is not a number: %s", raw)
	}
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		// "7/10"
		s = strings.TrimSpace(s[:i])
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, errs.Parse("score is not a number: %q", s)
	}
	return n, nil
}

func parseFeedback(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return msgNoFeedback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return msgNoFeedback
		}
		return s
	}
	return string(raw)
}
