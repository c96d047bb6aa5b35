package grading

import (
	"errors"
	"testing"

	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/models"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		desc string
		raw  string
		want models.CriterionResult
	}{
		{"plain", `{"score": 8, "feedback": "Clear thesis."}`, models.CriterionResult{Score: 8, Feedback: "Clear thesis."}},
		{"fenced", "```json\n{\"score\": 6.5, \"feedback\": \"ok\"}\n```", models.CriterionResult{Score: 6.5, Feedback: "ok"}},
		{"prose", "Here is my grade:\n{\"score\": 3, \"feedback\": \"thin\"}\nThanks!", models.CriterionResult{Score: 3, Feedback: "thin"}},
		{"numeric string", `{"score": " 7 ", "feedback": "fine"}`, models.CriterionResult{Score: 7, Feedback: "fine"}},
		{"fraction string", `{"score": "9/10", "feedback": "great"}`, models.CriterionResult{Score: 9, Feedback: "great"}},
		{"capitalized keys", `{"Score": 5, "Feedback": "mid"}`, models.CriterionResult{Score: 5, Feedback: "mid"}},
		{"missing feedback", `{"score": 4}`, models.CriterionResult{Score: 4, Feedback: "No feedback provided"}},
		{"empty feedback", `{"score": 4, "feedback": "  "}`, models.CriterionResult{Score: 4, Feedback: "No feedback provided"}},
		{"missing score", `{"feedback": "no number"}`, models.CriterionResult{Score: 0, Feedback: "no number"}},
		{"structured feedback", `{"score": 2, "feedback": ["a","b"]}`, models.CriterionResult{Score: 2, Feedback: `["a","b"]`}},
	}
	for _, tt := range tests {
		got, err := ParseResponse(tt.raw)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.desc, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.desc, got, tt.want)
		}
	}
}

func TestParseResponse_Failures(t *testing.T) {
	for _, raw := range []string{
		"",
		"The essay deserves a seven.",
		"{not json}",
		`{"score": "seven", "feedback": "x"}`,
		`{"score": "NaN"}`,
		`[1, 2]`,
	} {
		if _, err := ParseResponse(raw); !errors.Is(err, errs.ErrParse) {
			t.Errorf("ParseResponse(%q): expected ErrParse, got %v", raw, err)
		}
	}
}

func TestRenderPrompt(t *testing.T) {
	tests := []struct {
		template, want string
	}{
		{"Q: {{question}} E: {{essay}} C: {{rag_context}}", "Q: why E: because C: ctx"},
		{"Q: {question} E: {essay} C: {context}", "Q: why E: because C: ctx"},
		{"{{context}} and {{context}}", "ctx and ctx"},
		{"no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		if got := RenderPrompt(tt.template, "why", "because", "ctx"); got != tt.want {
			t.Errorf("RenderPrompt(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
	// substituted text is not rescanned
	got := RenderPrompt("E: {essay} C: {context}", "q", "I wrote {context} here", "ctx")
	if got != "E: I wrote {context} here C: ctx" {
		t.Errorf("recursive substitution: %q", got)
	}
}
