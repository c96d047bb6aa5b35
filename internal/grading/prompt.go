package grading

import "strings"

// NoContext replaces the retrieved context when retrieval fails or finds nothing.
const NoContext = "No relevant context available."

// RenderPrompt substitutes the question, essay and context placeholders in one pass.
// Substituted text is never rescanned, so an essay containing "{context}" stays literal.
func RenderPrompt(template, question, essay, context string) string {
	return strings.NewReplacer(
		"{{question}}", question,
		"{{essay}}", essay,
		"{{rag_context}}", context,
		"{{context}}", context,
		"{question}", question,
		"{essay}", essay,
		"{context}", context,
	).Replace(template)
}
