// Package models defines the data shared by ingestion, retrieval and grading.
package models

// Passage is a contiguous slice of source text stored and indexed as one retrieval unit.
// SourceOrder is the position assigned by the chunker and is never rewritten.
type Passage struct {
	Text        string `json:"text"`
	SourceOrder int    `json:"source_order"`
}

// Texts returns the passage texts in order.
func Texts(passages []Passage) []string {
	out := make([]string, len(passages))
	for i, p := range passages {
		out[i] = p.Text
	}
	return out
}

// FromTexts assigns source order by position.
func FromTexts(texts []string) []Passage {
	out := make([]Passage, len(texts))
	for i, t := range texts {
		out[i] = Passage{Text: t, SourceOrder: i}
	}
	return out
}
