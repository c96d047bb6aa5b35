package retrieval

import (
	"sort"
	"strings"
)

// DefaultExpansions maps topic phrases to related terms appended to queries that mention them.
var DefaultExpansions = map[string][]string{
	"photosynthesis":    {"chlorophyll", "light-dependent reactions", "calvin cycle", "glucose"},
	"cell division":     {"mitosis", "meiosis", "chromosomes", "cytokinesis"},
	"natural selection": {"evolution", "adaptation", "fitness", "variation"},
	"machine learning":  {"training data", "model", "supervised", "unsupervised"},
	"neural network":    {"neurons", "layers", "activation function", "backpropagation"},
	"climate change":    {"greenhouse gases", "global warming", "carbon dioxide", "emissions"},
	"supply and demand": {"price", "equilibrium", "market", "elasticity"},
	"world war":         {"allies", "axis", "treaty", "conflict"},
	"democracy":         {"elections", "representation", "constitution", "citizens"},
	"thermodynamics":    {"energy", "entropy", "heat", "temperature"},
}

// Expander appends related terms for known topic phrases. Matching is a case-insensitive
// substring test; phrases are visited in sorted order so the output is deterministic.
type Expander struct {
	phrases []string
	terms   map[string][]string
}

// NewExpander builds an expander over table. A nil table uses DefaultExpansions; an empty
// non-nil table disables expansion.
func NewExpander(table map[string][]string) *Expander {
	if table == nil {
		table = DefaultExpansions
	}
	e := &Expander{terms: make(map[string][]string, len(table))}
	for phrase, terms := range table {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" || len(terms) == 0 {
			continue
		}
		e.terms[p] = append(e.terms[p], terms...)
	}
	for p := range e.terms {
		e.phrases = append(e.phrases, p)
	}
	sort.Strings(e.phrases)
	return e
}

// Expand returns query followed by the related terms of every phrase it contains.
func (e *Expander) Expand(query string) string {
	lower := strings.ToLower(query)
	var extra []string
	for _, p := range e.phrases {
		if strings.Contains(lower, p) {
			extra = append(extra, e.terms[p]...)
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}
