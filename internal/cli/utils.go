// Package cli provides output writers for the saiten command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/indexer"
	"github.com/hyperjump/saiten/internal/retrieval"
	"github.com/hyperjump/saiten/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a --format value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

const previewLen = 200

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieval writes retrieved passages to w in the given format.
func WriteRetrieval(w io.Writer, query string, res *retrieval.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "\nFound %d passages for %q (%d bytes", len(res.Passages), query, res.TotalBytes)
	if res.Escalated {
		fmt.Fprint(w, ", escalated")
	}
	fmt.Fprint(w, ")\n\n")
	for i, p := range res.Passages {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "#%d | passage %d | distance %.4f\n", i+1, p.SourceOrder, p.Distance)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(p.Text, previewLen))
	}
	return nil
}

// WriteIngest writes the outcome of an ingestion.
func WriteIngest(w io.Writer, res *indexer.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Indexed %q into %s: %d passages, %s index", res.Name, res.Key, res.Passages, res.Kind)
	if res.NList > 0 {
		fmt.Fprintf(w, " (nlist %d, %d bits)", res.NList, res.Bits)
	}
	fmt.Fprintf(w, "\n  %s\n  %s\n", res.IndexKey, res.ChunksKey)
	return nil
}

// WriteGrade writes a graded batch. Text output lists essays in input order.
func WriteGrade(w io.Writer, res *grading.BatchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "\nGraded %d essays (%d completed, %d failed), total score %.2f\n\n",
		res.TotalEssays, res.Completed, res.Failed, res.TotalScore)
	for _, out := range res.Aligned() {
		fmt.Fprintln(w, rule)
		status := ""
		if out.Failed {
			status = " [failed]"
		}
		fmt.Fprintf(w, "Essay %d: %.2f%s\n", out.Index, out.Total, status)
		names := make([]string, 0, len(out.Results))
		for name := range out.Results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := out.Results[name]
			fmt.Fprintf(w, "  %s: %.2f  %s\n", name, r.Score, utils.Truncate(r.Feedback, previewLen))
		}
	}
	fmt.Fprintln(w)
	return nil
}

// WriteDescription writes what is stored for a corpus key.
func WriteDescription(w io.Writer, d *corpus.Description, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	fmt.Fprintf(w, "Corpus %s\n", d.Key)
	fmt.Fprintf(w, "  name:        %s\n", d.Name)
	fmt.Fprintf(w, "  index:       %s (%s, dim %d, %d vectors)\n", d.IndexKey, d.Kind, d.Dim, d.Vectors)
	fmt.Fprintf(w, "  chunks:      %s (%d passages)\n", d.ChunksKey, d.Passages)
	fmt.Fprintf(w, "  generations: %d\n", d.Generations)
	fmt.Fprintf(w, "  updated:     %s\n", d.UpdatedAt.Format("2006-01-02 15:04:05"))
	if d.NameMismatch {
		fmt.Fprintln(w, "  warning:     index and chunks come from different documents")
	}
	return nil
}
