package indexer

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/saiten/internal/models"
)

const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 240
)

// Chunker splits extracted pages into overlapping byte windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap, both in bytes.
// An overlap that would stall the window (>= size) is clamped to size/5.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Size returns the window size in bytes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap in bytes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split joins the non-empty pages with a paragraph break and cuts the result into passages.
// Each window ends at the last paragraph break, sentence end, or whitespace that lies beyond
// the overlap, falling back to a hard cut on a rune boundary. The next window starts overlap
// bytes before the cut, moved forward to a word start. Output is deterministic and never
// contains empty passages.
func (c *Chunker) Split(pages []string) []models.Passage {
	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = Preprocess(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	text := strings.Join(kept, "\n\n")

	var out []models.Passage
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, models.Passage{Text: s, SourceOrder: len(out)})
		}
	}
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			emit(text[start:])
			break
		}
		cut := c.breakPoint(text, start, end)
		emit(text[start:cut])
		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = wordStart(text, next, cut)
	}
	return out
}

// breakPoint returns the absolute cut position for the window text[start:end].
func (c *Chunker) breakPoint(text string, start, end int) int {
	window := text[start:end]
	if i := strings.LastIndex(window, "\n\n"); i > c.overlap {
		return start + i
	}
	if i := lastSentenceEnd(window); i > c.overlap {
		return start + i
	}
	if i := strings.LastIndexAny(window, " \t\n"); i > c.overlap {
		return start + i
	}
	cut := end
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == start {
		cut = end
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
	}
	return cut
}

// lastSentenceEnd returns the offset just past the last sentence terminator that is followed
// by whitespace, or the offset of the last single newline, whichever is later. -1 if none.
func lastSentenceEnd(window string) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '\n':
			return i
		case '.', '!', '?':
			if i+1 < len(window) && isSpace(window[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

// wordStart moves pos forward to the start of the next word, never past limit.
func wordStart(text string, pos, limit int) int {
	if pos > 0 && !isSpace(text[pos-1]) {
		for pos < limit && !isSpace(text[pos]) {
			pos++
		}
	}
	for pos < limit && isSpace(text[pos]) {
		pos++
	}
	return pos
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}
