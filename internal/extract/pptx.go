package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// slideName matches slide parts and captures the slide number.
var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t>.
var atTag = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

// extractPPTX returns one block per slide in slide-number order. Text runs are joined by spaces.
func extractPPTX(content []byte) ([]string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return nil, err
	}
	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	blocks := make([]string, 0, len(slides))
	for _, s := range slides {
		body, err := readEntry(s.file)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		var parts []string
		for _, m := range atTag.FindAllStringSubmatch(string(body), -1) {
			if t := strings.TrimSpace(m[1]); t != "" {
				parts = append(parts, unescapeXML(t))
			}
		}
		blocks = append(blocks, strings.Join(parts, " "))
	}
	return blocks, nil
}
