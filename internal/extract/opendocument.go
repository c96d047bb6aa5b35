package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const odfContentPath = "content.xml"

// odfText captures the text directly inside text:p, text:h and text:span openings, in document order.
var odfText = regexp.MustCompile(`<text:(?:p|h|span)(?:\s[^>]*)?>([^<]*)`)

var (
	odpPageSplit  = regexp.MustCompile(`<draw:page[\s>]`)
	odsTableSplit = regexp.MustCompile(`<table:table[\s>]`)
)

// extractODP returns one block per presentation page.
func extractODP(content []byte) ([]string, error) {
	return extractODF(content, "ODP", odpPageSplit)
}

// extractODS returns one block per spreadsheet table.
func extractODS(content []byte) ([]string, error) {
	return extractODF(content, "ODS", odsTableSplit)
}

// extractODF reads content.xml and splits it at each match of split; text before the
// first match (styles, metadata) is discarded.
func extractODF(content []byte, format string, split *regexp.Regexp) ([]string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return nil, err
	}
	body, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", format, err)
	}
	if body == nil {
		return nil, fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	s := string(body)
	locs := split.FindAllStringIndex(s, -1)
	blocks := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		var parts []string
		for _, m := range odfText.FindAllStringSubmatch(s[loc[0]:end], -1) {
			if t := strings.TrimSpace(m[1]); t != "" {
				parts = append(parts, unescapeXML(t))
			}
		}
		blocks = append(blocks, strings.Join(parts, " "))
	}
	return blocks, nil
}
