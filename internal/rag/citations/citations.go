// Package citations resolves the bracketed source markers a generated answer
// embeds into (filename, page) pairs.
package citations

import (
	"regexp"
	"strconv"

	"docsearch/internal/rag/schema"
)

// The model is instructed to cite sources as "[Filename, Page N]". German
// answers use "Seite" instead of "Page"; both keywords are matched exactly as
// written. Brackets with any other content are ignored.
var markerPattern = regexp.MustCompile(`\[([^\[\]]+?),\s*(?:Page|Seite)\s+([0-9]+)\]`)

// Extract scans text for citation markers and returns the referenced source
// pages, deduplicated by (filename, page) in order of first appearance.
// Partial generations are fine: any complete marker present in the text is
// picked up.
func Extract(text string) []schema.Citation {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[schema.Citation]struct{}, len(matches))
	out := make([]schema.Citation, 0, len(matches))
	for _, m := range matches {
		page, err := strconv.Atoi(m[2])
		if err != nil || page < 1 {
			continue
		}
		c := schema.Citation{Filename: m[1], Page: page}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
