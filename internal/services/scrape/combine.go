package scrape

import (
	"fmt"
	"strings"
)

// Combine builds the text handed to extraction: the remaining text followed
// by one block per successful scrape, blank-line joined. Empty blocks are
// dropped, so the result is empty when there is nothing to extract.
func Combine(remaining string, results []ScrapedContent) string {
	var blocks []string
	if s := strings.TrimSpace(remaining); s != "" {
		blocks = append(blocks, s)
	}
	for _, r := range results {
		if r.Status != StatusSuccess {
			continue
		}
		if r.Title == "" && r.Text == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("%s\n\n%s\n\n---\nOriginal Event: %s", r.Title, r.Text, r.URL))
	}
	return strings.Join(blocks, "\n\n")
}
