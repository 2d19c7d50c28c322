package scrape

import (
	"regexp"
	"strings"
)

var (
	scriptRe     = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleRe      = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	titleRe      = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title\s*>`)
	tagRe        = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Only these entities are decoded; anything else is left as written.
	entities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// Reduce turns an HTML document into its title and visible text.
func Reduce(html string) (title, text string) {
	body := scriptRe.ReplaceAllString(html, " ")
	body = styleRe.ReplaceAllString(body, " ")

	if m := titleRe.FindStringSubmatch(body); m != nil {
		title = clean(tagRe.ReplaceAllString(m[1], " "))
	}

	text = clean(tagRe.ReplaceAllString(body, " "))
	return title, text
}

func clean(s string) string {
	s = entities.Replace(s)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
