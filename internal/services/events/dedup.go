package events

import (
	"strings"
	"time"
	"unicode"
)

const (
	// TitleSimilarityThreshold is the minimum normalized title similarity for a match.
	TitleSimilarityThreshold = 0.85
	// LocationSimilarityThreshold applies only when both events carry a location.
	LocationSimilarityThreshold = 0.7
	// StartTolerance is the inclusive window between start times.
	StartTolerance = 5 * time.Minute
)

// Normalize lowercases s, drops everything outside [a-z0-9 ] and collapses
// whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity scores two strings after normalization: 1.0 for an exact match,
// 0.9 when one contains the other, otherwise the Jaccard index of their word
// sets. An empty side only matches another empty side.
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}
	return jaccard(strings.Fields(a), strings.Fields(b))
}

func jaccard(a, b []string) float64 {
	set := make(map[string]struct{}, len(a))
	for _, w := range a {
		set[w] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for w := range set {
		union[w] = struct{}{}
	}
	seen := make(map[string]struct{}, len(b))
	intersection := 0
	for _, w := range b {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		union[w] = struct{}{}
		if _, ok := set[w]; ok {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// IsDuplicate reports whether a and b describe the same event.
func IsDuplicate(a, b CalendarEvent) bool {
	if Similarity(a.Title, b.Title) < TitleSimilarityThreshold {
		return false
	}
	diff := a.StartDate.Sub(b.StartDate)
	if diff < 0 {
		diff = -diff
	}
	if diff > StartTolerance {
		return false
	}
	locA, locB := strings.TrimSpace(a.Location), strings.TrimSpace(b.Location)
	if locA != "" && locB != "" && Similarity(locA, locB) < LocationSimilarityThreshold {
		return false
	}
	return true
}

// CompletenessScore picks the merge base: the more complete event wins.
func CompletenessScore(e CalendarEvent) float64 {
	score := 0.0
	if title := strings.TrimSpace(e.Title); title != "" && title != DefaultTitle {
		score += 2
	}
	if e.Description != "" {
		score += float64(len(e.Description)) / 100
	}
	if e.Location != "" {
		score += 1
	}
	if len(e.Attachments) > 0 {
		score += 0.5
	}
	return score
}

// Merge combines two duplicates. The higher scored event is the base (a on
// a tie); the other contributes a longer description, a location the base
// lacks, and attachments whose filename the base does not carry yet.
func Merge(a, b CalendarEvent) CalendarEvent {
	base, other := a, b
	if CompletenessScore(b) > CompletenessScore(a) {
		base, other = b, a
	}

	merged := base
	merged.Attachments = append([]EventAttachment(nil), base.Attachments...)

	if len(other.Description) > len(merged.Description) {
		merged.Description = other.Description
	}
	if merged.Location == "" && other.Location != "" {
		merged.Location = other.Location
	}

	have := make(map[string]struct{}, len(merged.Attachments))
	for _, att := range merged.Attachments {
		have[att.Filename] = struct{}{}
	}
	for _, att := range other.Attachments {
		if _, ok := have[att.Filename]; ok {
			continue
		}
		have[att.Filename] = struct{}{}
		merged.Attachments = append(merged.Attachments, att)
	}
	if len(merged.Attachments) == 0 {
		merged.Attachments = nil
	}
	return merged
}

// Deduplicate collapses near-duplicate events. Each surviving event absorbs
// every later duplicate in one forward pass; output keeps the order of first
// occurrence. The pass is repeated until nothing merges so that the result
// is a fixed point. The input slice is not modified.
func Deduplicate(list []CalendarEvent) []CalendarEvent {
	out := dedupPass(list)
	for len(out) < len(list) {
		list = out
		out = dedupPass(list)
	}
	return out
}

func dedupPass(list []CalendarEvent) []CalendarEvent {
	consumed := make([]bool, len(list))
	out := make([]CalendarEvent, 0, len(list))
	for i := range list {
		if consumed[i] {
			continue
		}
		base := list[i]
		for j := i + 1; j < len(list); j++ {
			if consumed[j] || !IsDuplicate(base, list[j]) {
				continue
			}
			base = Merge(base, list[j])
			consumed[j] = true
		}
		out = append(out, base)
	}
	return out
}
