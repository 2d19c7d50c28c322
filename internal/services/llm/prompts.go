package llm

import (
	"fmt"
	"strings"
	"time"

	"eventsnap/internal/services/events"
)

const (
	toolExtractEvent  = "extract_event"
	toolExtractEvents = "extract_events"
	toolDetectURLs    = "detect_urls"
)

const singleEventPrompt = `You extract one calendar event from the user's input (text and/or an image such as a flyer, screenshot or invitation).

Rules:
- Call the extract_event function exactly once.
- Dates use ISO 8601: "YYYY-MM-DD" for all-day events, "YYYY-MM-DDTHH:MM:SS" otherwise. Add an offset only when the input states one.
- Resolve relative phrases ("tomorrow", "next Friday", "next week") with the date context below.
- If no end time is given, omit endDate.
- Omit any field you are not sure about. Never invent locations or URLs.
- Set timezone to an IANA name when the input names a zone or city.
- confidence is your certainty between 0 and 1 that the event is correct.
- If the input contains no event at all, call the function with only confidence set to 0.`

const batchEventsPrompt = `You extract every calendar event from the user's input (text and/or an image such as a schedule, timetable, agenda or poster).

Rules:
- Call the extract_events function exactly once with an array of at most 50 events, in the order they appear.
- Dates use ISO 8601: "YYYY-MM-DD" for all-day events, "YYYY-MM-DDTHH:MM:SS" otherwise.
- Resolve relative phrases ("tomorrow", "next Friday", "next week") with the date context below.
- Omit any field you are not sure about. Never invent locations or URLs.
- Set allDay to true for events without a time of day.
- ALL-DAY TRIGGERS: if the user's instructions contain any of the phrases "single day", "all day", "full day", "whole day" (also written "single-day", "all-day", "full-day", "whole-day", e.g. "import as all-day"), then EVERY event must have allDay set to true and startDate/endDate as plain dates, regardless of any times in the source.
- totalCount is the number of events returned; confidence is your overall certainty between 0 and 1.`

const allDayDirective = `ALL-DAY MODE IS ON: the user asked for all-day import. Return every event with allDay: true and date-only startDate/endDate.`

const detectURLsPrompt = `Find the web links in the user's text that point to pages describing an event (event pages, tickets, meetups, invitations).

Rules:
- Call the detect_urls function exactly once.
- urls: every such link, complete with scheme, in the order they appear. Add "https://" when the scheme is missing.
- remainingText: the user's text with those links removed, keeping all other words exactly.
- hasUrls: true when urls is not empty.`

var allDayTriggers = []string{
	"single day", "single-day",
	"all day", "all-day",
	"full day", "full-day",
	"whole day", "whole-day",
}

// HasAllDayTrigger reports whether the instruction text asks for all-day import.
func HasAllDayTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range allDayTriggers {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// DateContext renders the relative-date anchor for the prompt. It returns
// an empty string when no usable client context is present.
func DateContext(cc *ClientContext) string {
	if cc == nil || (cc.CurrentDateTime == "" && cc.Timezone == "") {
		return ""
	}

	loc := events.LoadLocation(cc.Timezone)
	zone := cc.Timezone
	if loc == nil {
		loc = time.UTC
		zone = "UTC"
	}

	now, err := time.Parse(time.RFC3339, cc.CurrentDateTime)
	if err != nil {
		now = time.Now()
	}
	now = now.In(loc)

	tomorrow := now.AddDate(0, 0, 1)
	daysToMonday := (8 - int(now.Weekday())) % 7
	if daysToMonday == 0 {
		daysToMonday = 7
	}
	nextWeek := now.AddDate(0, 0, daysToMonday)

	var b strings.Builder
	b.WriteString("Date context:\n")
	fmt.Fprintf(&b, "- Current date and time: %s (%s, UTC%s)\n",
		now.Format("Monday, January 2, 2006 15:04"), zone, now.Format("-07:00"))
	fmt.Fprintf(&b, "- Today: %s (%s)\n", now.Format("2006-01-02"), now.Weekday())
	fmt.Fprintf(&b, "- Tomorrow: %s (%s)\n", tomorrow.Format("2006-01-02"), tomorrow.Weekday())
	fmt.Fprintf(&b, "- Next week starts: %s (%s)\n", nextWeek.Format("2006-01-02"), nextWeek.Weekday())
	fmt.Fprintf(&b, "Interpret times in %s unless the input names another zone.", zone)
	if cc.Locale != "" {
		fmt.Fprintf(&b, " The user's locale is %s.", cc.Locale)
	}
	return b.String()
}

// instructionText assembles the leading text part of the user message.
func instructionText(prompt string, req Request, batch bool) string {
	sections := []string{prompt}
	if dc := DateContext(req.ClientContext); dc != "" {
		sections = append(sections, dc)
	}
	if batch && req.WantsAllDay() {
		sections = append(sections, allDayDirective)
	}
	if s := strings.TrimSpace(req.Instructions); s != "" {
		sections = append(sections, "User instructions:\n"+s)
	}
	if s := strings.TrimSpace(req.Text); s != "" {
		sections = append(sections, "Input:\n"+s)
	}
	return strings.Join(sections, "\n\n")
}

func eventProperties() map[string]any {
	return map[string]any{
		"title":       map[string]any{"type": "string", "description": "Event title"},
		"startDate":   map[string]any{"type": "string", "description": "ISO 8601 start date or date-time"},
		"endDate":     map[string]any{"type": "string", "description": "ISO 8601 end date or date-time"},
		"allDay":      map[string]any{"type": "boolean", "description": "True when the event has no time of day"},
		"location":    map[string]any{"type": "string", "description": "Venue or address"},
		"description": map[string]any{"type": "string", "description": "Details worth keeping"},
		"url":         map[string]any{"type": "string", "description": "Event page or ticket link"},
		"timezone":    map[string]any{"type": "string", "description": "IANA timezone name"},
		"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	}
}

func singleEventSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": eventProperties(),
		"required":   []string{"confidence"},
	}
}

func batchEventsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"events": map[string]any{
				"type":     "array",
				"maxItems": MaxBatchEvents,
				"items": map[string]any{
					"type":       "object",
					"properties": eventProperties(),
					"required":   []string{"confidence"},
				},
			},
			"totalCount": map[string]any{"type": "integer"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []string{"events", "totalCount", "confidence"},
	}
}

func detectURLsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"urls":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"remainingText": map[string]any{"type": "string"},
			"hasUrls":       map[string]any{"type": "boolean"},
		},
		"required": []string{"urls", "remainingText", "hasUrls"},
	}
}
