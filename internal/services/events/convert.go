package events

import (
	"encoding/json"
	"strings"
	"time"
)

// ConvertOptions carries the request context needed to turn a ParsedEvent
// into a CalendarEvent.
type ConvertOptions struct {
	Source         Source
	OriginalInput  string
	ClientTimezone string
	// ForceAllDay marks every event all-day. Set when the instruction text
	// contained an all-day trigger phrase.
	ForceAllDay bool
	Attachments []EventAttachment
	Now         func() time.Time
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// abbreviations the model likes to return instead of IANA names.
var tzAbbreviations = map[string]string{
	"EST": "America/New_York", "EDT": "America/New_York", "ET": "America/New_York",
	"CST": "America/Chicago", "CDT": "America/Chicago", "CT": "America/Chicago",
	"MST": "America/Denver", "MDT": "America/Denver", "MT": "America/Denver",
	"PST": "America/Los_Angeles", "PDT": "America/Los_Angeles", "PT": "America/Los_Angeles",
	"GMT": "Europe/London", "BST": "Europe/London",
	"CET": "Europe/Berlin", "CEST": "Europe/Berlin",
	"JST": "Asia/Tokyo", "KST": "Asia/Seoul", "IST": "Asia/Kolkata",
	"AEST": "Australia/Sydney", "AEDT": "Australia/Sydney",
	"UTC": "UTC", "Z": "UTC",
}

// LoadLocation resolves an IANA name or a common abbreviation. It returns
// nil when the zone is unknown.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if iana, ok := tzAbbreviations[strings.ToUpper(name)]; ok {
		name = iana
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	return loc
}

// ParseDate parses an ISO 8601 date or date-time. Values without an offset
// are read in loc. dateOnly reports a bare YYYY-MM-DD value.
func ParseDate(value string, loc *time.Location) (t time.Time, dateOnly bool, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, false
	}
	if loc == nil {
		loc = time.UTC
	}
	if d, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return d, true, true
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, value, loc); err == nil {
			return parsed, false, true
		}
	}
	return time.Time{}, false, false
}

// FromParsed converts untrusted model output into a CalendarEvent. It never
// fails: a bad start becomes now and a bad end becomes start plus one hour.
// Inverted ranges are kept as-is and rejected only by Validate.
func FromParsed(p ParsedEvent, opts ConvertOptions) CalendarEvent {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	created := now()

	timezone := strings.TrimSpace(deref(p.Timezone))
	loc := LoadLocation(timezone)
	if loc == nil {
		// Record the zone the dates were read in so stored all-day dates
		// keep their calendar day after a UTC round trip.
		timezone = ""
		if loc = LoadLocation(opts.ClientTimezone); loc != nil {
			timezone = strings.TrimSpace(opts.ClientTimezone)
		}
	}

	start, dateOnly, ok := ParseDate(deref(p.StartDate), loc)
	if !ok {
		start = created
		dateOnly = false
	}
	end, _, ok := ParseDate(deref(p.EndDate), loc)
	if !ok {
		end = start.Add(time.Hour)
	}

	allDay := dateOnly
	if p.AllDay != nil {
		allDay = *p.AllDay
	}
	if opts.ForceAllDay {
		allDay = true
	}

	title := strings.TrimSpace(deref(p.Title))
	if title == "" {
		title = DefaultTitle
	}

	source := opts.Source
	if source == "" {
		source = SourceText
	}

	var attachments []EventAttachment
	if len(opts.Attachments) > 0 {
		attachments = append(attachments, opts.Attachments...)
	}

	return CalendarEvent{
		ID:            NewID(),
		Title:         title,
		StartDate:     start,
		EndDate:       end,
		AllDay:        allDay,
		Location:      strings.TrimSpace(deref(p.Location)),
		Description:   strings.TrimSpace(deref(p.Description)),
		URL:           strings.TrimSpace(deref(p.URL)),
		Timezone:      timezone,
		Created:       created,
		Source:        source,
		OriginalInput: opts.OriginalInput,
		Attachments:   attachments,
	}
}

// FromParsedAll converts a slice of parsed events with shared options.
func FromParsedAll(parsed []ParsedEvent, opts ConvertOptions) []CalendarEvent {
	out := make([]CalendarEvent, 0, len(parsed))
	for _, p := range parsed {
		out = append(out, FromParsed(p, opts))
	}
	return out
}

// MetadataAttachment records the raw model output next to the event.
func MetadataAttachment(p ParsedEvent) EventAttachment {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return NewAttachment("llm-metadata.json", "application/json", AttachmentLLMMetadata, data)
}
