package events

import "strings"

// Validate checks events before export: non-empty title, concrete start and
// end, start not after end. All failures are reported together.
func Validate(list []CalendarEvent) error {
	var invalid []FieldError
	for _, e := range list {
		var reasons []string
		if strings.TrimSpace(e.Title) == "" {
			reasons = append(reasons, "title is required")
		}
		if e.StartDate.IsZero() {
			reasons = append(reasons, "start date is missing")
		}
		if e.EndDate.IsZero() {
			reasons = append(reasons, "end date is missing")
		}
		if !e.StartDate.IsZero() && !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate) {
			reasons = append(reasons, "end date is before start date")
		}
		if len(reasons) > 0 {
			invalid = append(invalid, FieldError{EventID: e.ID, Title: e.Title, Reasons: reasons})
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Events: invalid}
	}
	return nil
}
