// Package export renders calendar events as an iCalendar document.
package export

import (
	"encoding/base64"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
)

const (
	ContentType = "text/calendar; charset=utf-8"
	ProductID   = "-//EventSnap//Event Export//EN"
	Filename    = "events.ics"
)

type Options struct {
	CalendarName string
	// IncludeAttachments embeds every attachment as a base64 ATTACH property.
	IncludeAttachments bool
	Now                func() time.Time
}

// ICS validates the whole list and renders it. Nothing is rendered if any
// event is invalid; the returned *events.ValidationError lists all of them.
func ICS(list []events.CalendarEvent, opts Options) (string, error) {
	if err := events.Validate(list); err != nil {
		return "", err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(ProductID)
	if opts.CalendarName != "" {
		cal.SetXWRCalName(opts.CalendarName)
	}

	stamp := opts.Now().UTC()
	for _, e := range list {
		addEvent(cal, e, stamp, opts.IncludeAttachments)
	}

	log.Debug().Int("events", len(list)).Msg("Rendered ICS export")
	return cal.Serialize(), nil
}

func addEvent(cal *ics.Calendar, e events.CalendarEvent, stamp time.Time, withAttachments bool) {
	id := e.ID
	if id == "" {
		id = events.NewID()
	}
	ev := cal.AddEvent(id + "@eventsnap")
	ev.SetDtStampTime(stamp)
	if !e.Created.IsZero() {
		ev.SetCreatedTime(e.Created.UTC())
	}

	if e.AllDay {
		start, end := allDayRange(e)
		ev.SetAllDayStartAt(start)
		ev.SetAllDayEndAt(end)
	} else {
		ev.SetStartAt(e.StartDate.UTC())
		ev.SetEndAt(e.EndDate.UTC())
	}

	ev.SetSummary(e.Title)
	if e.Location != "" {
		ev.SetLocation(e.Location)
	}
	if e.Description != "" {
		ev.SetDescription(e.Description)
	}
	if e.URL != "" {
		ev.SetURL(e.URL)
	}

	if !withAttachments {
		return
	}
	for _, a := range e.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			log.Warn().Err(err).Str("event_id", e.ID).Str("attachment", a.Filename).Msg("Skipping undecodable attachment")
			continue
		}
		ev.AddAttachmentBinary(data, a.MimeType)
	}
}

// allDayRange returns calendar dates for DTSTART and the exclusive DTEND,
// read in the event's own timezone.
func allDayRange(e events.CalendarEvent) (time.Time, time.Time) {
	loc := events.LoadLocation(e.Timezone)
	if loc == nil {
		loc = e.StartDate.Location()
	}
	start := dateOf(e.StartDate.In(loc))

	endLocal := e.EndDate.In(loc)
	end := dateOf(endLocal)
	if !endLocal.Equal(time.Date(endLocal.Year(), endLocal.Month(), endLocal.Day(), 0, 0, 0, 0, loc)) {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
