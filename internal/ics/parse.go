package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"sharedcal/internal/calmath"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/model"
)

// maxAllDaySpan bounds how many daily drafts one multi-day all-day VEVENT
// expands to.
const maxAllDaySpan = 31

const untitled = "(untitled)"

var (
	dayStart = calmath.Clock{}
	dayEnd   = calmath.Clock{Hour: 23, Minute: 59, Second: 59}
)

// Item is one importable schedule produced from a VEVENT.
type Item struct {
	UID   string
	Draft model.Draft
	// Clamped is set when the event ran past midnight and was cut at the
	// end of its first day.
	Clamped bool
}

// ParseICS parses a single ICS payload into drafts on the local calendar of
// loc.
//
//   - All-day events cover 00:00:00-23:59:59 on every day they span.
//   - Timed events keep the calendar date of their start; an end past that
//     day is clamped to 23:59:59.
//   - RRULE is ignored (only the first occurrence is imported) and
//     RECURRENCE-ID overrides are skipped.
func ParseICS(src Source, body []byte, loc *time.Location) ([]Item, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, fmt.Errorf("ics: parse: %w", err)
	}

	items := make([]Item, 0)
	for _, ve := range cal.Events() {
		parsed, perr := parseVEvent(ve, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "id", src.ID, "reason", perr.Error())
			continue
		}
		items = append(items, parsed...)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "item_count", len(items))
	return items, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) ([]Item, error) {
	uid := ""
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		uid = p.Value
	}
	if ve.GetProperty("RECURRENCE-ID") != nil {
		return nil, fmt.Errorf("%s: recurrence override", uid)
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		appLog.Debug("ics recurrence ignored, importing first occurrence", "uid", uid, "rrule", p.Value)
	}

	title := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		title = strings.TrimSpace(p.Value)
	}
	if title == "" {
		title = untitled
	}
	contents := ""
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		contents = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil && strings.TrimSpace(p.Value) != "" {
		contents = strings.TrimSpace(contents + "\n" + strings.TrimSpace(p.Value))
	}
	title = model.Truncate(title, model.MaxTitleLength)
	contents = model.Truncate(contents, model.MaxContentsLength)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return nil, fmt.Errorf("%s: missing DTSTART", uid)
	}

	if isAllDay(dtStart) {
		return allDayItems(ve, uid, title, contents)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}
	start = start.In(loc)
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		// No DTEND (or a zero-length one): give it an hour.
		end = start.Add(time.Hour)
	}
	end = end.In(loc)

	item := Item{
		UID: uid,
		Draft: model.Draft{
			Date:      calmath.DateOf(start),
			StartTime: clockOf(start),
			EndTime:   clockOf(end),
			Title:     title,
			Contents:  contents,
		},
	}
	if calmath.DateOf(end) != item.Draft.Date {
		item.Draft.EndTime = dayEnd
		item.Clamped = true
	}
	if !item.Draft.StartTime.Before(item.Draft.EndTime) {
		return nil, fmt.Errorf("%s: starts at the last second of the day", uid)
	}
	return []Item{item}, nil
}

func allDayItems(ve *ical.VEvent, uid, title, contents string) ([]Item, error) {
	first, err := parseICSDate(ve.GetProperty(ical.ComponentPropertyDtStart).Value)
	if err != nil {
		return nil, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}
	days := 1
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		// DTEND of an all-day event is exclusive.
		if last, err := parseICSDate(p.Value); err == nil && last.After(first) {
			days = first.DaysUntil(last)
		}
	}
	days = min(days, maxAllDaySpan)

	span := calmath.Range{Start: first, End: first.AddDays(days - 1)}
	items := make([]Item, 0, days)
	for _, d := range span.Dates() {
		items = append(items, Item{
			UID: uid,
			Draft: model.Draft{
				Date:      d,
				StartTime: dayStart,
				EndTime:   dayEnd,
				Title:     title,
				Contents:  contents,
			},
		})
	}
	return items, nil
}

// isAllDay reports VALUE=DATE or a value without a time part.
func isAllDay(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseICSDate(v string) (calmath.Date, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return calmath.Date{}, fmt.Errorf("malformed date %q", v)
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return calmath.Date{}, err
	}
	return calmath.DateOf(t), nil
}

func clockOf(t time.Time) calmath.Clock {
	return calmath.Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}
