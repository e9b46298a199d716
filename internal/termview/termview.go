// Package termview draws calendar renderings and event lists for the
// terminal commands.
package termview

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"sharedcal/internal/calmath"
	"sharedcal/internal/calview"
	"sharedcal/internal/layout"
	"sharedcal/internal/model"
)

// Options controls terminal styling.
type Options struct {
	// Color enables ANSI styling. Callers usually pass !color.NoColor.
	Color bool
	// CellWidth is the width of a month or week column. Zero means 16.
	CellWidth int
	// TwelveHour shows event times as "오후 1:00" or "1:00 PM" per Locale.
	TwelveHour bool
	Locale     calview.Locale
}

func (o Options) clock(c calmath.Clock) string {
	return o.Locale.ClockLabel(c, o.TwelveHour)
}

type theme struct {
	title    lipgloss.Style
	header   lipgloss.Style
	sunday   lipgloss.Style
	saturday lipgloss.Style
	other    lipgloss.Style
	today    lipgloss.Style
	event    lipgloss.Style
	badge    lipgloss.Style
	axis     lipgloss.Style
}

func newTheme(on bool) theme {
	plain := lipgloss.NewStyle()
	if !on {
		return theme{plain, plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return theme{
		title:    lipgloss.NewStyle().Bold(true).Underline(true),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		sunday:   lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		saturday: lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		other:    lipgloss.NewStyle().Faint(true),
		today:    lipgloss.NewStyle().Bold(true).Reverse(true),
		event:    lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		badge:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		axis:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (t theme) weekday(sunday, saturday bool) lipgloss.Style {
	switch {
	case sunday:
		return t.sunday
	case saturday:
		return t.saturday
	default:
		return t.header
	}
}

// Render draws r. Month and week render as a grid of columns; day renders an
// hour axis with each event spanning the hours it covers.
func Render(r calview.Rendering, opts Options) string {
	if opts.CellWidth <= 0 {
		opts.CellWidth = 16
	}
	t := newTheme(opts.Color)

	var b strings.Builder
	b.WriteString(t.title.Render(r.Title))
	b.WriteString("\n\n")
	switch {
	case r.Month != nil:
		b.WriteString(renderMonth(r.Month, t, opts))
	case r.Week != nil:
		b.WriteString(renderWeek(r.Week, t, opts))
	case r.Day != nil:
		b.WriteString(renderDay(r.Day, t, opts))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func cell(width int, lines ...string) string {
	for i, l := range lines {
		lines[i] = ansi.Truncate(l, width-1, "…")
	}
	return lipgloss.NewStyle().Width(width).Render(strings.Join(lines, "\n"))
}

func eventLine(ev model.Event, opts Options) string {
	return opts.clock(ev.StartTime) + " " + ev.Title
}

func renderMonth(mv *calview.MonthView, t theme, opts Options) string {
	width := opts.CellWidth
	headers := make([]string, 0, len(mv.Weekdays))
	for _, wd := range mv.Weekdays {
		headers = append(headers, cell(width, t.weekday(wd.Sunday, wd.Saturday).Render(wd.Name)))
	}
	rows := []string{lipgloss.JoinHorizontal(lipgloss.Top, headers...)}

	// Every cell in a week gets the same height so the columns line up.
	for _, week := range mv.Weeks {
		height := 1
		for _, c := range week {
			h := 1 + len(c.Visible)
			if c.Badge != "" {
				h++
			}
			height = max(height, h)
		}

		cells := make([]string, 0, len(week))
		for _, c := range week {
			label := t.weekday(c.Sunday, c.Saturday).Render(fmt.Sprintf("%2s", c.Label))
			switch {
			case c.IsToday:
				label = t.today.Render(fmt.Sprintf("%2s", c.Label))
			case !c.IsCurrentPeriod:
				label = t.other.Render(fmt.Sprintf("%2s", c.Label))
			}
			lines := []string{label}
			for _, ev := range c.Visible {
				lines = append(lines, t.event.Render(eventLine(ev, opts)))
			}
			if c.Badge != "" {
				lines = append(lines, t.badge.Render(c.Badge))
			}
			for len(lines) < height {
				lines = append(lines, "")
			}
			cells = append(cells, cell(width, lines...))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderWeek(wv *calview.WeekView, t theme, opts Options) string {
	cols := make([]string, 0, len(wv.Days))
	for _, d := range wv.Days {
		head := t.weekday(d.Sunday, d.Saturday).Render(d.Weekday + " " + d.Label)
		if d.IsToday {
			head = t.today.Render(d.Weekday + " " + d.Label)
		}
		lines := []string{head}
		for _, pe := range d.Events {
			lines = append(lines, t.event.Render(eventLine(pe.Event, opts)))
		}
		cols = append(cols, cell(opts.CellWidth, lines...))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

// hourSpan converts a positioned event back to the hour rows it covers.
func hourSpan(pe layout.PositionedEvent, unit float64) (first, last int) {
	if unit <= 0 {
		return 0, 0
	}
	first = int(pe.Top / unit)
	last = int(math.Ceil((pe.Top+pe.Height)/unit)) - 1
	last = min(max(last, first), calmath.HoursPerDay-1)
	return first, last
}

func renderDay(dv *calview.DayView, t theme, opts Options) string {
	rows := make([][]string, calmath.HoursPerDay)
	for _, pe := range dv.Events {
		first, last := hourSpan(pe, dv.UnitHeight)
		for h := first; h <= last; h++ {
			text := "│"
			if h == first {
				text = "┃ " + opts.clock(pe.Event.StartTime) + "-" + opts.clock(pe.Event.EndTime) + " " + pe.Event.Title
			}
			rows[h] = append(rows[h], t.event.Render(text))
		}
	}

	var b strings.Builder
	head := dv.Weekday + " " + dv.Label
	if dv.IsToday {
		head = t.today.Render(head)
	}
	b.WriteString(head)
	b.WriteString("\n")
	for _, slot := range dv.Slots {
		b.WriteString(t.axis.Render(slot.Label))
		if len(rows[slot.Hour]) > 0 {
			b.WriteString(" ")
			b.WriteString(strings.Join(rows[slot.Hour], "  "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteEvents prints events as a table, the way search results are listed.
func WriteEvents(w io.Writer, events []model.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, color.New(color.Faint).Sprint("no schedules"))
		return err
	}

	bold := color.New(color.Bold)
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 40
	tbl.AddRow(bold.Sprint("ID"), bold.Sprint("DATE"), bold.Sprint("TIME"), bold.Sprint("TITLE"), bold.Sprint("CONTENTS"))
	for _, ev := range events {
		tbl.AddRow(
			string(ev.ID),
			ev.Date.String(),
			ev.StartTime.HHMM()+"-"+ev.EndTime.HHMM(),
			ev.Title,
			strings.ReplaceAll(ev.Contents, "\n", " "),
		)
	}
	tbl.RightAlign(0)
	_, err := fmt.Fprintln(w, tbl)
	return err
}
