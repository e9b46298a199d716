// Package calview orchestrates the navigation state, the calendar math and the
// layout engine into a month, week or day rendering, and forwards user
// gestures to the host.
package calview

import (
	"strconv"
	"time"

	"sharedcal/internal/calmath"
	"sharedcal/internal/layout"
	"sharedcal/internal/model"
	"sharedcal/internal/nav"
)

// Handlers receives the gestures the host acts on. Nil handlers are skipped.
type Handlers struct {
	// DateSelected fires for a click on an empty cell or slot; the host opens
	// a blank editor for that date.
	DateSelected func(date calmath.Date)
	// EventSelected fires for a click on a rendered event; the host opens the
	// editor pre-filled with it.
	EventSelected func(ev model.Event)
	// RangeChanged fires once per navigation state change; the host refetches
	// events for the new window.
	RangeChanged func(start, end calmath.Date)
}

type Options struct {
	Engine layout.Engine
	Locale Locale
}

// View renders one navigation state at a time.
type View struct {
	machine  *nav.Machine
	handlers Handlers
	opts     Options
}

// New wires v to m. Range changes of m are forwarded to h.RangeChanged.
func New(m *nav.Machine, h Handlers, opts Options) *View {
	if opts.Engine == (layout.Engine{}) {
		opts.Engine = layout.DefaultEngine()
	}
	if opts.Locale == "" {
		opts.Locale = LocaleKorean
	}
	v := &View{machine: m, handlers: h, opts: opts}
	m.Subscribe(func(r calmath.Range, _ nav.State) {
		if v.handlers.RangeChanged != nil {
			v.handlers.RangeChanged(r.Start, r.End)
		}
	})
	return v
}

func (v *View) State() nav.State { return v.machine.State() }
func (v *View) Range() calmath.Range { return v.machine.Range() }

// Start announces the initial range so the host performs its first fetch.
func (v *View) Start() { v.machine.Announce() }

func (v *View) Navigate(dir nav.Direction) error { return v.machine.Navigate(dir) }
func (v *View) SetViewMode(mode calmath.ViewMode) error { return v.machine.SetViewMode(mode) }
func (v *View) JumpToToday(today calmath.Date) { v.machine.JumpToToday(today) }
func (v *View) Refresh() { v.machine.Announce() }

func (v *View) SelectDate(d calmath.Date) {
	if v.handlers.DateSelected != nil {
		v.handlers.DateSelected(d)
	}
}

func (v *View) SelectEvent(ev model.Event) {
	if v.handlers.EventSelected != nil {
		v.handlers.EventSelected(ev)
	}
}

// Rendering is the full display model of one state. Exactly one of Month,
// Week and Day is set.
type Rendering struct {
	Mode    calmath.ViewMode `json:"mode"`
	Anchor  calmath.Date     `json:"anchor"`
	Range   calmath.Range    `json:"range"`
	Title   string           `json:"title"`
	Compact bool             `json:"compact"`

	Month *MonthView `json:"month,omitempty"`
	Week  *WeekView  `json:"week,omitempty"`
	Day   *DayView   `json:"day,omitempty"`
}

// WeekdayHeader labels one grid column.
type WeekdayHeader struct {
	Name     string `json:"name"`
	Sunday   bool   `json:"sunday"`
	Saturday bool   `json:"saturday"`
}

type MonthView struct {
	Weekdays []WeekdayHeader `json:"weekdays"`
	Weeks    [][]DayCell     `json:"weeks"`
}

// DayCell is a month grid cell ready for display.
type DayCell struct {
	layout.MonthCell
	Label    string `json:"label"`
	Badge    string `json:"badge,omitempty"`
	Sunday   bool   `json:"sunday"`
	Saturday bool   `json:"saturday"`
}

// DayColumn is one day of the week view, or the body of the day view.
type DayColumn struct {
	Date     calmath.Date             `json:"date"`
	Weekday  string                   `json:"weekday"`
	Label    string                   `json:"label"`
	IsToday  bool                     `json:"isToday"`
	Sunday   bool                     `json:"sunday"`
	Saturday bool                     `json:"saturday"`
	Events   []layout.PositionedEvent `json:"events"`
}

type WeekView struct {
	Days       []DayColumn    `json:"days"`
	Slots      []calmath.Slot `json:"slots"`
	UnitHeight float64        `json:"unitHeight"`
}

type DayView struct {
	DayColumn
	Slots      []calmath.Slot `json:"slots"`
	UnitHeight float64        `json:"unitHeight"`
}

// Render builds the display model for the current state. today only drives
// highlighting and compact only selects shorter labels; neither is read from
// the environment.
func (v *View) Render(events []model.Event, today calmath.Date, compact bool) Rendering {
	s := v.machine.State()
	out := Rendering{
		Mode:    s.Mode,
		Anchor:  s.Anchor,
		Range:   s.Range(),
		Title:   v.opts.Locale.Title(s.Mode, s.Anchor),
		Compact: compact,
	}

	switch s.Mode {
	case calmath.ModeMonth:
		out.Month = v.renderMonth(s.Anchor, events, today, compact)
	case calmath.ModeWeek:
		out.Week = v.renderWeek(s.Anchor, events, today, compact)
	default:
		out.Day = v.renderDay(s.Anchor, events, today, compact)
	}
	return out
}

func (v *View) weekdayHeaders(compact bool) []WeekdayHeader {
	out := make([]WeekdayHeader, 7)
	for i := range out {
		wd := time.Weekday(i)
		out[i] = WeekdayHeader{
			Name:     v.opts.Locale.WeekdayName(wd, compact),
			Sunday:   wd == time.Sunday,
			Saturday: wd == time.Saturday,
		}
	}
	return out
}

func (v *View) renderMonth(anchor calmath.Date, events []model.Event, today calmath.Date, compact bool) *MonthView {
	grid := calmath.MonthGrid(anchor, today)
	bound := v.opts.Engine.Month(grid, events)

	mv := &MonthView{Weekdays: v.weekdayHeaders(compact), Weeks: make([][]DayCell, 0, calmath.GridRows)}
	for _, row := range bound {
		week := make([]DayCell, 0, calmath.GridCols)
		for _, cell := range row {
			wd := cell.Date.Weekday()
			week = append(week, DayCell{
				MonthCell: cell,
				Label:     strconv.Itoa(cell.Date.Day),
				Badge:     cell.Badge(),
				Sunday:    wd == time.Sunday,
				Saturday:  wd == time.Saturday,
			})
		}
		mv.Weeks = append(mv.Weeks, week)
	}
	return mv
}

func (v *View) column(d calmath.Date, mode calmath.ViewMode, events []model.Event, today calmath.Date, compact bool) DayColumn {
	wd := d.Weekday()
	return DayColumn{
		Date:     d,
		Weekday:  v.opts.Locale.WeekdayName(wd, compact),
		Label:    strconv.Itoa(d.Day),
		IsToday:  d == today,
		Sunday:   wd == time.Sunday,
		Saturday: wd == time.Saturday,
		Events:   v.opts.Engine.Column(events, d, mode),
	}
}

func (v *View) renderWeek(anchor calmath.Date, events []model.Event, today calmath.Date, compact bool) *WeekView {
	days := calmath.WeekDays(anchor)
	wv := &WeekView{
		Days:       make([]DayColumn, 0, len(days)),
		Slots:      calmath.Timeline(),
		UnitHeight: v.opts.Engine.Week.UnitHeight,
	}
	for _, d := range days {
		wv.Days = append(wv.Days, v.column(d, calmath.ModeWeek, events, today, compact))
	}
	return wv
}

func (v *View) renderDay(anchor calmath.Date, events []model.Event, today calmath.Date, compact bool) *DayView {
	return &DayView{
		DayColumn:  v.column(anchor, calmath.ModeDay, events, today, compact),
		Slots:      calmath.Timeline(),
		UnitHeight: v.opts.Engine.Day.UnitHeight,
	}
}
