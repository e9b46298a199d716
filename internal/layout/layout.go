// Package layout binds events to the cells of a month grid and to vertical
// positions on the week/day hour axis.
package layout

import (
	"fmt"
	"strconv"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
)

// TimePolicy is the rendering density of an hour axis. UnitHeight is the
// height of one hour; MinHeight keeps short events visible and clickable.
type TimePolicy struct {
	UnitHeight float64 `json:"unitHeight"`
	MinHeight  float64 `json:"minHeight"`
}

var (
	WeekPolicy = TimePolicy{UnitHeight: 48, MinHeight: 40}
	DayPolicy  = TimePolicy{UnitHeight: 60, MinHeight: 60}
)

// DefaultMonthCap is how many events a month cell shows before collapsing
// the rest into a "+N" badge.
const DefaultMonthCap = 2

// Engine carries the display policies for each mode.
type Engine struct {
	Week TimePolicy
	Day  TimePolicy
	// MonthCap <= 0 shows every event in a month cell.
	MonthCap int
}

// DefaultEngine returns the stock policies.
func DefaultEngine() Engine {
	return Engine{Week: WeekPolicy, Day: DayPolicy, MonthCap: DefaultMonthCap}
}

// PolicyFor returns the hour-axis policy of a timed mode.
func (e Engine) PolicyFor(mode calmath.ViewMode) TimePolicy {
	if mode == calmath.ModeDay {
		return e.Day
	}
	return e.Week
}

// EventsOn selects the events dated d, keeping the collection's order.
func EventsOn(events []model.Event, d calmath.Date) []model.Event {
	var out []model.Event
	for _, ev := range events {
		if ev.Date == d {
			out = append(out, ev)
		}
	}
	return out
}

// MonthCell is a grid cell with its events. All holds every match; Visible is
// the capped prefix shown in the cell and Overflow the number collapsed.
type MonthCell struct {
	calmath.GridCell
	All      []model.Event `json:"all"`
	Visible  []model.Event `json:"visible"`
	Overflow int           `json:"overflow"`
}

// Badge returns "+N" for collapsed events, or "" when nothing is hidden.
func (c MonthCell) Badge() string {
	if c.Overflow <= 0 {
		return ""
	}
	return "+" + strconv.Itoa(c.Overflow)
}

// Cap splits matches into the shown prefix and the hidden count.
func Cap(matches []model.Event, limit int) (visible []model.Event, overflow int) {
	if limit <= 0 || len(matches) <= limit {
		return matches, 0
	}
	return matches[:limit], len(matches) - limit
}

// Month binds events to every cell of g. Each event lands in the single cell
// whose date equals its own; events outside the grid are dropped.
func (e Engine) Month(g calmath.Grid, events []model.Event) [calmath.GridRows][calmath.GridCols]MonthCell {
	byDate := make(map[calmath.Date][]model.Event, len(events))
	for _, ev := range events {
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	var out [calmath.GridRows][calmath.GridCols]MonthCell
	for r, row := range g {
		for c, cell := range row {
			all := byDate[cell.Date]
			visible, overflow := Cap(all, e.MonthCap)
			out[r][c] = MonthCell{GridCell: cell, All: all, Visible: visible, Overflow: overflow}
		}
	}
	return out
}

// PositionedEvent is an event placed on the hour axis.
type PositionedEvent struct {
	Event  model.Event `json:"event"`
	Top    float64     `json:"top"`
	Height float64     `json:"height"`
}

// Span computes the top offset and height of [start, end) under p.
// Negative durations collapse to zero before the minimum height applies.
func Span(start, end calmath.Clock, p TimePolicy) (top, height float64) {
	top = calmath.Offset(start, p.UnitHeight)
	hours := end.Hours() - start.Hours()
	if hours < 0 {
		hours = 0
	}
	height = hours * p.UnitHeight
	if height < p.MinHeight {
		height = p.MinHeight
	}
	return top, height
}

// Position places ev under p.
func Position(ev model.Event, p TimePolicy) PositionedEvent {
	top, height := Span(ev.StartTime, ev.EndTime, p)
	return PositionedEvent{Event: ev, Top: top, Height: height}
}

// PositionTimes parses raw HH:MM[:SS] strings and places them under p.
// Malformed input is an error rather than a zero position.
func PositionTimes(start, end string, p TimePolicy) (top, height float64, err error) {
	s, err := calmath.ParseClock(start)
	if err != nil {
		return 0, 0, fmt.Errorf("layout: start: %w", err)
	}
	e, err := calmath.ParseClock(end)
	if err != nil {
		return 0, 0, fmt.Errorf("layout: end: %w", err)
	}
	top, height = Span(s, e, p)
	return top, height, nil
}

// Column places every event dated d, in collection order. Overlapping
// events are not split into lanes; they stack in that order.
func (e Engine) Column(events []model.Event, d calmath.Date, mode calmath.ViewMode) []PositionedEvent {
	p := e.PolicyFor(mode)
	matches := EventsOn(events, d)
	out := make([]PositionedEvent, 0, len(matches))
	for _, ev := range matches {
		out = append(out, Position(ev, p))
	}
	return out
}
