package calmath

import (
	"fmt"
	"time"
)

const (
	// GridRows is fixed so every month renders at the same height.
	GridRows = 6
	GridCols = 7
	// HoursPerDay is the length of the week/day hour axis.
	HoursPerDay = 24
)

// GridCell is one day slot of the month grid.
type GridCell struct {
	Date            Date `json:"date"`
	IsCurrentPeriod bool `json:"isCurrentPeriod"`
	IsToday         bool `json:"isToday"`
}

// Grid is a Sunday-first 6x7 month grid.
type Grid [GridRows][GridCols]GridCell

// MonthGrid lays out the 42 days starting at the Month range start of anchor.
// Cells in anchor's month are flagged IsCurrentPeriod; the cell equal to
// today (if shown) is flagged IsToday.
func MonthGrid(anchor, today Date) Grid {
	var g Grid
	d := Derive(anchor, ModeMonth).Start
	for row := 0; row < GridRows; row++ {
		for col := 0; col < GridCols; col++ {
			g[row][col] = GridCell{
				Date:            d,
				IsCurrentPeriod: d.SameMonth(anchor),
				IsToday:         d == today,
			}
			d = d.AddDays(1)
		}
	}
	return g
}

// Cells flattens g row by row.
func (g Grid) Cells() []GridCell {
	out := make([]GridCell, 0, GridRows*GridCols)
	for _, row := range g {
		out = append(out, row[:]...)
	}
	return out
}

// WeekDays returns the Sunday..Saturday dates of anchor's week.
func WeekDays(anchor Date) [7]Date {
	var out [7]Date
	start := StartOfWeek(anchor)
	for i := range out {
		out[i] = start.AddDays(i)
	}
	return out
}

// MonthDays lists the days of a month for a compact picker: one zero Date per
// leading blank before the first weekday, then every day of the month.
func MonthDays(year int, month time.Month) []Date {
	first := NewDate(year, month, 1)
	blanks := int(first.Weekday())
	n := DaysIn(year, month)

	out := make([]Date, blanks, blanks+n)
	for d := 1; d <= n; d++ {
		out = append(out, Date{Year: first.Year, Month: first.Month, Day: d})
	}
	return out
}

// Slot is one hour row of the week/day time axis.
type Slot struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"`
}

// Timeline returns the fixed 24 one-hour slots from 00:00 to 23:00. The axis
// never compacts or rescales around where events fall.
func Timeline() []Slot {
	out := make([]Slot, HoursPerDay)
	for h := range out {
		out[h] = Slot{Hour: h, Label: fmt.Sprintf("%02d:00", h)}
	}
	return out
}
