package calmath

import "time"

// Range is an inclusive window of calendar dates.
type Range struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Derive computes the visible range for anchor in the given mode.
//
// Month ranges start on the Sunday on or before the first of the month and
// end on the Saturday on or after its last day. Week ranges run Sunday to
// Saturday around anchor. Any other mode yields the single-day range.
func Derive(anchor Date, mode ViewMode) Range {
	switch mode {
	case ModeMonth:
		return Range{
			Start: StartOfWeek(anchor.FirstOfMonth()),
			End:   EndOfWeek(anchor.LastOfMonth()),
		}
	case ModeWeek:
		start := StartOfWeek(anchor)
		return Range{Start: start, End: start.AddDays(6)}
	default:
		return Range{Start: anchor, End: anchor}
	}
}

// StartOfWeek walks d back to the Sunday of its week.
func StartOfWeek(d Date) Date {
	return d.AddDays(-int(d.Weekday()))
}

// EndOfWeek walks d forward to the Saturday of its week.
func EndOfWeek(d Date) Date {
	return d.AddDays(int(time.Saturday - d.Weekday()))
}

// Days returns the number of dates in r.
func (r Range) Days() int {
	return r.Start.DaysUntil(r.End) + 1
}

func (r Range) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Dates lists every date of r in order.
func (r Range) Dates() []Date {
	n := r.Days()
	if n <= 0 {
		return nil
	}
	out := make([]Date, 0, n)
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}
