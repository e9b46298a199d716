package nav

import (
	"errors"
	"testing"

	"sharedcal/internal/calmath"
)

type recorder struct {
	ranges []calmath.Range
	states []State
}

func (r *recorder) listen(rng calmath.Range, s State) {
	r.ranges = append(r.ranges, rng)
	r.states = append(r.states, s)
}

func newMachine(t *testing.T, anchor string, mode calmath.ViewMode) (*Machine, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := New(calmath.MustParseDate(anchor), WithMode(mode), WithListener(rec.listen))
	return m, rec
}

func TestInitialState(t *testing.T) {
	today := calmath.MustParseDate("2024-03-15")
	m := New(today)
	if m.Mode() != calmath.ModeMonth {
		t.Fatalf("expected month mode, got %s", m.Mode())
	}
	if m.Anchor() != today {
		t.Fatalf("expected anchor %s, got %s", today, m.Anchor())
	}
	if got := m.Range().Start.String(); got != "2024-02-25" {
		t.Fatalf("unexpected range start %s", got)
	}
}

func TestEveryOperationEmitsOnce(t *testing.T) {
	m, rec := newMachine(t, "2024-03-15", calmath.ModeMonth)

	if err := m.SetViewMode(calmath.ModeWeek); err != nil {
		t.Fatalf("SetViewMode() error = %v", err)
	}
	if len(rec.ranges) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(rec.ranges))
	}
	if rec.ranges[0].Start.String() != "2024-03-10" || rec.ranges[0].End.String() != "2024-03-16" {
		t.Fatalf("unexpected week range %s", rec.ranges[0])
	}
	if m.Anchor().String() != "2024-03-15" {
		t.Fatalf("SetViewMode moved anchor to %s", m.Anchor())
	}

	if err := m.Navigate(Forward); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if len(rec.ranges) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(rec.ranges))
	}

	m.JumpToToday(calmath.MustParseDate("2024-03-22"))
	if len(rec.ranges) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(rec.ranges))
	}

	// Re-anchoring on the same day still notifies.
	m.JumpToToday(calmath.MustParseDate("2024-03-22"))
	if len(rec.ranges) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(rec.ranges))
	}
	if rec.states[3].Mode != calmath.ModeWeek {
		t.Fatalf("JumpToToday changed mode to %s", rec.states[3].Mode)
	}

	m.Announce()
	if len(rec.ranges) != 5 {
		t.Fatalf("expected 5 notifications, got %d", len(rec.ranges))
	}
}

func TestRejectedOperationsDoNotEmit(t *testing.T) {
	m, rec := newMachine(t, "2024-03-15", calmath.ModeDay)

	if err := m.Navigate(Direction(2)); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("expected ErrInvalidDirection, got %v", err)
	}
	if err := m.SetViewMode(calmath.ViewMode(9)); !errors.Is(err, calmath.ErrUnknownViewMode) {
		t.Fatalf("expected ErrUnknownViewMode, got %v", err)
	}
	if len(rec.ranges) != 0 {
		t.Fatalf("expected no notifications, got %d", len(rec.ranges))
	}
	if m.Anchor().String() != "2024-03-15" || m.Mode() != calmath.ModeDay {
		t.Fatalf("state changed: %+v", m.State())
	}
}

func TestNavigateUnits(t *testing.T) {
	tests := []struct {
		mode calmath.ViewMode
		from string
		dir  Direction
		want string
	}{
		{calmath.ModeMonth, "2024-03-15", Forward, "2024-04-15"},
		{calmath.ModeMonth, "2024-01-15", Backward, "2023-12-15"},
		{calmath.ModeMonth, "2024-01-31", Forward, "2024-02-29"},
		{calmath.ModeMonth, "2023-01-31", Forward, "2023-02-28"},
		{calmath.ModeMonth, "2024-05-31", Forward, "2024-06-30"},
		{calmath.ModeWeek, "2024-03-15", Forward, "2024-03-22"},
		{calmath.ModeWeek, "2024-03-01", Backward, "2024-02-23"},
		{calmath.ModeDay, "2024-02-28", Forward, "2024-02-29"},
		{calmath.ModeDay, "2024-01-01", Backward, "2023-12-31"},
	}
	for _, tt := range tests {
		m, rec := newMachine(t, tt.from, tt.mode)
		if err := m.Navigate(tt.dir); err != nil {
			t.Fatalf("Navigate() error = %v", err)
		}
		if got := m.Anchor().String(); got != tt.want {
			t.Fatalf("%s %s %+d: got %s, want %s", tt.mode, tt.from, tt.dir, got, tt.want)
		}
		if rec.ranges[0] != calmath.Derive(m.Anchor(), tt.mode) {
			t.Fatalf("notified range %s does not match derived range", rec.ranges[0])
		}
	}
}

func TestNavigateRoundTrip(t *testing.T) {
	start := calmath.MustParseDate("2023-12-01")
	for i := 0; i < 400; i++ {
		anchor := start.AddDays(i)
		for _, mode := range []calmath.ViewMode{calmath.ModeWeek, calmath.ModeDay} {
			s := State{Mode: mode, Anchor: anchor}
			if back := Step(Step(s, Forward), Backward); back != s {
				t.Fatalf("%s round trip from %s ended at %s", mode, anchor, back.Anchor)
			}
		}

		s := State{Mode: calmath.ModeMonth, Anchor: anchor}
		back := Step(Step(s, Forward), Backward)
		if anchor.Day <= 28 && back != s {
			t.Fatalf("month round trip from %s ended at %s", anchor, back.Anchor)
		}
	}
}

func TestMonthRoundTripAcrossShorterMonth(t *testing.T) {
	m, _ := newMachine(t, "2024-01-31", calmath.ModeMonth)
	_ = m.Navigate(Forward)
	if got := m.Anchor().String(); got != "2024-02-29" {
		t.Fatalf("expected 2024-02-29, got %s", got)
	}
	_ = m.Navigate(Backward)
	// The clamp is not undone: the day of month stays at 29.
	if got := m.Anchor().String(); got != "2024-01-29" {
		t.Fatalf("expected 2024-01-29, got %s", got)
	}

	m, _ = newMachine(t, "2024-03-31", calmath.ModeMonth)
	_ = m.Navigate(Backward)
	_ = m.Navigate(Forward)
	if got := m.Anchor().String(); got != "2024-03-29" {
		t.Fatalf("expected 2024-03-29, got %s", got)
	}

	m, _ = newMachine(t, "2024-08-31", calmath.ModeMonth)
	_ = m.Navigate(Forward)
	_ = m.Navigate(Backward)
	if got := m.Anchor().String(); got != "2024-08-30" {
		t.Fatalf("expected 2024-08-30, got %s", got)
	}
}
