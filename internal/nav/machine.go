// Package nav owns the calendar's navigation state: the view mode and the
// anchor date the visible range is derived from.
package nav

import (
	"errors"
	"fmt"

	"sharedcal/internal/calmath"
)

var ErrInvalidDirection = errors.New("nav: direction must be -1 or +1")

// Direction is a paging step.
type Direction int

const (
	Backward Direction = -1
	Forward  Direction = 1
)

// State is the navigation state. Anchor is not a range boundary in month and
// week modes; it is the date the range is derived from.
type State struct {
	Mode   calmath.ViewMode `json:"mode"`
	Anchor calmath.Date     `json:"anchor"`
}

// Range derives the visible range of s.
func (s State) Range() calmath.Range {
	return calmath.Derive(s.Anchor, s.Mode)
}

// Step returns s advanced one unit of its mode: a calendar month (day of
// month clamped), seven days, or one day.
func Step(s State, dir Direction) State {
	switch s.Mode {
	case calmath.ModeMonth:
		s.Anchor = s.Anchor.AddMonths(int(dir))
	case calmath.ModeWeek:
		s.Anchor = s.Anchor.AddDays(7 * int(dir))
	default:
		s.Anchor = s.Anchor.AddDays(int(dir))
	}
	return s
}

// RangeListener is told about every state change along with the newly
// derived range.
type RangeListener func(r calmath.Range, s State)

// Machine is the month/week/day state machine. Every successful mutation
// notifies each listener exactly once. It is not safe for concurrent use.
type Machine struct {
	state     State
	listeners []RangeListener
}

type Option func(*Machine)

// WithMode overrides the initial month mode.
func WithMode(mode calmath.ViewMode) Option {
	return func(m *Machine) {
		if mode.Valid() {
			m.state.Mode = mode
		}
	}
}

func WithListener(l RangeListener) Option {
	return func(m *Machine) {
		m.Subscribe(l)
	}
}

// New starts in month mode anchored at today. The caller supplies today so
// the machine never consults the wall clock.
func New(today calmath.Date, opts ...Option) *Machine {
	m := &Machine{state: State{Mode: calmath.ModeMonth, Anchor: today}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Subscribe(l RangeListener) {
	if l != nil {
		m.listeners = append(m.listeners, l)
	}
}

func (m *Machine) State() State { return m.state }
func (m *Machine) Mode() calmath.ViewMode { return m.state.Mode }
func (m *Machine) Anchor() calmath.Date { return m.state.Anchor }
func (m *Machine) Range() calmath.Range { return m.state.Range() }

// SetViewMode switches mode and keeps the anchor.
func (m *Machine) SetViewMode(mode calmath.ViewMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", calmath.ErrUnknownViewMode, int(mode))
	}
	m.state.Mode = mode
	m.emit()
	return nil
}

// Navigate pages one unit of the current mode.
func (m *Machine) Navigate(dir Direction) error {
	if dir != Backward && dir != Forward {
		return fmt.Errorf("%w: got %d", ErrInvalidDirection, int(dir))
	}
	m.state = Step(m.state, dir)
	m.emit()
	return nil
}

// JumpToToday re-anchors on today and keeps the mode. It notifies even when
// the anchor is already today.
func (m *Machine) JumpToToday(today calmath.Date) {
	m.state.Anchor = today
	m.emit()
}

// Announce notifies listeners of the current range without changing state,
// for the initial load and for refreshes after edits.
func (m *Machine) Announce() {
	m.emit()
}

func (m *Machine) emit() {
	r := m.state.Range()
	for _, l := range m.listeners {
		l(r, m.state)
	}
}
