package calmath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownViewMode is returned for view mode names other than month, week and day.
var ErrUnknownViewMode = errors.New("calmath: unknown view mode")

// ViewMode selects both the range derivation and the layout algorithm.
type ViewMode int

const (
	ModeMonth ViewMode = iota
	ModeWeek
	ModeDay
)

// Modes lists every view mode in UI order.
var Modes = []ViewMode{ModeMonth, ModeWeek, ModeDay}

func (m ViewMode) String() string {
	switch m {
	case ModeMonth:
		return "month"
	case ModeWeek:
		return "week"
	case ModeDay:
		return "day"
	default:
		return fmt.Sprintf("ViewMode(%d)", int(m))
	}
}

func (m ViewMode) Valid() bool {
	return m == ModeMonth || m == ModeWeek || m == ModeDay
}

// Timed reports whether the mode lays events out on the hour axis.
func (m ViewMode) Timed() bool {
	return m == ModeWeek || m == ModeDay
}

// ParseViewMode accepts "month", "week" or "day" in any case.
func ParseViewMode(s string) (ViewMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month":
		return ModeMonth, nil
	case "week":
		return ModeWeek, nil
	case "day":
		return ModeDay, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownViewMode, s)
	}
}

func (m ViewMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownViewMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *ViewMode) UnmarshalText(b []byte) error {
	parsed, err := ParseViewMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
