package calmath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedTime is returned when a time-of-day string is not HH:MM[:SS].
var ErrMalformedTime = errors.New("calmath: malformed time")

// Clock is a time of day with second precision.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM" or "HH:MM:SS" (two digits per field, 24h).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Clock{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}

	var fields [3]int
	limits := [3]int{23, 59, 59}
	for i, p := range parts {
		if len(p) != 2 {
			return Clock{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return Clock{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
		}
		fields[i] = n
	}

	return Clock{Hour: fields[0], Minute: fields[1], Second: fields[2]}, nil
}

// MustParseClock is ParseClock for literals known to be valid.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String formats c as HH:MM:SS, the form the event store exchanges.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// HHMM formats c as HH:MM for display.
func (c Clock) HHMM() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Hours returns the position of c on a 24h axis in fractional hours.
// Seconds are ignored.
func (c Clock) Hours() float64 {
	return float64(c.Hour) + float64(c.Minute)/60
}

func (c Clock) SecondsOfDay() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

func (c Clock) Before(o Clock) bool {
	return c.SecondsOfDay() < o.SecondsOfDay()
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Offset maps c onto a vertical axis where one hour is unitHeight tall.
func Offset(c Clock, unitHeight float64) float64 {
	return c.Hours() * unitHeight
}

// ClockAt is the inverse of Offset, truncated to the minute and clamped to
// the 00:00..23:59 axis.
func ClockAt(offset, unitHeight float64) Clock {
	if unitHeight <= 0 || offset <= 0 {
		return Clock{}
	}
	minutes := int(offset / unitHeight * 60)
	if minutes > 23*60+59 {
		minutes = 23*60 + 59
	}
	return Clock{Hour: minutes / 60, Minute: minutes % 60}
}

// To12Hour splits c into a 1..12 hour, the minute and whether it is after noon.
func (c Clock) To12Hour() (hour, minute int, pm bool) {
	hour = c.Hour % 12
	if hour == 0 {
		hour = 12
	}
	return hour, c.Minute, c.Hour >= 12
}

// From12Hour builds a Clock from a 1..12 hour reading.
func From12Hour(hour, minute int, pm bool) (Clock, error) {
	if hour < 1 || hour > 12 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %d:%02d", ErrMalformedTime, hour, minute)
	}
	h := hour % 12
	if pm {
		h += 12
	}
	return Clock{Hour: h, Minute: minute}, nil
}

var meridiems = []struct {
	label string
	pm    bool
}{
	{"오전", false}, {"오후", true},
	{"am", false}, {"pm", true},
}

// ParseClock12 parses a 12-hour reading such as "1:30 PM", "1:30pm" or
// "오후 1:30". The marker may lead or trail; the minute needs two digits.
func ParseClock12(s string) (Clock, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	body, pm, found := "", false, false
	for _, m := range meridiems {
		if rest, ok := strings.CutPrefix(t, m.label); ok {
			body, pm, found = rest, m.pm, true
			break
		}
		if rest, ok := strings.CutSuffix(t, m.label); ok {
			body, pm, found = rest, m.pm, true
			break
		}
	}
	if !found {
		return Clock{}, fmt.Errorf("%w: %q has no AM/PM marker", ErrMalformedTime, s)
	}

	hh, mm, ok := strings.Cut(strings.TrimSpace(body), ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	return From12Hour(hour, minute, pm)
}
