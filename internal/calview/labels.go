package calview

import (
	"fmt"
	"strings"
	"time"

	"sharedcal/internal/calmath"
)

// Locale picks the label set for headers and titles.
type Locale string

const (
	LocaleKorean  Locale = "ko"
	LocaleEnglish Locale = "en"
)

var (
	koreanWeekdays  = [7]string{"일", "월", "화", "수", "목", "금", "토"}
	englishWeekdays = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	englishCompact  = [7]string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}
)

// ParseLocale maps a config value to a Locale, defaulting to Korean.
func ParseLocale(s string) Locale {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "en-us", "english":
		return LocaleEnglish
	default:
		return LocaleKorean
	}
}

// WeekdayName returns the column label for wd.
func (l Locale) WeekdayName(wd time.Weekday, compact bool) string {
	if l == LocaleEnglish {
		if compact {
			return englishCompact[wd]
		}
		return englishWeekdays[wd]
	}
	return koreanWeekdays[wd]
}

// Title formats the calendar header for the given state.
func (l Locale) Title(mode calmath.ViewMode, anchor calmath.Date) string {
	if l == LocaleEnglish {
		return englishTitle(mode, anchor)
	}
	return koreanTitle(mode, anchor)
}

func koreanTitle(mode calmath.ViewMode, anchor calmath.Date) string {
	switch mode {
	case calmath.ModeMonth:
		return fmt.Sprintf("%d년 %d월", anchor.Year, int(anchor.Month))
	case calmath.ModeWeek:
		r := calmath.Derive(anchor, calmath.ModeWeek)
		if r.Start.Month == r.End.Month {
			return fmt.Sprintf("%d년 %d월 %d일 - %d일", anchor.Year, int(r.Start.Month), r.Start.Day, r.End.Day)
		}
		return fmt.Sprintf("%d월 %d일 - %d월 %d일", int(r.Start.Month), r.Start.Day, int(r.End.Month), r.End.Day)
	default:
		return fmt.Sprintf("%d년 %d월 %d일 (%s)", anchor.Year, int(anchor.Month), anchor.Day, koreanWeekdays[anchor.Weekday()])
	}
}

func englishTitle(mode calmath.ViewMode, anchor calmath.Date) string {
	switch mode {
	case calmath.ModeMonth:
		return fmt.Sprintf("%s %d", anchor.Month, anchor.Year)
	case calmath.ModeWeek:
		r := calmath.Derive(anchor, calmath.ModeWeek)
		s, e := r.Start, r.End
		switch {
		case s.Year != e.Year:
			return fmt.Sprintf("%s %d, %d - %s %d, %d", shortMonth(s.Month), s.Day, s.Year, shortMonth(e.Month), e.Day, e.Year)
		case s.Month != e.Month:
			return fmt.Sprintf("%s %d - %s %d, %d", shortMonth(s.Month), s.Day, shortMonth(e.Month), e.Day, e.Year)
		default:
			return fmt.Sprintf("%s %d - %d, %d", shortMonth(s.Month), s.Day, e.Day, e.Year)
		}
	default:
		return fmt.Sprintf("%s, %s %d, %d", anchor.Weekday(), anchor.Month, anchor.Day, anchor.Year)
	}
}

func shortMonth(m time.Month) string {
	return m.String()[:3]
}

// ClockLabel formats c for display: HH:MM on a 24-hour clock, otherwise
// "오후 1:05" or "1:05 PM" depending on the locale.
func (l Locale) ClockLabel(c calmath.Clock, twelveHour bool) string {
	if !twelveHour {
		return c.HHMM()
	}
	h, m, pm := c.To12Hour()
	if l == LocaleEnglish {
		marker := "AM"
		if pm {
			marker = "PM"
		}
		return fmt.Sprintf("%d:%02d %s", h, m, marker)
	}
	marker := "오전"
	if pm {
		marker = "오후"
	}
	return fmt.Sprintf("%s %d:%02d", marker, h, m)
}
