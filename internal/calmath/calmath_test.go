package calmath

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 15}, d)
	assert.Equal(t, "2024-03-15", d.String())

	for _, bad := range []string{"", "2024-3-15", "2023-02-29", "2024/03/15", "2024-13-01"} {
		_, err := ParseDate(bad)
		if !errors.Is(err, ErrMalformedDate) {
			t.Fatalf("ParseDate(%q) error = %v, want ErrMalformedDate", bad, err)
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want Clock
	}{
		{"09:00", Clock{Hour: 9}},
		{"09:30:15", Clock{Hour: 9, Minute: 30, Second: 15}},
		{"00:00:00", Clock{}},
		{"23:59:59", Clock{Hour: 23, Minute: 59, Second: 59}},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "9:00", "24:00", "12:60", "12", "12:00:00:00", "ab:cd", "12:00:61"} {
		_, err := ParseClock(bad)
		if !errors.Is(err, ErrMalformedTime) {
			t.Fatalf("ParseClock(%q) error = %v, want ErrMalformedTime", bad, err)
		}
	}
}

func TestClockFormatting(t *testing.T) {
	c := MustParseClock("07:05")
	assert.Equal(t, "07:05:00", c.String())
	assert.Equal(t, "07:05", c.HHMM())
	assert.InDelta(t, 7.0833, c.Hours(), 0.001)
	assert.True(t, c.Before(MustParseClock("07:05:01")))
}

func TestTwelveHourConversion(t *testing.T) {
	h, m, pm := MustParseClock("00:15").To12Hour()
	assert.Equal(t, []any{12, 15, false}, []any{h, m, pm})

	h, m, pm = MustParseClock("12:00").To12Hour()
	assert.Equal(t, []any{12, 0, true}, []any{h, m, pm})

	h, _, pm = MustParseClock("21:40").To12Hour()
	assert.Equal(t, 9, h)
	assert.True(t, pm)

	c, err := From12Hour(12, 0, false)
	require.NoError(t, err)
	assert.Equal(t, Clock{}, c)

	c, err = From12Hour(9, 40, true)
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 21, Minute: 40}, c)

	_, err = From12Hour(13, 0, false)
	assert.ErrorIs(t, err, ErrMalformedTime)
}

func TestParseClock12(t *testing.T) {
	tests := []struct {
		in   string
		want Clock
	}{
		{"1:30 PM", Clock{Hour: 13, Minute: 30}},
		{"12:05am", Clock{Minute: 5}},
		{"오후 1:00", Clock{Hour: 13}},
		{"오전 12:00", Clock{}},
		{" 11:59 pm ", Clock{Hour: 23, Minute: 59}},
	}
	for _, tt := range tests {
		got, err := ParseClock12(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"13:00", "13:00 PM", "0:30 am", "1:3 pm", "pm", "오후"} {
		_, err := ParseClock12(bad)
		assert.ErrorIs(t, err, ErrMalformedTime, bad)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	assert.Equal(t, 540.0, Offset(MustParseClock("09:00"), 60))
	assert.Equal(t, 432.0, Offset(MustParseClock("09:00"), 48))
	assert.Equal(t, 456.0, Offset(MustParseClock("09:30:59"), 48))

	assert.Equal(t, Clock{Hour: 9, Minute: 30}, ClockAt(570, 60))
	assert.Equal(t, Clock{Hour: 23, Minute: 59}, ClockAt(5000, 60))
	assert.Equal(t, Clock{}, ClockAt(-10, 60))
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from string
		n    int
		want string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-03-31", 1, "2024-04-30"},
		{"2024-03-31", -1, "2024-02-29"},
		{"2024-12-15", 1, "2025-01-15"},
		{"2024-01-15", -1, "2023-12-15"},
		{"2024-05-31", 12, "2025-05-31"},
	}
	for _, tt := range tests {
		got := MustParseDate(tt.from).AddMonths(tt.n)
		assert.Equal(t, tt.want, got.String(), "%s %+d", tt.from, tt.n)
	}
}

func TestDeriveConcreteScenarios(t *testing.T) {
	anchor := MustParseDate("2024-03-15")
	require.Equal(t, time.Friday, anchor.Weekday())

	month := Derive(anchor, ModeMonth)
	assert.Equal(t, "2024-02-25", month.Start.String())
	// March 31st 2024 is a Sunday, so the trailing week runs to April 6th.
	assert.Equal(t, "2024-04-06", month.End.String())
	assert.Equal(t, 42, month.Days())

	week := Derive(anchor, ModeWeek)
	assert.Equal(t, "2024-03-10", week.Start.String())
	assert.Equal(t, "2024-03-16", week.End.String())

	day := Derive(anchor, ModeDay)
	assert.Equal(t, Range{Start: anchor, End: anchor}, day)

	// A month that already starts on Sunday and ends on Saturday.
	feb := Derive(MustParseDate("2015-02-10"), ModeMonth)
	assert.Equal(t, "2015-02-01", feb.Start.String())
	assert.Equal(t, "2015-02-28", feb.End.String())
	assert.Equal(t, 28, feb.Days())
}

func TestDeriveProperties(t *testing.T) {
	start := MustParseDate("2023-11-01")
	for i := 0; i < 800; i++ {
		anchor := start.AddDays(i)

		m := Derive(anchor, ModeMonth)
		if m.Start.Weekday() != time.Sunday || m.End.Weekday() != time.Saturday {
			t.Fatalf("month range %s for %s not Sunday..Saturday", m, anchor)
		}
		if m.Days()%7 != 0 {
			t.Fatalf("month range %s spans %d days", m, m.Days())
		}
		if m.Start.After(anchor.FirstOfMonth()) || anchor.LastOfMonth().After(m.End) {
			t.Fatalf("month range %s does not cover month of %s", m, anchor)
		}

		w := Derive(anchor, ModeWeek)
		if w.Days() != 7 || w.Start.Weekday() != time.Sunday || !w.Contains(anchor) {
			t.Fatalf("week range %s invalid for %s", w, anchor)
		}

		d := Derive(anchor, ModeDay)
		if d.Start != anchor || d.End != anchor {
			t.Fatalf("day range %s invalid for %s", d, anchor)
		}

		if Derive(anchor, ModeMonth) != m {
			t.Fatalf("Derive not idempotent for %s", anchor)
		}
	}
}

func TestMonthGrid(t *testing.T) {
	anchor := MustParseDate("2024-03-15")
	today := MustParseDate("2024-03-20")
	g := MonthGrid(anchor, today)

	cells := g.Cells()
	require.Len(t, cells, 42)
	assert.Equal(t, "2024-02-25", cells[0].Date.String())
	assert.Equal(t, "2024-04-06", cells[41].Date.String())

	assert.Equal(t, "2024-03-01", g[0][int(time.Friday)].Date.String())

	var todayCount, current int
	for _, c := range cells {
		if c.IsToday {
			todayCount++
			assert.Equal(t, today, c.Date)
		}
		if c.IsCurrentPeriod {
			current++
			assert.Equal(t, time.March, c.Date.Month)
		}
	}
	assert.Equal(t, 1, todayCount)
	assert.Equal(t, 31, current)

	for col := 0; col < GridCols; col++ {
		assert.Equal(t, time.Weekday(col), g[2][col].Date.Weekday())
	}
}

func TestMonthGridTodayOutsideRange(t *testing.T) {
	g := MonthGrid(MustParseDate("2024-03-15"), MustParseDate("2025-01-01"))
	for _, c := range g.Cells() {
		if c.IsToday {
			t.Fatalf("unexpected today cell %s", c.Date)
		}
	}
}

func TestMonthGridAlwaysSixRows(t *testing.T) {
	// February 2015 fits in four weeks; the grid still spans 42 days.
	cells := MonthGrid(MustParseDate("2015-02-01"), Date{}).Cells()
	require.Len(t, cells, 42)
	assert.Equal(t, "2015-02-01", cells[0].Date.String())
	assert.Equal(t, "2015-03-14", cells[41].Date.String())
}

func TestWeekDaysAndMonthDays(t *testing.T) {
	days := WeekDays(MustParseDate("2024-03-15"))
	assert.Equal(t, "2024-03-10", days[0].String())
	assert.Equal(t, "2024-03-16", days[6].String())

	md := MonthDays(2024, time.March)
	require.Len(t, md, 5+31)
	for i := 0; i < 5; i++ {
		assert.True(t, md[i].IsZero())
	}
	assert.Equal(t, "2024-03-01", md[5].String())
	assert.Equal(t, "2024-03-31", md[len(md)-1].String())
}

func TestTimeline(t *testing.T) {
	slots := Timeline()
	require.Len(t, slots, 24)
	assert.Equal(t, Slot{Hour: 0, Label: "00:00"}, slots[0])
	assert.Equal(t, Slot{Hour: 23, Label: "23:00"}, slots[23])
}

func TestViewModeText(t *testing.T) {
	for _, m := range Modes {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var back ViewMode
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, m, back)
	}

	_, err := ParseViewMode("year")
	assert.ErrorIs(t, err, ErrUnknownViewMode)

	m, err := ParseViewMode(" Week ")
	require.NoError(t, err)
	assert.Equal(t, ModeWeek, m)
	assert.True(t, m.Timed())
	assert.False(t, ModeMonth.Timed())
}

func TestDateJSON(t *testing.T) {
	type payload struct {
		Date  Date  `json:"date"`
		Start Clock `json:"start"`
	}
	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2024-02-29","start":"09:00:00"}`), &p))
	assert.Equal(t, MustParseDate("2024-02-29"), p.Date)
	assert.Equal(t, Clock{Hour: 9}, p.Start)

	err := json.Unmarshal([]byte(`{"date":"2024-02-30","start":"09:00:00"}`), &p)
	assert.ErrorIs(t, err, ErrMalformedDate)

	err = json.Unmarshal([]byte(`{"date":"2024-02-28","start":"9am"}`), &p)
	assert.ErrorIs(t, err, ErrMalformedTime)
}
