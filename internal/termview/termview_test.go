package termview

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedcal/internal/calmath"
	"sharedcal/internal/calview"
	"sharedcal/internal/layout"
	"sharedcal/internal/model"
	"sharedcal/internal/nav"
)

func ev(id, date, start, end, title string) model.Event {
	return model.Event{
		ID:        model.ID(id),
		Date:      calmath.MustParseDate(date),
		StartTime: calmath.MustParseClock(start),
		EndTime:   calmath.MustParseClock(end),
		Title:     title,
	}
}

var sample = []model.Event{
	ev("1", "2024-03-15", "09:00", "10:00", "Standup"),
	ev("2", "2024-03-15", "13:00", "15:00", "Design"),
	ev("3", "2024-03-15", "16:00", "17:00", "Retro"),
	ev("4", "2024-03-12", "11:00", "12:00", "Lunch"),
}

func rendering(t *testing.T, mode calmath.ViewMode) calview.Rendering {
	t.Helper()
	today := calmath.MustParseDate("2024-03-15")
	m := nav.New(today, nav.WithMode(mode))
	return calview.New(m, calview.Handlers{}, calview.Options{}).Render(sample, today, false)
}

func TestRenderMonth(t *testing.T) {
	out := Render(rendering(t, calmath.ModeMonth), Options{})
	assert.True(t, strings.HasPrefix(out, "2024년 3월\n"))
	assert.Contains(t, out, "09:00 Standup")
	assert.Contains(t, out, "13:00 Design")
	assert.NotContains(t, out, "Retro")
	assert.Contains(t, out, "+1")
	assert.Contains(t, out, "11:00 Lunch")
	assert.NotContains(t, out, "\x1b[")
}

func TestRenderWeek(t *testing.T) {
	out := Render(rendering(t, calmath.ModeWeek), Options{CellWidth: 20})
	assert.Contains(t, out, "Retro")
	assert.Contains(t, out, "11:00 Lunch")
}

func TestRenderDay(t *testing.T) {
	out := Render(rendering(t, calmath.ModeDay), Options{})
	lines := strings.Split(out, "\n")

	find := func(prefix string) string {
		for _, l := range lines {
			if strings.HasPrefix(l, prefix) {
				return l
			}
		}
		return ""
	}
	assert.Equal(t, "09:00 ┃ 09:00-10:00 Standup", find("09:00"))
	assert.Equal(t, "13:00 ┃ 13:00-15:00 Design", find("13:00"))
	assert.Equal(t, "14:00 │", find("14:00"))
	assert.Equal(t, "15:00", find("15:00"))
}

func TestRenderTwelveHour(t *testing.T) {
	out := Render(rendering(t, calmath.ModeDay), Options{TwelveHour: true, Locale: calview.LocaleKorean})
	assert.Contains(t, out, "09:00 ┃ 오전 9:00-오전 10:00 Standup")
	assert.Contains(t, out, "13:00 ┃ 오후 1:00-오후 3:00 Design")

	out = Render(rendering(t, calmath.ModeWeek), Options{CellWidth: 24, TwelveHour: true, Locale: calview.LocaleEnglish})
	assert.Contains(t, out, "11:00 AM Lunch")
	assert.Contains(t, out, "4:00 PM Retro")
}

func TestRenderColor(t *testing.T) {
	out := Render(rendering(t, calmath.ModeDay), Options{Color: true})
	assert.Contains(t, out, "\x1b[")
}

func TestHourSpan(t *testing.T) {
	cases := []struct {
		name        string
		top, height float64
		first, last int
	}{
		{"one hour", 540, 60, 9, 9},
		{"two hours", 780, 120, 13, 14},
		{"half hour", 570, 60, 9, 10},
		{"clamped at midnight", 1410, 60, 23, 23},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first, last := hourSpan(layout.PositionedEvent{Top: tc.top, Height: tc.height}, 60)
			assert.Equal(t, tc.first, first)
			assert.Equal(t, tc.last, last)
		})
	}
}

func TestWriteEvents(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	require.NoError(t, WriteEvents(&buf, sample[:2]))
	out := buf.String()
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, "2024-03-15")
	assert.Contains(t, out, "13:00-15:00")
	assert.Contains(t, out, "Design")

	buf.Reset()
	require.NoError(t, WriteEvents(&buf, nil))
	assert.Equal(t, "no schedules\n", buf.String())
}
