package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"sharedcal/internal/calmath"
)

func TestDecodeUpstreamSchedule(t *testing.T) {
	body := `{"id":42,"scheduleDate":"2024-03-15","startTime":"09:00:00","endTime":"10:30:00",
	"title":"standup","contents":"daily","createdAt":"2024-03-01T10:00:00Z","updatedAt":"2024-03-01T10:00:00Z"}`

	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ev.ID != "42" {
		t.Fatalf("expected id 42, got %q", ev.ID)
	}
	if ev.Date != calmath.MustParseDate("2024-03-15") {
		t.Fatalf("unexpected date %s", ev.Date)
	}
	if ev.EndTime != (calmath.Clock{Hour: 10, Minute: 30}) {
		t.Fatalf("unexpected end %s", ev.EndTime)
	}
	if n, err := ev.ID.Int(); err != nil || n != 42 {
		t.Fatalf("ID.Int() = %d, %v", n, err)
	}
}

func TestDecodeMalformedTimeFails(t *testing.T) {
	body := `{"id":"a","scheduleDate":"2024-03-15","startTime":"9:00","endTime":"10:00:00","title":"x"}`
	var ev Event
	err := json.Unmarshal([]byte(body), &ev)
	if !errors.Is(err, calmath.ErrMalformedTime) {
		t.Fatalf("expected ErrMalformedTime, got %v", err)
	}
}

func TestDraftValidate(t *testing.T) {
	day := calmath.MustParseDate("2024-03-15")

	ok := NewDraft(day)
	ok.Title = "lunch"
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name  string
		edit  func(d *Draft)
		field string
	}{
		{"no date", func(d *Draft) { d.Date = calmath.Date{} }, "scheduleDate"},
		{"end before start", func(d *Draft) { d.EndTime = calmath.Clock{Hour: 8} }, "endTime"},
		{"zero length", func(d *Draft) { d.EndTime = d.StartTime }, "endTime"},
		{"no title", func(d *Draft) { d.Title = "" }, "title"},
		{"long title", func(d *Draft) { d.Title = strings.Repeat("가", MaxTitleLength+1) }, "title"},
		{"long contents", func(d *Draft) { d.Contents = strings.Repeat("x", MaxContentsLength+1) }, "contents"},
	}
	for _, tt := range tests {
		d := ok
		tt.edit(&d)
		err := d.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tt.name, err)
		}
		if verr.Field != tt.field {
			t.Fatalf("%s: expected field %s, got %s", tt.name, tt.field, verr.Field)
		}
	}

	d := ok
	d.Title = strings.Repeat("가", MaxTitleLength)
	if err := d.Validate(); err != nil {
		t.Fatalf("title at limit should pass, got %v", err)
	}
}

func TestNewDraftDefaults(t *testing.T) {
	d := NewDraft(calmath.MustParseDate("2024-03-15"))
	if d.StartTime.String() != "09:00:00" || d.EndTime.String() != "10:00:00" {
		t.Fatalf("unexpected defaults %s-%s", d.StartTime, d.EndTime)
	}

	ev := Event{ID: "7", Title: "a", Date: d.Date, StartTime: d.StartTime, EndTime: d.EndTime}
	ev2 := Draft{Date: d.Date, StartTime: d.StartTime, EndTime: calmath.Clock{Hour: 11}, Title: "b"}.Apply(ev)
	if ev2.ID != "7" || ev2.Title != "b" || ev2.EndTime.Hour != 11 {
		t.Fatalf("Apply() = %+v", ev2)
	}
	if DraftOf(ev2).Title != "b" {
		t.Fatalf("DraftOf() lost title")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("일정입니다", 2); got != "일정" {
		t.Fatalf("Truncate() = %q", got)
	}
	if got := Truncate("abc", 5); got != "abc" {
		t.Fatalf("Truncate() = %q", got)
	}
}
