package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"sharedcal/internal/calmath"
)

const (
	MaxTitleLength    = 200
	MaxContentsLength = 2000
)

// ID is an opaque event identifier. The upstream schedule API uses numbers,
// local stores use decimal strings; both decode into the same value.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("model: invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// Int returns the numeric form of id for stores keyed by integers.
func (id ID) Int() (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("model: non-numeric id %q", string(id))
	}
	return n, nil
}

// Event is one scheduled entry as held by the event store. The view engine
// only ever reads snapshots of these.
type Event struct {
	ID        ID            `json:"id"`
	Date      calmath.Date  `json:"scheduleDate"`
	StartTime calmath.Clock `json:"startTime"`
	EndTime   calmath.Clock `json:"endTime"`
	Title     string        `json:"title"`
	Contents  string        `json:"contents"`

	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Draft is what the editor emits for create and update.
type Draft struct {
	Date      calmath.Date  `json:"scheduleDate"`
	StartTime calmath.Clock `json:"startTime"`
	EndTime   calmath.Clock `json:"endTime"`
	Title     string        `json:"title"`
	Contents  string        `json:"contents"`
}

var (
	defaultStart = calmath.Clock{Hour: 9}
	defaultEnd   = calmath.Clock{Hour: 10}
)

// NewDraft returns the blank draft opened when a date is selected:
// 09:00-10:00 on that date.
func NewDraft(date calmath.Date) Draft {
	return Draft{Date: date, StartTime: defaultStart, EndTime: defaultEnd}
}

// DraftOf returns a draft pre-filled from ev for editing.
func DraftOf(ev Event) Draft {
	return Draft{
		Date:      ev.Date,
		StartTime: ev.StartTime,
		EndTime:   ev.EndTime,
		Title:     ev.Title,
		Contents:  ev.Contents,
	}
}

// Validate checks the draft invariants the store relies on.
func (d Draft) Validate() error {
	if d.Date.IsZero() {
		return &ValidationError{Field: "scheduleDate", Message: "date is required"}
	}
	if !d.StartTime.Before(d.EndTime) {
		return &ValidationError{Field: "endTime", Message: "end time must be after start time"}
	}
	if d.Title == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if utf8.RuneCountInString(d.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title must be at most %d characters", MaxTitleLength)}
	}
	if utf8.RuneCountInString(d.Contents) > MaxContentsLength {
		return &ValidationError{Field: "contents", Message: fmt.Sprintf("contents must be at most %d characters", MaxContentsLength)}
	}
	return nil
}

// Apply copies the draft's fields onto ev.
func (d Draft) Apply(ev Event) Event {
	ev.Date = d.Date
	ev.StartTime = d.StartTime
	ev.EndTime = d.EndTime
	ev.Title = d.Title
	ev.Contents = d.Contents
	return ev
}

// ValidationError reports a draft the store refused. Message is meant for
// display next to the editor.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return "validation: " + e.Field + ": " + e.Message
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
