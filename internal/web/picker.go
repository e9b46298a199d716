package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
)

// pickerTime is an editor time field. It accepts "HH:MM[:SS]", a 12-hour
// string ("1:30 PM", "오후 1:30") or {"hour":1,"minute":30,"pm":true}.
type pickerTime struct {
	clock calmath.Clock
}

func (p *pickerTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		c, err := calmath.ParseClock(text)
		if errors.Is(err, calmath.ErrMalformedTime) {
			c, err = calmath.ParseClock12(text)
		}
		if err != nil {
			return err
		}
		p.clock = c
		return nil
	}

	var parts struct {
		Hour   int  `json:"hour"`
		Minute int  `json:"minute"`
		PM     bool `json:"pm"`
	}
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("%w: %s", calmath.ErrMalformedTime, b)
	}
	c, err := calmath.From12Hour(parts.Hour, parts.Minute, parts.PM)
	if err != nil {
		return err
	}
	p.clock = c
	return nil
}

// editorRequest is the body of /api/editor/save.
type editorRequest struct {
	Date      calmath.Date `json:"scheduleDate"`
	StartTime pickerTime   `json:"startTime"`
	EndTime   pickerTime   `json:"endTime"`
	Title     string       `json:"title"`
	Contents  string       `json:"contents"`
}

func (r editorRequest) draft() model.Draft {
	return model.Draft{
		Date:      r.Date,
		StartTime: r.StartTime.clock,
		EndTime:   r.EndTime.clock,
		Title:     r.Title,
		Contents:  r.Contents,
	}
}

// pickerMonth is one page of the editor's date picker.
type pickerMonth struct {
	Year     int            `json:"year"`
	Month    int            `json:"month"`
	Title    string         `json:"title"`
	Weekdays []string       `json:"weekdays"`
	Blanks   int            `json:"blanks"`
	Days     []calmath.Date `json:"days"`
	Prev     string         `json:"prev"`
	Next     string         `json:"next"`
}

// handlePicker serves GET /api/picker/{yyyy-mm}.
func (s *Server) handlePicker(w http.ResponseWriter, r *http.Request) {
	first, err := calmath.ParseDate(mux.Vars(r)["month"] + "-01")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_month", err.Error())
		return
	}

	loc := s.locale()
	resp := pickerMonth{
		Year:  first.Year,
		Month: int(first.Month),
		Title: loc.Title(calmath.ModeMonth, first),
		Prev:  first.AddMonths(-1).String()[:7],
		Next:  first.AddMonths(1).String()[:7],
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		resp.Weekdays = append(resp.Weekdays, loc.WeekdayName(wd, true))
	}
	for _, d := range calmath.MonthDays(first.Year, first.Month) {
		if d.IsZero() {
			resp.Blanks++
			continue
		}
		resp.Days = append(resp.Days, d)
	}
	writeJSON(w, http.StatusOK, resp)
}

// timedMode reads ?mode=, falling back to the controller's mode. Only week
// and day have a time grid.
func (s *Server) timedMode(r *http.Request) (calmath.ViewMode, error) {
	mode := s.host.Snapshot().Nav.Mode
	if v := r.URL.Query().Get("mode"); v != "" {
		m, err := calmath.ParseViewMode(v)
		if err != nil {
			return 0, err
		}
		mode = m
	}
	if !mode.Timed() {
		return 0, fmt.Errorf("%w: %s has no time grid", calmath.ErrUnknownViewMode, mode)
	}
	return mode, nil
}

// handleEditorSlot opens a blank editor from a click on the time grid:
// POST /api/editor/slot/{date}?mode=week&offset=456.
func (s *Server) handleEditorSlot(w http.ResponseWriter, r *http.Request) {
	d, err := calmath.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	mode, err := s.timedMode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	offset, err := strconv.ParseFloat(r.URL.Query().Get("offset"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a number of pixels")
		return
	}
	if _, err := s.host.SelectSlot(d, mode, offset); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.Snapshot().Editor)
}

type positionResponse struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// handleEditorPosition previews where the editor's times would sit:
// GET /api/editor/position?mode=day&start=09:00&end=10:30.
func (s *Server) handleEditorPosition(w http.ResponseWriter, r *http.Request) {
	mode, err := s.timedMode(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	q := r.URL.Query()
	top, height, err := s.host.Position(mode, q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Top: top, Height: height})
}
