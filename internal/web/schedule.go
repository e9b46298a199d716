package web

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
	"sharedcal/internal/store"
)

// mutationResponse is the body of create, update and delete.
type mutationResponse struct {
	ID      model.ID `json:"id"`
	Message string   `json:"message"`
}

// Mutations go through the host so the page state reloads afterwards; reads
// go straight to the store.

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if !decodeJSON(w, r, &d) {
		return
	}
	ev, err := s.host.Create(r.Context(), d)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{ID: ev.ID, Message: "schedule created"})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := model.ID(mux.Vars(r)["id"])
	var d model.Draft
	if !decodeJSON(w, r, &d) {
		return
	}
	if _, err := s.host.Update(r.Context(), id, d); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{ID: id, Message: "schedule updated"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := model.ID(mux.Vars(r)["id"])
	if err := s.host.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{ID: id, Message: "schedule deleted"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Get(r.Context(), model.ID(mux.Vars(r)["id"]))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleRange serves GET /schedule/range?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD.
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := calmath.ParseDate(q.Get("startDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "startDate: "+err.Error())
		return
	}
	end, err := calmath.ParseDate(q.Get("endDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "endDate: "+err.Error())
		return
	}
	events, err := s.store.ListRange(r.Context(), start, end)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func (s *Server) handleDate(w http.ResponseWriter, r *http.Request) {
	d, err := calmath.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	events, err := s.store.ListRange(r.Context(), d, d)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	events, err := s.store.Search(r.Context(), req.Keyword)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

// handleList serves GET /schedule/list?size=N&nextCursor=C, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size := parseIntDefault(q.Get("size"), store.DefaultPageSize)
	cursor, err := parseCursor(q.Get("nextCursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "nextCursor must be a positive integer")
		return
	}
	page, err := s.store.List(r.Context(), size, cursor)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	page.Events = nonNil(page.Events)
	writeJSON(w, http.StatusOK, page)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func nonNil(events []model.Event) []model.Event {
	if events == nil {
		return []model.Event{}
	}
	return events
}
