package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"sharedcal/internal/calmath"
	"sharedcal/internal/calview"
	"sharedcal/internal/config"
	"sharedcal/internal/host"
	"sharedcal/internal/ics"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/model"
	"sharedcal/internal/nav"
	"sharedcal/internal/store"
)

// maxUploadSize caps an ICS upload on /api/import.
const maxUploadSize = 8 << 20

// Server provides the schedule REST API, the calendar view API and the
// server-rendered calendar page.
type Server struct {
	cfg         *config.Config
	host        *host.Controller
	store       store.EventStore
	previewPath string
	router      *mux.Router
	page        *template.Template
}

//go:embed templates/calendar.html.tmpl
var templates embed.FS

type Options struct {
	Config *config.Config
	Host   *host.Controller
	Store  store.EventStore
	// PreviewPath is the PNG served on /preview.png, written by the snapshot
	// command.
	PreviewPath string
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:         opts.Config,
		host:        opts.Host,
		store:       opts.Store,
		previewPath: opts.PreviewPath,
		router:      mux.NewRouter(),
	}
	s.page = template.Must(template.New("calendar.html.tmpl").Funcs(template.FuncMap{
		"px":    func(v float64) template.CSS { return template.CSS(strconv.FormatFloat(v, 'f', -1, 64) + "px") },
		"mul":   func(a, b float64) float64 { return a * b },
		"clock": s.clockLabel,
	}).ParseFS(templates, "templates/calendar.html.tmpl"))
	s.registerRoutes()
	return s
}

func (s *Server) locale() calview.Locale {
	if s.cfg == nil {
		return calview.LocaleKorean
	}
	return calview.ParseLocale(s.cfg.Locale)
}

// clockLabel formats event times on the page per clock_format.
func (s *Server) clockLabel(c calmath.Clock) string {
	return s.locale().ClockLabel(c, s.cfg.TwelveHour())
}

// Handler returns the root handler with request IDs and, when configured,
// basic auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return requestIDMiddleware(h)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	b := s.cfg.BasicAuth
	return b.Username != "" && (b.Password != "" || b.PasswordHash != "")
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !s.cfg.BasicAuth.Check(u, p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="sharedcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

// requestIDMiddleware tags every request with an X-Request-ID, reusing the
// client's when present, and logs the outcome.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		appLog.Debug("http request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	})
}

// RequestID returns the id assigned by the middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Schedule API. Fixed paths are registered before /schedule/{id}.
	r.HandleFunc("/schedule/create", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/schedule/range", s.handleRange).Methods(http.MethodGet)
	r.HandleFunc("/schedule/date/{date}", s.handleDate).Methods(http.MethodGet)
	r.HandleFunc("/schedule/search", s.handleSearch).Methods(http.MethodPost)
	r.HandleFunc("/schedule/list", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/schedule/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/schedule/{id}", s.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/schedule/{id}", s.handleDelete).Methods(http.MethodDelete)

	// Calendar page state, driven through the host controller.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	api.HandleFunc("/nav/{action:prev|next|today}", s.handleNav).Methods(http.MethodPost)
	api.HandleFunc("/nav/mode/{mode}", s.handleMode).Methods(http.MethodPost)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleHostSearch).Methods(http.MethodPost)
	api.HandleFunc("/editor/date/{date}", s.handleEditorDate).Methods(http.MethodPost)
	api.HandleFunc("/editor/today", s.handleEditorToday).Methods(http.MethodPost)
	api.HandleFunc("/editor/slot/{date}", s.handleEditorSlot).Methods(http.MethodPost)
	api.HandleFunc("/editor/position", s.handleEditorPosition).Methods(http.MethodGet)
	api.HandleFunc("/picker/{month:[0-9]{4}-[0-9]{2}}", s.handlePicker).Methods(http.MethodGet)
	api.HandleFunc("/editor/event/{id}", s.handleEditorEvent).Methods(http.MethodPost)
	api.HandleFunc("/editor/save", s.handleEditorSave).Methods(http.MethodPost)
	api.HandleFunc("/editor", s.handleEditorDelete).Methods(http.MethodDelete)
	api.HandleFunc("/editor/close", s.handleEditorClose).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)

	r.HandleFunc("/calendar", s.handleCalendar).Methods(http.MethodGet)
	r.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)
	r.Handle("/", http.RedirectHandler("/calendar", http.StatusFound))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last snapshot PNG from disk. http.ServeFile
// answers 404 when none has been taken yet.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previewPath == "" {
		writeError(w, http.StatusNotFound, "not_found", "preview is not configured")
		return
	}
	http.ServeFile(w, r, s.previewPath)
}

// viewQuery is the shared mode/date/today/compact query of the view routes.
type viewQuery struct {
	mode    calmath.ViewMode
	modeSet bool
	anchor  calmath.Date
	today   calmath.Date
	compact bool
	// explicit is set when mode or date was given.
	explicit bool
}

func parseViewQuery(r *http.Request) (viewQuery, error) {
	q := r.URL.Query()
	vq := viewQuery{compact: parseBool(q.Get("compact"))}
	if m := q.Get("mode"); m != "" {
		mode, err := calmath.ParseViewMode(m)
		if err != nil {
			return vq, err
		}
		vq.mode, vq.modeSet, vq.explicit = mode, true, true
	}
	if v := q.Get("date"); v != "" {
		d, err := calmath.ParseDate(v)
		if err != nil {
			return vq, err
		}
		vq.anchor, vq.explicit = d, true
	}
	if v := q.Get("today"); v != "" {
		d, err := calmath.ParseDate(v)
		if err != nil {
			return vq, err
		}
		vq.today = d
	}
	return vq, nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// render resolves a view query. Without mode, date or today the
// controller's own rendering is returned; otherwise a detached state is
// rendered, taking whatever the query leaves out from the controller's mode
// and anchor.
func (s *Server) render(ctx context.Context, vq viewQuery) (calview.Rendering, error) {
	if !vq.explicit && vq.today.IsZero() {
		return s.host.Render(vq.compact), nil
	}
	snap := s.host.Snapshot()
	if !vq.modeSet {
		vq.mode = snap.Nav.Mode
	}
	if vq.anchor.IsZero() {
		vq.anchor = snap.Nav.Anchor
	}
	return s.host.RenderAt(ctx, vq.mode, vq.anchor, vq.today, vq.compact)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	vq, err := parseViewQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	rendering, err := s.render(r.Context(), vq)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rendering)
}

type pageData struct {
	R    calview.Rendering
	Lang string
	User string
}

// handleCalendar renders the calendar page. The snapshot capture loads it
// with an explicit mode and date and waits for data-ready.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	vq, err := parseViewQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	rendering, err := s.render(r.Context(), vq)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	data := pageData{R: rendering, Lang: string(s.locale()), User: s.host.DisplayName()}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		appLog.Error("calendar template failed", err, "request_id", RequestID(r.Context()))
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Snapshot())
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	var err error
	switch mux.Vars(r)["action"] {
	case "prev":
		err = s.host.Navigate(r.Context(), nav.Backward)
	case "next":
		err = s.host.Navigate(r.Context(), nav.Forward)
	default:
		err = s.host.JumpToToday(r.Context())
	}
	s.respondRendering(w, r, err)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	mode, err := calmath.ParseViewMode(mux.Vars(r)["mode"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	s.respondRendering(w, r, s.host.SetViewMode(r.Context(), mode))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.respondRendering(w, r, s.host.Refresh(r.Context()))
}

// respondRendering answers a state change with the new rendering. A failed
// fetch still changed the state, so it is reported as an error response.
func (s *Server) respondRendering(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.Render(parseBool(r.URL.Query().Get("compact"))))
}

type searchRequest struct {
	Keyword string `json:"keyword"`
}

func (s *Server) handleHostSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.host.Search(r.Context(), req.Keyword); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.Snapshot())
}

func (s *Server) handleEditorDate(w http.ResponseWriter, r *http.Request) {
	d, err := calmath.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return
	}
	s.host.SelectDate(d)
	writeJSON(w, http.StatusOK, s.host.Snapshot().Editor)
}

func (s *Server) handleEditorToday(w http.ResponseWriter, _ *http.Request) {
	s.host.NewDraftForToday()
	writeJSON(w, http.StatusOK, s.host.Snapshot().Editor)
}

func (s *Server) handleEditorEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.host.SelectEvent(model.ID(mux.Vars(r)["id"])); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.Snapshot().Editor)
}

func (s *Server) handleEditorSave(w http.ResponseWriter, r *http.Request) {
	var req editorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ev, err := s.host.Save(r.Context(), req.draft())
	if errors.Is(err, host.ErrNoEditor) {
		writeError(w, http.StatusConflict, "no_editor", err.Error())
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleEditorDelete(w http.ResponseWriter, r *http.Request) {
	err := s.host.DeleteEditing(r.Context())
	if errors.Is(err, host.ErrNoEditor) {
		writeError(w, http.StatusConflict, "no_editor", err.Error())
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditorClose(w http.ResponseWriter, _ *http.Request) {
	s.host.CloseEditor()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.host.Logout()
	w.WriteHeader(http.StatusNoContent)
}

// importResponse reports an ICS upload.
type importResponse struct {
	Parsed    int      `json:"parsed"`
	Created   int      `json:"created"`
	Duplicate int      `json:"duplicate"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// handleImport accepts a raw iCalendar body, imports its events and reloads
// the page state.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(body) > maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "calendar upload is too large")
		return
	}
	if mt := mimetype.Detect(body); !mt.Is("text/calendar") {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			fmt.Sprintf("expected text/calendar, got %s", mt.String()))
		return
	}

	loc := time.Local
	if s.cfg != nil {
		loc = s.cfg.Location()
	}
	items, err := ics.ParseICS(ics.Source{ID: "upload"}, body, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_calendar", err.Error())
		return
	}
	rep, err := ics.Import(r.Context(), s.store, items)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if err := s.host.Refresh(r.Context()); err != nil {
		appLog.Warn("reload after import failed", "err", err, "request_id", RequestID(r.Context()))
	}

	resp := importResponse{Parsed: len(items), Created: rep.Created, Duplicate: rep.Duplicate, Failed: rep.Failed}
	for _, e := range rep.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

// writeStoreError maps the store's error family onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *model.ValidationError
		netErr *store.NetworkError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation", verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "schedule not found")
	case errors.Is(err, store.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, calmath.ErrMalformedDate), errors.Is(err, calmath.ErrMalformedTime), errors.Is(err, calmath.ErrUnknownViewMode):
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.As(err, &netErr):
		appLog.Error("upstream store failed", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusBadGateway, "upstream", err.Error())
	default:
		appLog.Error("request failed", err, "path", r.URL.Path, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

// errorResponse matches the {code, message} body the remote store decodes.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: strings.TrimSpace(msg)})
}
