// Package host is the page controller around the calendar view. It owns the
// event collection, the search mode and the editor, and refetches whenever
// the view's range changes.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sharedcal/internal/auth"
	"sharedcal/internal/calmath"
	"sharedcal/internal/calview"
	"sharedcal/internal/layout"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/model"
	"sharedcal/internal/nav"
	"sharedcal/internal/store"
)

// ErrNoEditor is returned by Save and DeleteEditing when no editor is open.
var ErrNoEditor = errors.New("host: editor is not open")

// Editor is the open create/edit form. EventID is empty for a new event.
type Editor struct {
	Draft   model.Draft `json:"draft"`
	EventID model.ID    `json:"eventId,omitempty"`
}

// Editing reports whether the editor targets an existing event.
func (e Editor) Editing() bool { return e.EventID != "" }

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Nav     nav.State     `json:"nav"`
	Range   calmath.Range `json:"range"`
	Keyword string        `json:"keyword,omitempty"`
	Events  []model.Event `json:"events"`
	Loading bool          `json:"loading"`
	Error   string        `json:"error,omitempty"`
	Editor  *Editor       `json:"editor,omitempty"`
	User    string        `json:"user,omitempty"`
}

type Options struct {
	Store    store.EventStore
	Identity auth.Identity
	Engine   layout.Engine
	Locale   calview.Locale
	Mode     calmath.ViewMode
	// Location decides which calendar date "today" is. Defaults to Local.
	Location *time.Location
	Now      func() time.Time
}

// Controller is safe for concurrent use. The view it wraps is not, so every
// call into it happens under mu.
type Controller struct {
	store    store.EventStore
	identity auth.Identity
	opts     Options
	now      func() time.Time
	loc      *time.Location

	mu      sync.Mutex
	view    *calview.View
	gen     uint64
	pending *calmath.Range
	events  []model.Event
	keyword string
	loading bool
	lastErr error
	editor  *Editor
}

// New builds a controller anchored at today. Call Start for the first fetch.
func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if !opts.Mode.Valid() {
		opts.Mode = calmath.ModeMonth
	}
	c := &Controller{
		store:    opts.Store,
		identity: opts.Identity,
		opts:     opts,
		now:      opts.Now,
		loc:      opts.Location,
	}

	m := nav.New(c.Today(), nav.WithMode(opts.Mode))
	c.view = calview.New(m, calview.Handlers{
		DateSelected:  c.onDateSelected,
		EventSelected: c.onEventSelected,
		RangeChanged:  c.onRangeChanged,
	}, calview.Options{Engine: opts.Engine, Locale: opts.Locale})
	return c
}

// Today is the current calendar date in the configured location.
func (c *Controller) Today() calmath.Date {
	return calmath.DateOf(c.now().In(c.loc))
}

// The handlers below run inside view calls, with mu already held.

func (c *Controller) onRangeChanged(start, end calmath.Date) {
	if c.keyword != "" {
		appLog.Debug("range change ignored in search mode", "start", start, "end", end)
		return
	}
	c.pending = &calmath.Range{Start: start, End: end}
}

func (c *Controller) onDateSelected(d calmath.Date) {
	c.editor = &Editor{Draft: model.NewDraft(d)}
}

func (c *Controller) onEventSelected(ev model.Event) {
	c.editor = &Editor{Draft: model.DraftOf(ev), EventID: ev.ID}
}

// Start announces the initial range and loads it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.view.Start()
	c.mu.Unlock()
	return c.flush(ctx)
}

func (c *Controller) Navigate(ctx context.Context, dir nav.Direction) error {
	c.mu.Lock()
	err := c.view.Navigate(dir)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.flush(ctx)
}

func (c *Controller) SetViewMode(ctx context.Context, mode calmath.ViewMode) error {
	c.mu.Lock()
	err := c.view.SetViewMode(mode)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.flush(ctx)
}

func (c *Controller) JumpToToday(ctx context.Context) error {
	c.mu.Lock()
	c.view.JumpToToday(c.Today())
	c.mu.Unlock()
	return c.flush(ctx)
}

// Refresh reloads whatever is on screen: the search results in search mode,
// the current range otherwise.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	keyword := c.keyword
	if keyword == "" {
		c.view.Refresh()
	}
	c.mu.Unlock()

	if keyword != "" {
		return c.runSearch(ctx, keyword)
	}
	return c.flush(ctx)
}

// flush fetches the pending range, if any. A response is applied only when
// no newer fetch has started meanwhile.
func (c *Controller) flush(ctx context.Context) error {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil
	}
	r := *c.pending
	c.pending = nil
	c.gen++
	gen := c.gen
	c.loading = true
	c.mu.Unlock()

	events, err := c.store.ListRange(ctx, r.Start, r.End)
	if !c.apply(gen, events, err) {
		appLog.Debug("stale range response discarded", "range", r.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("host: load %s: %w", r, err)
	}
	return nil
}

func (c *Controller) apply(gen uint64, events []model.Event, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.loading = false
	c.lastErr = err
	if err == nil {
		c.events = events
	}
	return true
}

// Search switches to search mode and replaces the collection with the
// matches. An empty keyword clears search mode.
func (c *Controller) Search(ctx context.Context, keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return c.ClearSearch(ctx)
	}
	c.mu.Lock()
	c.keyword = keyword
	c.pending = nil
	c.mu.Unlock()
	return c.runSearch(ctx, keyword)
}

func (c *Controller) runSearch(ctx context.Context, keyword string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.loading = true
	c.mu.Unlock()

	events, err := c.store.Search(ctx, keyword)
	if !c.apply(gen, events, err) {
		appLog.Debug("stale search response discarded", "keyword", keyword)
		return nil
	}
	if err != nil {
		return fmt.Errorf("host: search %q: %w", keyword, err)
	}
	return nil
}

// ClearSearch leaves search mode and reloads the current range.
func (c *Controller) ClearSearch(ctx context.Context) error {
	c.mu.Lock()
	c.keyword = ""
	c.view.Refresh()
	c.mu.Unlock()
	return c.flush(ctx)
}

// SelectDate opens a blank editor for d.
func (c *Controller) SelectDate(d calmath.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.SelectDate(d)
}

// SelectEvent opens the editor for a loaded event.
func (c *Controller) SelectEvent(id model.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.ID == id {
			c.view.SelectEvent(ev)
			return nil
		}
	}
	return fmt.Errorf("host: event %s: %w", id, store.ErrNotFound)
}

// NewDraftForToday is the quick-add button: a blank editor for today.
func (c *Controller) NewDraftForToday() model.Draft {
	d := model.NewDraft(c.Today())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editor = &Editor{Draft: d}
	return d
}

// SelectSlot opens a blank editor for a click at offset pixels down the
// time grid of mode. The draft starts at the slot's clock and lasts an hour,
// ending no later than the last second of the day.
func (c *Controller) SelectSlot(date calmath.Date, mode calmath.ViewMode, offset float64) (model.Draft, error) {
	if !mode.Timed() {
		return model.Draft{}, fmt.Errorf("host: %w: slot needs week or day, got %s", calmath.ErrUnknownViewMode, mode)
	}
	start := calmath.ClockAt(offset, c.engine().PolicyFor(mode).UnitHeight)
	end := calmath.Clock{Hour: start.Hour + 1, Minute: start.Minute}
	if end.Hour > 23 {
		end = calmath.Clock{Hour: 23, Minute: 59, Second: 59}
	}
	d := model.NewDraft(date)
	d.StartTime, d.EndTime = start, end

	c.mu.Lock()
	defer c.mu.Unlock()
	c.editor = &Editor{Draft: d}
	return d, nil
}

// engine is the layout engine the view renders with.
func (c *Controller) engine() layout.Engine {
	if c.opts.Engine == (layout.Engine{}) {
		return layout.DefaultEngine()
	}
	return c.opts.Engine
}

// Position is where a draft with the given raw times would sit on the
// time grid of mode.
func (c *Controller) Position(mode calmath.ViewMode, start, end string) (top, height float64, err error) {
	if !mode.Timed() {
		return 0, 0, fmt.Errorf("host: %w: position needs week or day, got %s", calmath.ErrUnknownViewMode, mode)
	}
	return layout.PositionTimes(start, end, c.engine().PolicyFor(mode))
}

func (c *Controller) CloseEditor() {
	c.mu.Lock()
	c.editor = nil
	c.mu.Unlock()
}

// Save submits d from the open editor as a create or an update.
func (c *Controller) Save(ctx context.Context, d model.Draft) (model.Event, error) {
	c.mu.Lock()
	ed := c.editor
	c.mu.Unlock()
	if ed == nil {
		return model.Event{}, ErrNoEditor
	}

	var (
		ev  model.Event
		err error
	)
	if ed.Editing() {
		ev, err = c.Update(ctx, ed.EventID, d)
	} else {
		ev, err = c.Create(ctx, d)
	}
	if err != nil {
		return model.Event{}, err
	}
	c.CloseEditor()
	return ev, nil
}

// DeleteEditing deletes the event in the open editor.
func (c *Controller) DeleteEditing(ctx context.Context) error {
	c.mu.Lock()
	ed := c.editor
	c.mu.Unlock()
	if ed == nil || !ed.Editing() {
		return ErrNoEditor
	}
	if err := c.Delete(ctx, ed.EventID); err != nil {
		return err
	}
	c.CloseEditor()
	return nil
}

// Create validates and stores d, then reloads.
func (c *Controller) Create(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	ev, err := c.store.Create(ctx, d)
	if err != nil {
		return model.Event{}, fmt.Errorf("host: create: %w", err)
	}
	appLog.Info("schedule created", "id", ev.ID, "date", ev.Date)
	c.reloadAfterMutation(ctx)
	return ev, nil
}

func (c *Controller) Update(ctx context.Context, id model.ID, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	ev, err := c.store.Update(ctx, id, d)
	if err != nil {
		return model.Event{}, fmt.Errorf("host: update %s: %w", id, err)
	}
	appLog.Info("schedule updated", "id", id)
	c.reloadAfterMutation(ctx)
	return ev, nil
}

func (c *Controller) Delete(ctx context.Context, id model.ID) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("host: delete %s: %w", id, err)
	}
	appLog.Info("schedule deleted", "id", id)
	c.reloadAfterMutation(ctx)
	return nil
}

// reloadAfterMutation refetches; a failed reload is recorded in the state
// but does not fail the mutation that already succeeded.
func (c *Controller) reloadAfterMutation(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		appLog.Warn("reload after mutation failed", "err", err)
	}
}

// Render lays out the current collection.
func (c *Controller) Render(compact bool) calview.Rendering {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Render(c.events, c.Today(), compact)
}

// RenderAt renders an arbitrary state without touching the controller's own
// navigation. A zero today means the real today.
func (c *Controller) RenderAt(ctx context.Context, mode calmath.ViewMode, anchor, today calmath.Date, compact bool) (calview.Rendering, error) {
	if today.IsZero() {
		today = c.Today()
	}
	if anchor.IsZero() {
		anchor = today
	}
	if !mode.Valid() {
		return calview.Rendering{}, fmt.Errorf("host: %w: %d", calmath.ErrUnknownViewMode, int(mode))
	}
	m := nav.New(anchor, nav.WithMode(mode))
	v := calview.New(m, calview.Handlers{}, calview.Options{Engine: c.opts.Engine, Locale: c.opts.Locale})
	r := v.Range()
	events, err := c.store.ListRange(ctx, r.Start, r.End)
	if err != nil {
		return calview.Rendering{}, fmt.Errorf("host: load %s: %w", r, err)
	}
	return v.Render(events, today, compact), nil
}

// Snapshot copies the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Nav:     c.view.State(),
		Range:   c.view.Range(),
		Keyword: c.keyword,
		Events:  append([]model.Event(nil), c.events...),
		Loading: c.loading,
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	if c.editor != nil {
		ed := *c.editor
		s.Editor = &ed
	}
	c.mu.Unlock()

	s.User = c.DisplayName()
	return s
}

// DisplayName is the signed-in member's name, empty when signed out.
func (c *Controller) DisplayName() string {
	if c.identity == nil {
		return ""
	}
	sess, ok := c.identity.Current()
	if !ok {
		return ""
	}
	return sess.Name
}

// Logout signs out and closes the editor.
func (c *Controller) Logout() {
	if c.identity != nil {
		c.identity.Logout()
	}
	c.CloseEditor()
	appLog.Info("signed out")
}
