package store

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
)

// Memory keeps events in a map guarded by a RWMutex. Ids are sequential
// decimal numbers starting at 1.
type Memory struct {
	mu     sync.RWMutex
	events map[int64]model.Event
	nextID int64
	now    func() time.Time
	closed bool
}

type MemoryOption func(*Memory)

// WithClock replaces time.Now for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{events: make(map[int64]model.Event), nextID: 1, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) ListRange(ctx context.Context, start, end calmath.Date) ([]model.Event, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	r := calmath.Range{Start: start, End: end}
	return m.filter(func(ev model.Event) bool { return r.Contains(ev.Date) })
}

func (m *Memory) Search(ctx context.Context, keyword string) ([]model.Event, error) {
	if _, err := validateKeyword(keyword); err != nil {
		return nil, err
	}
	return m.filter(func(ev model.Event) bool { return Matches(ev, keyword) })
}

func (m *Memory) List(ctx context.Context, size int, cursor int64) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Page{}, ErrClosed
	}

	ids := make([]int64, 0, len(m.events))
	for id := range m.events {
		if cursor <= 0 || id < cursor {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	slices.Reverse(ids)

	n := pageSize(size)
	page := Page{Events: []model.Event{}}
	for i, id := range ids {
		if i == n {
			page.HasNext = true
			break
		}
		page.Events = append(page.Events, m.events[id])
		page.NextCursor = id
	}
	if !page.HasNext {
		page.NextCursor = 0
	}
	return page, nil
}

func (m *Memory) Get(ctx context.Context, id model.ID) (model.Event, error) {
	n, err := id.Int()
	if err != nil {
		return model.Event{}, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.Event{}, ErrClosed
	}
	ev, ok := m.events[n]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) Create(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Event{}, ErrClosed
	}

	id := m.nextID
	m.nextID++
	now := m.now()
	ev := d.Apply(model.Event{
		ID:        model.ID(strconv.FormatInt(id, 10)),
		CreatedAt: now,
		UpdatedAt: now,
	})
	m.events[id] = ev
	return ev, nil
}

func (m *Memory) Update(ctx context.Context, id model.ID, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	n, err := id.Int()
	if err != nil {
		return model.Event{}, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Event{}, ErrClosed
	}

	ev, ok := m.events[n]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	ev = d.Apply(ev)
	ev.UpdatedAt = m.now()
	m.events[n] = ev
	return ev, nil
}

func (m *Memory) Delete(ctx context.Context, id model.ID) error {
	n, err := id.Int()
	if err != nil {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.events[n]; !ok {
		return ErrNotFound
	}
	delete(m.events, n)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) filter(keep func(model.Event) bool) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := []model.Event{}
	for _, ev := range m.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	SortEvents(out)
	return out, nil
}

// SortEvents orders events by date, start time and numeric id.
func SortEvents(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.StartTime.SecondsOfDay(), b.StartTime.SecondsOfDay()); c != 0 {
			return c
		}
		ai, _ := a.ID.Int()
		bi, _ := b.ID.Int()
		return cmp.Compare(ai, bi)
	})
}
