package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"sharedcal/internal/auth"
	"sharedcal/internal/calmath"
	"sharedcal/internal/ics"
	"sharedcal/internal/model"
	"sharedcal/internal/nav"
	"sharedcal/internal/store"
	"sharedcal/internal/store/storemock"
)

var fixedNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func d(s string) calmath.Date { return calmath.MustParseDate(s) }

func event(id, date, start, end, title string) model.Event {
	return model.Event{
		ID:        model.ID(id),
		Date:      d(date),
		StartTime: calmath.MustParseClock(start),
		EndTime:   calmath.MustParseClock(end),
		Title:     title,
	}
}

func newController(t *testing.T, mode calmath.ViewMode) (*Controller, *storemock.MockEventStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	s := storemock.NewMockEventStore(ctrl)
	c := New(Options{
		Store:    s,
		Identity: auth.NewLocal("kim"),
		Mode:     mode,
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	})
	return c, s
}

func TestStartLoadsVisibleRange(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeMonth)
	loaded := []model.Event{event("1", "2024-03-15", "09:00", "10:00", "Standup")}
	s.EXPECT().ListRange(gomock.Any(), d("2024-02-25"), d("2024-04-06")).Return(loaded, nil)

	require.NoError(t, c.Start(ctx))

	snap := c.Snapshot()
	assert.Equal(t, loaded, snap.Events)
	assert.False(t, snap.Loading)
	assert.Equal(t, "kim", snap.User)
	assert.Equal(t, calmath.Range{Start: d("2024-02-25"), End: d("2024-04-06")}, snap.Range)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeWeek)

	stale := []model.Event{event("1", "2024-03-12", "09:00", "10:00", "old week")}
	fresh := []model.Event{event("2", "2024-03-19", "09:00", "10:00", "next week")}

	gomock.InOrder(
		s.EXPECT().ListRange(gomock.Any(), d("2024-03-10"), d("2024-03-16")).
			DoAndReturn(func(ctx context.Context, _, _ calmath.Date) ([]model.Event, error) {
				// The user pages forward before this response arrives.
				require.NoError(t, c.Navigate(ctx, nav.Forward))
				return stale, nil
			}),
		s.EXPECT().ListRange(gomock.Any(), d("2024-03-17"), d("2024-03-23")).Return(fresh, nil),
	)

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, fresh, c.Snapshot().Events)
}

func TestSearchModeSuppressesRangeFetches(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeMonth)
	s.EXPECT().ListRange(gomock.Any(), d("2024-02-25"), d("2024-04-06")).Return(nil, nil)
	require.NoError(t, c.Start(ctx))

	hits := []model.Event{event("7", "2024-01-02", "10:00", "11:00", "주간 회의")}
	s.EXPECT().Search(gomock.Any(), "회의").Return(hits, nil)
	require.NoError(t, c.Search(ctx, "  회의 "))

	// No ListRange is expected while the keyword is active.
	require.NoError(t, c.Navigate(ctx, nav.Forward))
	snap := c.Snapshot()
	assert.Equal(t, "회의", snap.Keyword)
	assert.Equal(t, hits, snap.Events)
	assert.Equal(t, d("2024-04-15"), snap.Nav.Anchor)

	s.EXPECT().ListRange(gomock.Any(), d("2024-03-31"), d("2024-05-04")).Return(nil, nil)
	require.NoError(t, c.Search(ctx, ""))
	assert.Empty(t, c.Snapshot().Keyword)
	assert.Empty(t, c.Snapshot().Events)
}

func TestEditorCreateFlow(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeDay)
	s.EXPECT().ListRange(gomock.Any(), d("2024-03-15"), d("2024-03-15")).Return(nil, nil)
	require.NoError(t, c.Start(ctx))

	_, err := c.Save(ctx, model.NewDraft(d("2024-03-15")))
	assert.ErrorIs(t, err, ErrNoEditor)

	c.SelectDate(d("2024-03-20"))
	ed := c.Snapshot().Editor
	require.NotNil(t, ed)
	assert.False(t, ed.Editing())
	assert.Equal(t, "09:00:00", ed.Draft.StartTime.String())
	assert.Equal(t, "10:00:00", ed.Draft.EndTime.String())

	// Validation failures never reach the store.
	var verr *model.ValidationError
	_, err = c.Save(ctx, ed.Draft)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	assert.NotNil(t, c.Snapshot().Editor)

	draft := ed.Draft
	draft.Title = "Dentist"
	created := event("9", "2024-03-20", "09:00", "10:00", "Dentist")
	gomock.InOrder(
		s.EXPECT().Create(gomock.Any(), draft).Return(created, nil),
		s.EXPECT().ListRange(gomock.Any(), d("2024-03-15"), d("2024-03-15")).Return(nil, nil),
	)
	got, err := c.Save(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Nil(t, c.Snapshot().Editor)
}

func TestEditorUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeDay)
	existing := event("3", "2024-03-15", "13:00", "14:00", "Review")
	s.EXPECT().ListRange(gomock.Any(), d("2024-03-15"), d("2024-03-15")).Return([]model.Event{existing}, nil).Times(3)
	require.NoError(t, c.Start(ctx))

	assert.ErrorIs(t, c.SelectEvent("404"), store.ErrNotFound)
	require.NoError(t, c.SelectEvent("3"))
	ed := c.Snapshot().Editor
	require.NotNil(t, ed)
	assert.True(t, ed.Editing())
	assert.Equal(t, model.DraftOf(existing), ed.Draft)

	draft := ed.Draft
	draft.Title = "Design review"
	s.EXPECT().Update(gomock.Any(), model.ID("3"), draft).Return(draft.Apply(existing), nil)
	_, err := c.Save(ctx, draft)
	require.NoError(t, err)

	require.NoError(t, c.SelectEvent("3"))
	s.EXPECT().Delete(gomock.Any(), model.ID("3")).Return(nil)
	require.NoError(t, c.DeleteEditing(ctx))
	assert.Nil(t, c.Snapshot().Editor)
	assert.ErrorIs(t, c.DeleteEditing(ctx), ErrNoEditor)
}

func TestLoadErrorIsKeptInState(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeDay)
	netErr := &store.NetworkError{Op: "list range", Status: http.StatusBadGateway}
	s.EXPECT().ListRange(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, netErr)

	err := c.Start(ctx)
	var target *store.NetworkError
	require.ErrorAs(t, err, &target)
	assert.True(t, target.Temporary())
	assert.NotEmpty(t, c.Snapshot().Error)
}

func TestQuickAddAndLogout(t *testing.T) {
	c, _ := newController(t, calmath.ModeMonth)
	draft := c.NewDraftForToday()
	assert.Equal(t, d("2024-03-15"), draft.Date)
	assert.NotNil(t, c.Snapshot().Editor)

	assert.Equal(t, "kim", c.DisplayName())
	c.Logout()
	assert.Empty(t, c.DisplayName())
	assert.Nil(t, c.Snapshot().Editor)
}

func TestRenderAtLeavesNavigationAlone(t *testing.T) {
	ctx := context.Background()
	c, s := newController(t, calmath.ModeMonth)
	s.EXPECT().ListRange(gomock.Any(), d("2024-03-10"), d("2024-03-16")).
		Return([]model.Event{event("1", "2024-03-15", "09:00", "10:00", "Standup")}, nil)

	r, err := c.RenderAt(ctx, calmath.ModeWeek, d("2024-03-15"), calmath.Date{}, false)
	require.NoError(t, err)
	require.NotNil(t, r.Week)
	assert.Equal(t, calmath.ModeMonth, c.Snapshot().Nav.Mode)

	_, err = c.RenderAt(ctx, calmath.ViewMode(9), d("2024-03-15"), calmath.Date{}, false)
	assert.True(t, errors.Is(err, calmath.ErrUnknownViewMode))
}

const oneEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:one@test\r\n" +
	"DTSTAMP:20240301T000000Z\r\n" +
	"DTSTART:20240314T010000Z\r\n" +
	"DTEND:20240314T020000Z\r\n" +
	"SUMMARY:Imported\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestRefresherImportsAndReloads(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(oneEvent))
	}))
	defer srv.Close()

	c := New(Options{
		Store:    store.NewMemory(),
		Mode:     calmath.ModeWeek,
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, c.Start(ctx))
	assert.Empty(t, c.Snapshot().Events)

	r, err := NewRefresher(c, RefresherOptions{
		Schedule: "*/15 * * * *",
		Sources:  []ics.Source{{ID: "team", URL: srv.URL + "/team.ics"}},
		Fetcher:  ics.NewFetcher(t.TempDir(), srv.Client()),
		Location: time.UTC,
	})
	require.NoError(t, err)

	require.NoError(t, r.RunOnce(ctx))
	events := c.Snapshot().Events
	require.Len(t, events, 1)
	assert.Equal(t, "Imported", events[0].Title)
	assert.Equal(t, "01:00:00", events[0].StartTime.String())

	// A second run finds the event already imported.
	n, err := r.SyncICS(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewRefresherValidates(t *testing.T) {
	c, _ := newController(t, calmath.ModeMonth)
	_, err := NewRefresher(c, RefresherOptions{Schedule: "every now and then"})
	assert.Error(t, err)

	_, err = NewRefresher(c, RefresherOptions{Schedule: "@hourly", Sources: []ics.Source{{ID: "x"}}})
	assert.Error(t, err)

	r, err := NewRefresher(c, RefresherOptions{Schedule: "@hourly"})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}

func TestQuickAddRacesWithClose(t *testing.T) {
	c, _ := newController(t, calmath.ModeMonth)

	var wg conc.WaitGroup
	for range 50 {
		wg.Go(func() {
			assert.Equal(t, d("2024-03-15"), c.NewDraftForToday().Date)
		})
		wg.Go(c.CloseEditor)
	}
	wg.Wait()
}

func TestSelectSlot(t *testing.T) {
	c, _ := newController(t, calmath.ModeWeek)

	draft, err := c.SelectSlot(d("2024-03-14"), calmath.ModeWeek, 9.5*48)
	require.NoError(t, err)
	assert.Equal(t, "09:30:00", draft.StartTime.String())
	assert.Equal(t, "10:30:00", draft.EndTime.String())
	require.NotNil(t, c.Snapshot().Editor)
	assert.Equal(t, d("2024-03-14"), c.Snapshot().Editor.Draft.Date)

	draft, err = c.SelectSlot(d("2024-03-14"), calmath.ModeDay, 23.5*60)
	require.NoError(t, err)
	assert.Equal(t, "23:30:00", draft.StartTime.String())
	assert.Equal(t, "23:59:59", draft.EndTime.String())

	_, err = c.SelectSlot(d("2024-03-14"), calmath.ModeMonth, 100)
	assert.ErrorIs(t, err, calmath.ErrUnknownViewMode)
}

func TestPositionOfRawTimes(t *testing.T) {
	c, _ := newController(t, calmath.ModeWeek)

	top, height, err := c.Position(calmath.ModeWeek, "09:00", "10:30")
	require.NoError(t, err)
	assert.Equal(t, 432.0, top)
	assert.Equal(t, 72.0, height)

	_, _, err = c.Position(calmath.ModeDay, "9am", "10:00")
	assert.ErrorIs(t, err, calmath.ErrMalformedTime)
}
