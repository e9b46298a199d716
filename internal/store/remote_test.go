package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

const upstreamSchedule = `{"id":7,"scheduleDate":"2024-03-15","startTime":"09:00:00","endTime":"10:00:00",
"title":"Standup","contents":"","createdAt":"2024-03-01T10:00:00.123456","updatedAt":"2024-03-01T10:00:00"}`

func newUpstream(t *testing.T, mux *http.ServeMux) *Remote {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	r, err := NewRemote(srv.URL+"/", RemoteOptions{Retries: 2, Token: staticToken("tok")})
	require.NoError(t, err)
	return r
}

func TestRemoteListRange(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /schedule/range", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-02-25", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2024-04-06", r.URL.Query().Get("endDate"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("[" + upstreamSchedule + "]"))
	})
	r := newUpstream(t, mux)

	got, err := r.ListRange(context.Background(), calmath.MustParseDate("2024-02-25"), calmath.MustParseDate("2024-04-06"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "one retry after 503")
	require.Len(t, got, 1)
	assert.Equal(t, model.ID("7"), got[0].ID)
	assert.Equal(t, "09:00:00", got[0].StartTime.String())
	assert.Equal(t, 2024, got[0].CreatedAt.Year())
	assert.False(t, got[0].UpdatedAt.IsZero())
}

func TestRemoteMutations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /schedule/create", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2024-03-15", body["scheduleDate"])
		assert.Equal(t, "09:00:00", body["startTime"])
		_, _ = w.Write([]byte(`{"id":42,"message":"created"}`))
	})
	mux.HandleFunc("PUT /schedule/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":` + r.PathValue("id") + `,"message":"updated"}`))
	})
	mux.HandleFunc("DELETE /schedule/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "404" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"SCHEDULE_NOT_FOUND","message":"no such schedule"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":1,"message":"deleted"}`))
	})
	r := newUpstream(t, mux)
	ctx := context.Background()

	ev, err := r.Create(ctx, draft("2024-03-15", "09:00", "10:00", "Standup"))
	require.NoError(t, err)
	assert.Equal(t, model.ID("42"), ev.ID)
	assert.Equal(t, "Standup", ev.Title)

	ev, err = r.Update(ctx, "42", draft("2024-03-16", "09:00", "10:00", "Moved"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16", ev.Date.String())

	require.NoError(t, r.Delete(ctx, "1"))
	assert.ErrorIs(t, r.Delete(ctx, "404"), ErrNotFound)
}

func TestRemoteErrorFamily(t *testing.T) {
	var searches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /schedule/search", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_KEYWORD","message":"keyword too long"}`))
	})
	mux.HandleFunc("GET /schedule/list", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"TOKEN_EXPIRED","message":"token expired"}`))
	})
	mux.HandleFunc("GET /schedule/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	r := newUpstream(t, mux)
	ctx := context.Background()

	_, err := r.Search(ctx, "x")
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "keyword too long", ve.Message)
	assert.Equal(t, int32(1), searches.Load(), "validation errors are not retried")

	_, err = r.List(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = r.Get(ctx, "1")
	var ne *NetworkError
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, ne.Status)
	assert.Contains(t, ne.Error(), "boom")
}

func TestRemoteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewRemote(url, RemoteOptions{})
	require.NoError(t, err)
	_, err = r.List(context.Background(), 1, 0)
	var ne *NetworkError
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.Zero(t, ne.Status)
	assert.True(t, ne.Temporary())
}

func TestRemoteListPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /schedule/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("size"))
		assert.Equal(t, "9", r.URL.Query().Get("nextCursor"))
		_, _ = w.Write([]byte(`{"schedules":[` + upstreamSchedule + `],"nextCursor":7,"hasNext":true}`))
	})
	r := newUpstream(t, mux)

	page, err := r.List(context.Background(), 3, 9)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(7), page.NextCursor)
	assert.True(t, page.HasNext)
}
