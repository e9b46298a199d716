package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"sharedcal/internal/calmath"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/model"
)

// TokenSource supplies the bearer token sent with each request. An empty
// token sends no Authorization header.
type TokenSource interface {
	Token() string
}

type RemoteOptions struct {
	Timeout time.Duration
	// Retries is the number of extra attempts for idempotent requests.
	Retries uint
	Token   TokenSource
	Client  *http.Client
}

// Remote talks to the upstream schedule REST API.
type Remote struct {
	base    string
	client  *http.Client
	retries uint
	token   TokenSource
}

func NewRemote(base string, opts RemoteOptions) (*Remote, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("store: invalid remote url %q", base)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{
		base:    strings.TrimRight(base, "/"),
		client:  client,
		retries: opts.Retries,
		token:   opts.Token,
	}, nil
}

// apiError is the upstream error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wireEvent is the upstream schedule. Timestamps are decoded leniently since
// the server may omit the zone offset.
type wireEvent struct {
	ID        model.ID      `json:"id"`
	Date      calmath.Date  `json:"scheduleDate"`
	StartTime calmath.Clock `json:"startTime"`
	EndTime   calmath.Clock `json:"endTime"`
	Title     string        `json:"title"`
	Contents  string        `json:"contents"`
	CreatedAt string        `json:"createdAt"`
	UpdatedAt string        `json:"updatedAt"`
}

func (w wireEvent) event() model.Event {
	return model.Event{
		ID:        w.ID,
		Date:      w.Date,
		StartTime: w.StartTime,
		EndTime:   w.EndTime,
		Title:     w.Title,
		Contents:  w.Contents,
		CreatedAt: parseTimestamp(w.CreatedAt),
		UpdatedAt: parseTimestamp(w.UpdatedAt),
	}
}

func fromWire(ws []wireEvent) []model.Event {
	out := make([]model.Event, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.event())
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

type wirePage struct {
	Schedules  []wireEvent `json:"schedules"`
	NextCursor int64       `json:"nextCursor"`
	HasNext    bool        `json:"hasNext"`
}

// mutationResponse is returned by create, update and delete.
type mutationResponse struct {
	ID      model.ID `json:"id"`
	Message string   `json:"message"`
}

func (r *Remote) ListRange(ctx context.Context, start, end calmath.Date) ([]model.Event, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("startDate", start.String())
	q.Set("endDate", end.String())

	var out []wireEvent
	err := r.idempotent(ctx, "list range", func() error {
		return r.do(ctx, "list range", http.MethodGet, "/schedule/range?"+q.Encode(), nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return fromWire(out), nil
}

func (r *Remote) Search(ctx context.Context, keyword string) ([]model.Event, error) {
	if _, err := validateKeyword(keyword); err != nil {
		return nil, err
	}
	body := map[string]string{"keyword": strings.TrimSpace(keyword)}

	var out []wireEvent
	err := r.idempotent(ctx, "search", func() error {
		return r.do(ctx, "search", http.MethodPost, "/schedule/search", body, &out)
	})
	if err != nil {
		return nil, err
	}
	return fromWire(out), nil
}

func (r *Remote) List(ctx context.Context, size int, cursor int64) (Page, error) {
	q := url.Values{}
	q.Set("size", strconv.Itoa(pageSize(size)))
	if cursor > 0 {
		q.Set("nextCursor", strconv.FormatInt(cursor, 10))
	}

	var page wirePage
	err := r.idempotent(ctx, "list", func() error {
		return r.do(ctx, "list", http.MethodGet, "/schedule/list?"+q.Encode(), nil, &page)
	})
	if err != nil {
		return Page{}, err
	}
	return Page{Events: fromWire(page.Schedules), NextCursor: page.NextCursor, HasNext: page.HasNext}, nil
}

func (r *Remote) Get(ctx context.Context, id model.ID) (model.Event, error) {
	var ev wireEvent
	err := r.idempotent(ctx, "get", func() error {
		return r.do(ctx, "get", http.MethodGet, "/schedule/"+url.PathEscape(string(id)), nil, &ev)
	})
	if err != nil {
		return model.Event{}, err
	}
	return ev.event(), nil
}

func (r *Remote) Create(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	var res mutationResponse
	if err := r.do(ctx, "create", http.MethodPost, "/schedule/create", d, &res); err != nil {
		return model.Event{}, err
	}
	return d.Apply(model.Event{ID: res.ID}), nil
}

func (r *Remote) Update(ctx context.Context, id model.ID, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	var res mutationResponse
	if err := r.do(ctx, "update", http.MethodPut, "/schedule/"+url.PathEscape(string(id)), d, &res); err != nil {
		return model.Event{}, err
	}
	return d.Apply(model.Event{ID: id}), nil
}

func (r *Remote) Delete(ctx context.Context, id model.ID) error {
	return r.do(ctx, "delete", http.MethodDelete, "/schedule/"+url.PathEscape(string(id)), nil, nil)
}

func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// idempotent retries fn on temporary network errors.
func (r *Remote) idempotent(ctx context.Context, op string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(r.retries+1),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var ne *NetworkError
			return errors.As(err, &ne) && ne.Temporary()
		}),
		retry.OnRetry(func(n uint, err error) {
			appLog.Info("store: retrying remote request", "op", op, "attempt", n+1, "err", err)
		}),
	)
}

func (r *Remote) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("store: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != nil {
		if tok := r.token.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
		}
		return nil
	}
	return decodeError(op, resp)
}

// decodeError maps an upstream error response onto the store error family.
func decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &model.ValidationError{Message: apiErr.Message}
	default:
		return &NetworkError{Op: op, Status: resp.StatusCode, Err: errors.New(apiErr.Message)}
	}
}
