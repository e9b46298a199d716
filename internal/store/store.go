// Package store holds the schedule collection behind the calendar: an
// in-memory store, SQLite and PostgreSQL backed stores, and a client for the
// upstream schedule REST API.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
)

var (
	ErrNotFound     = errors.New("store: schedule not found")
	ErrUnauthorized = errors.New("store: unauthorized")
	ErrClosed       = errors.New("store: closed")
)

// DefaultPageSize is used by List when size is not positive.
const DefaultPageSize = 10

//go:generate mockgen -destination=storemock/mock_store.go -package=storemock sharedcal/internal/store EventStore

// EventStore is the event collection the host reads and edits.
type EventStore interface {
	// ListRange returns events whose date falls in [start, end], ordered by
	// date, start time and id.
	ListRange(ctx context.Context, start, end calmath.Date) ([]model.Event, error)
	// Search matches keyword against title and contents, case and accent
	// insensitive.
	Search(ctx context.Context, keyword string) ([]model.Event, error)
	// List pages through all events newest first. cursor is the NextCursor of
	// the previous page, zero for the first page.
	List(ctx context.Context, size int, cursor int64) (Page, error)
	Get(ctx context.Context, id model.ID) (model.Event, error)
	Create(ctx context.Context, d model.Draft) (model.Event, error)
	Update(ctx context.Context, id model.ID, d model.Draft) (model.Event, error)
	Delete(ctx context.Context, id model.ID) error
	Close() error
}

// Page is one slice of a cursor listing.
type Page struct {
	Events     []model.Event `json:"schedules"`
	NextCursor int64         `json:"nextCursor"`
	HasNext    bool          `json:"hasNext"`
}

// NetworkError wraps a transport or server failure. Status is zero when no
// response was received.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("store: %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the operation may succeed.
func (e *NetworkError) Temporary() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRemote   = "remote"
)

// Options selects and configures a store.
type Options struct {
	Driver string
	// Path is the SQLite database file.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
	// URL is the base URL of the upstream schedule API.
	URL     string
	Timeout time.Duration
	Retries uint
	// Token supplies the bearer token for the remote store.
	Token TokenSource
}

// Open builds the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (EventStore, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, opts.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN)
	case DriverRemote:
		return NewRemote(opts.URL, RemoteOptions{
			Timeout: opts.Timeout,
			Retries: opts.Retries,
			Token:   opts.Token,
		})
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}

func validateRange(start, end calmath.Date) error {
	if start.IsZero() || end.IsZero() {
		return &model.ValidationError{Field: "startDate", Message: "start and end dates are required"}
	}
	if end.Before(start) {
		return &model.ValidationError{Field: "endDate", Message: "end date must not be before start date"}
	}
	return nil
}

func pageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	return size
}
