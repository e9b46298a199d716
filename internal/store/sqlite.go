package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"sharedcal/internal/calmath"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/model"
)

//go:embed migrations
var migrations embed.FS

// migrate applies the embedded migrations under dir to db.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string) error {
	sub, err := fs.Sub(migrations, "migrations/"+dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return fmt.Errorf("store: goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: migrate %s: %w", dir, err)
	}
	for _, r := range results {
		appLog.Info("store: migration applied", "dialect", string(dialect), "version", r.Source.Version, "took", r.Duration)
	}
	return nil
}

// SQLite is an EventStore on a single SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if err := migrate(ctx, db, goose.DialectSQLite3, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

const sqliteColumns = `id, schedule_date, start_time, end_time, title, contents, created_at, updated_at`

func (s *SQLite) ListRange(ctx context.Context, start, end calmath.Date) ([]model.Event, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteColumns+`
FROM schedules
WHERE schedule_date >= ? AND schedule_date <= ?
ORDER BY schedule_date, start_time, id
`, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("store: list range: %w", err)
	}
	return scanSQLiteRows(rows)
}

func (s *SQLite) Search(ctx context.Context, keyword string) ([]model.Event, error) {
	k, err := validateKeyword(keyword)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteColumns+`
FROM schedules
WHERE instr(search_text, ?) > 0
ORDER BY schedule_date, start_time, id
`, k)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanSQLiteRows(rows)
}

func (s *SQLite) List(ctx context.Context, size int, cursor int64) (Page, error) {
	n := pageSize(size)
	if cursor <= 0 {
		cursor = 1<<63 - 1
	}
	// One extra row tells whether another page exists.
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteColumns+`
FROM schedules
WHERE id < ?
ORDER BY id DESC
LIMIT ?
`, cursor, n+1)
	if err != nil {
		return Page{}, fmt.Errorf("store: list: %w", err)
	}
	events, err := scanSQLiteRows(rows)
	if err != nil {
		return Page{}, err
	}
	return pageOf(events, n), nil
}

func (s *SQLite) Get(ctx context.Context, id model.ID) (model.Event, error) {
	n, err := id.Int()
	if err != nil {
		return model.Event{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM schedules WHERE id = ?`, n)
	ev, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return ev, err
}

func (s *SQLite) Create(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO schedules (schedule_date, start_time, end_time, title, contents, search_text, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, d.Date.String(), d.StartTime.String(), d.EndTime.String(), d.Title, d.Contents, searchText(d.Title, d.Contents), now, now)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, fmt.Errorf("store: create: %w", err)
	}
	return s.Get(ctx, model.ID(strconv.FormatInt(id, 10)))
}

func (s *SQLite) Update(ctx context.Context, id model.ID, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	n, err := id.Int()
	if err != nil {
		return model.Event{}, ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE schedules
SET schedule_date = ?, start_time = ?, end_time = ?, title = ?, contents = ?, search_text = ?, updated_at = ?
WHERE id = ?
`, d.Date.String(), d.StartTime.String(), d.EndTime.String(), d.Title, d.Contents,
		searchText(d.Title, d.Contents), s.now().UTC().Format(time.RFC3339Nano), n)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return model.Event{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *SQLite) Delete(ctx context.Context, id model.ID) error {
	n, err := id.Int()
	if err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, n)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (model.Event, error) {
	var (
		id                   int64
		date, start, end     string
		title, contents      string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &date, &start, &end, &title, &contents, &createdAt, &updatedAt); err != nil {
		return model.Event{}, err
	}
	ev, err := buildEvent(id, date, start, end, title, contents)
	if err != nil {
		return model.Event{}, err
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	ev.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return ev, nil
}

func scanSQLiteRows(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		ev, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// buildEvent parses the stored text columns shared by the SQL stores.
func buildEvent(id int64, date, start, end, title, contents string) (model.Event, error) {
	d, err := calmath.ParseDate(date)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: row %d: %w", id, err)
	}
	st, err := calmath.ParseClock(start)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: row %d: %w", id, err)
	}
	et, err := calmath.ParseClock(end)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: row %d: %w", id, err)
	}
	return model.Event{
		ID:        model.ID(strconv.FormatInt(id, 10)),
		Date:      d,
		StartTime: st,
		EndTime:   et,
		Title:     title,
		Contents:  contents,
	}, nil
}

// pageOf trims the n+1 rows of a cursor query to a Page.
func pageOf(events []model.Event, n int) Page {
	page := Page{Events: events}
	if len(events) > n {
		page.Events = events[:n]
		page.HasNext = true
		page.NextCursor, _ = page.Events[n-1].ID.Int()
	}
	return page
}
