package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"sharedcal/internal/calmath"
	"sharedcal/internal/model"
)

// Postgres is an EventStore on a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects with dsn, pings the server and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: pgx connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pgx ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

const postgresColumns = `id, to_char(schedule_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI:SS'),
to_char(end_time, 'HH24:MI:SS'), title, contents, created_at, updated_at`

func (p *Postgres) ListRange(ctx context.Context, start, end calmath.Date) ([]model.Event, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+postgresColumns+`
FROM schedules
WHERE schedule_date >= $1::date AND schedule_date <= $2::date
ORDER BY schedule_date, start_time, id
`, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("store: list range: %w", err)
	}
	return scanPostgresRows(rows)
}

func (p *Postgres) Search(ctx context.Context, keyword string) ([]model.Event, error) {
	k, err := validateKeyword(keyword)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+postgresColumns+`
FROM schedules
WHERE strpos(search_text, $1) > 0
ORDER BY schedule_date, start_time, id
`, k)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return scanPostgresRows(rows)
}

func (p *Postgres) List(ctx context.Context, size int, cursor int64) (Page, error) {
	n := pageSize(size)
	if cursor <= 0 {
		cursor = 1<<63 - 1
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+postgresColumns+`
FROM schedules
WHERE id < $1
ORDER BY id DESC
LIMIT $2
`, cursor, n+1)
	if err != nil {
		return Page{}, fmt.Errorf("store: list: %w", err)
	}
	events, err := scanPostgresRows(rows)
	if err != nil {
		return Page{}, err
	}
	return pageOf(events, n), nil
}

func (p *Postgres) Get(ctx context.Context, id model.ID) (model.Event, error) {
	n, err := id.Int()
	if err != nil {
		return model.Event{}, ErrNotFound
	}
	row := p.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM schedules WHERE id = $1`, n)
	ev, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return ev, err
}

func (p *Postgres) Create(ctx context.Context, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	var id int64
	err := p.pool.QueryRow(ctx, `
INSERT INTO schedules (schedule_date, start_time, end_time, title, contents, search_text)
VALUES ($1::date, $2::time, $3::time, $4, $5, $6)
RETURNING id
`, d.Date.String(), d.StartTime.String(), d.EndTime.String(), d.Title, d.Contents, searchText(d.Title, d.Contents)).Scan(&id)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: create: %w", err)
	}
	return p.Get(ctx, model.ID(strconv.FormatInt(id, 10)))
}

func (p *Postgres) Update(ctx context.Context, id model.ID, d model.Draft) (model.Event, error) {
	if err := d.Validate(); err != nil {
		return model.Event{}, err
	}
	n, err := id.Int()
	if err != nil {
		return model.Event{}, ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE schedules
SET schedule_date = $1::date, start_time = $2::time, end_time = $3::time,
    title = $4, contents = $5, search_text = $6, updated_at = now()
WHERE id = $7
`, d.Date.String(), d.StartTime.String(), d.EndTime.String(), d.Title, d.Contents, searchText(d.Title, d.Contents), n)
	if err != nil {
		return model.Event{}, fmt.Errorf("store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Event{}, ErrNotFound
	}
	return p.Get(ctx, id)
}

func (p *Postgres) Delete(ctx context.Context, id model.ID) error {
	n, err := id.Int()
	if err != nil {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, n)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (model.Event, error) {
	var (
		id                   int64
		date, start, end     string
		title, contents      string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &date, &start, &end, &title, &contents, &createdAt, &updatedAt); err != nil {
		return model.Event{}, err
	}
	ev, err := buildEvent(id, date, start, end, title, contents)
	if err != nil {
		return model.Event{}, err
	}
	ev.CreatedAt = createdAt
	ev.UpdatedAt = updatedAt
	return ev, nil
}

func scanPostgresRows(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		ev, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
