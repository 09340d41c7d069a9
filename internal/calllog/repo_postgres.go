package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var Schema = []string{
	`CREATE TABLE IF NOT EXISTS call_events (
  id         TEXT PRIMARY KEY,
  customer   TEXT NOT NULL,
  actor      TEXT NOT NULL,
  kind       TEXT NOT NULL,
  media_kind TEXT NOT NULL DEFAULT '',
  message    TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS call_events_customer_created_idx ON call_events (customer, created_at)`,
}

// PostgresRepo appends to call_events. Grant the service role INSERT and SELECT only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, customer, actor, kind, media_kind, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Customer,
		e.Actor,
		e.Kind,
		e.MediaKind,
		e.Message,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Customer != "" {
		args = append(args, f.Customer)
		where = append(where, fmt.Sprintf("customer = $%d", len(args)))
	}
	if !f.Range.From.IsZero() {
		args = append(args, f.Range.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.Range.To.IsZero() {
		args = append(args, f.Range.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	q := `SELECT id, customer, actor, kind, media_kind, message, created_at FROM call_events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Customer, &e.Actor, &e.Kind, &e.MediaKind, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
