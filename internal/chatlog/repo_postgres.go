package chatlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"support-calls/pkg/utils"
)

// Schema is applied by cmd/api at startup via utils.Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages (
  id              TEXT PRIMARY KEY,
  name            TEXT NOT NULL DEFAULT '',
  email           TEXT NOT NULL,
  body            TEXT NOT NULL DEFAULT '',
  image_url       TEXT NOT NULL DEFAULT '',
  status          TEXT NOT NULL DEFAULT 'Unread',
  reply           TEXT NOT NULL DEFAULT '',
  reply_image_url TEXT NOT NULL DEFAULT '',
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,
  replied_at      TIMESTAMPTZ
)`,
	`ALTER TABLE chat_messages ADD COLUMN IF NOT EXISTS replied_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS chat_messages_email_created_idx ON chat_messages (email, created_at)`,
}

const messageColumns = `id, name, email, body, image_url, status, reply, reply_image_url, created_at, updated_at, replied_at`

// PostgresRepo stores messages in chat_messages.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var repliedAt sql.NullTime
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Email,
		&m.Body,
		&m.ImageURL,
		&m.Status,
		&m.Reply,
		&m.ReplyImageURL,
		&m.CreatedAt,
		&m.UpdatedAt,
		&repliedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if repliedAt.Valid {
		m.RepliedAt = repliedAt.Time
	}
	return m, err
}

func (r *PostgresRepo) Insert(ctx context.Context, m Message) error {
	const q = `
INSERT INTO chat_messages (` + messageColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := r.db.ExecContext(ctx, q,
		m.ID,
		m.Name,
		m.Email,
		m.Body,
		m.ImageURL,
		m.Status,
		m.Reply,
		m.ReplyImageURL,
		m.CreatedAt,
		m.UpdatedAt,
		nullTime(m.RepliedAt),
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Message, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1`
	return scanMessage(r.db.QueryRowContext(ctx, q, id))
}

// Update locks the row for the duration of fn.
func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*Message) error) (Message, error) {
	var out Message
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1 FOR UPDATE`
		m, err := scanMessage(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			return err
		}
		if err := fn(&m); err != nil {
			return err
		}

		const upd = `
UPDATE chat_messages
SET status = $2, reply = $3, reply_image_url = $4, updated_at = $5, replied_at = $6
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, m.ID, m.Status, m.Reply, m.ReplyImageURL, m.UpdatedAt, nullTime(m.RepliedAt)); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListByEmail(ctx context.Context, email string) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE email = $1 ORDER BY created_at ASC`
	return r.list(ctx, q, email)
}

func (r *PostgresRepo) ListAll(ctx context.Context) ([]Message, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages ORDER BY created_at DESC`
	return r.list(ctx, q)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
