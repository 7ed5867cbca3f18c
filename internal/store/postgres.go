package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/johndosdos/roomchat/internal/model"
)

// Migrations holds the goose migrations for the chat_messages table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations that goose reads from.
const MigrationsDir = "migrations"

const createMessage = `
INSERT INTO chat_messages (room_id, username, text)
VALUES ($1, $2, $3)
RETURNING id, room_id, username, text, created_at`

const listMessagesByRoom = `
SELECT id, room_id, username, text, created_at
FROM chat_messages
WHERE room_id = $1
ORDER BY created_at, id`

// DBTX is the subset of pgx used by Postgres. Both *pgxpool.Pool and pgx.Tx
// satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores messages in the chat_messages table.
type Postgres struct {
	db DBTX
}

// NewPostgres returns a Postgres store using db.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// Append inserts a message. The database assigns id and created_at.
func (p *Postgres) Append(ctx context.Context, roomID, username, text string) (model.ChatMessage, error) {
	if err := validate(roomID, username); err != nil {
		return model.ChatMessage{}, err
	}

	var msg model.ChatMessage
	err := p.db.QueryRow(ctx, createMessage, roomID, username, text).Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.Username,
		&msg.Text,
		&msg.CreatedAt,
	)
	if err != nil {
		return model.ChatMessage{}, model.StorageError("append message", err)
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

// History lists a room's messages oldest first.
func (p *Postgres) History(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	rows, err := p.db.Query(ctx, listMessagesByRoom, roomID)
	if err != nil {
		return nil, model.StorageError("list messages", err)
	}

	msgs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.ChatMessage])
	if err != nil {
		return nil, model.StorageError("list messages", err)
	}

	for i := range msgs {
		msgs[i].CreatedAt = msgs[i].CreatedAt.UTC()
	}
	return msgs, nil
}

// Migrate applies all pending migrations to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, MigrationsDir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}
