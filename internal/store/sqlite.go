// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/ManuGH/taskstream/internal/log"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	session_id    TEXT NOT NULL REFERENCES sessions(session_id),
	message_id    INTEGER NOT NULL,
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	task_type     TEXT,
	outputs_json  TEXT,
	thinking      INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (session_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, message_id);
`

// SQLiteStore is the default durable SessionStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path. WAL mode and a
// busy timeout are forced through the DSN so every pooled connection gets
// them.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	logger := log.WithComponent("store")
	logger.Info().
		Str("event", "store.opened").
		Str("backend", "sqlite").
		Str(log.FieldPath, path).
		Msg("session store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateSession(ctx context.Context, draft Session) (*Session, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?)`,
		draft.ID, draft.Title, draft.CreatedAt.UnixMilli(), draft.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	for _, msg := range draft.Messages {
		if err := insertMessage(ctx, tx, draft.ID, msg); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out := draft
	return &out, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at_ms = ? WHERE session_id = ?`,
		time.Now().UTC().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := insertMessage(ctx, tx, sessionID, msg); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, msg Message) error {
	var outputs any
	if len(msg.Outputs) > 0 {
		buf, err := json.Marshal(msg.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		outputs = string(buf)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, message_id, role, content, task_type, outputs_json, thinking, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, msg.ID, msg.Role, msg.Content, nullable(msg.TaskType), outputs, msg.ThinkingEnabled, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	var createdMs, updatedMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, created_at_ms, updated_at_ms FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&out.ID, &out.Title, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	out.CreatedAt = time.UnixMilli(createdMs).UTC()
	out.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, task_type, outputs_json, thinking, created_at_ms
		 FROM messages WHERE session_id = ? ORDER BY message_id`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var taskType, outputsJSON sql.NullString
		var msgCreatedMs int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &taskType, &outputsJSON, &msg.ThinkingEnabled, &msgCreatedMs); err != nil {
			return nil, err
		}
		msg.TaskType = taskType.String
		msg.CreatedAt = time.UnixMilli(msgCreatedMs).UTC()
		if outputsJSON.Valid {
			if err := json.Unmarshal([]byte(outputsJSON.String), &msg.Outputs); err != nil {
				return nil, fmt.Errorf("unmarshal outputs: %w", err)
			}
		}
		out.Messages = append(out.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
