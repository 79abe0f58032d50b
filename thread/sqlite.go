package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore keeps threads in a SQLite database. Active and history logs are two
// position-ordered message tables keyed by thread id.
type SQLiteStore struct {
	db   *sql.DB
	opts storeOptions
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and migrates its schema.
// Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, opts: newStoreOptions(opts)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	);

	-- Active log; position is dense from 0 and rewritten on edit.
	CREATE TABLE IF NOT EXISTS messages (
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (thread_id, position)
	);

	-- History log; append only.
	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_thread ON history(thread_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context) (string, error) {
	id := s.opts.newID()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO threads (id, created_at) VALUES (?, ?)`, id, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	s.opts.logger.Info("thread created", "thread_id", id)
	return id, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, msg Message) error {
	var repaired int
	err := s.withActive(ctx, id, func(tx *sql.Tx, active []Message) error {
		active, repaired = appendActive(active, msg)
		if repaired > 0 {
			if err := rewriteActive(ctx, tx, id, active); err != nil {
				return err
			}
		} else if err := insertActive(ctx, tx, id, len(active)-1, msg); err != nil {
			return err
		}
		return insertHistory(ctx, tx, id, msg)
	})
	if err != nil {
		return fmt.Errorf("append to thread %s: %w", id, err)
	}
	if repaired > 0 {
		s.opts.logger.Warn("repaired unanswered tool calls", "thread_id", id, "synthesized", repaired)
	}
	s.opts.logger.Info("message added", "thread_id", id, "role", msg.Role, "tool_calls", len(msg.ToolCalls))
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, id string, opts ListOptions) ([]Message, error) {
	active, err := loadMessages(ctx, s.db, `SELECT body FROM messages WHERE thread_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list thread %s: %w", id, err)
	}
	return Filter(active, opts), nil
}

func (s *SQLiteStore) ModifyAt(ctx context.Context, id string, index int, msg Message) error {
	err := s.withActive(ctx, id, func(tx *sql.Tx, active []Message) error {
		if index < 0 || index >= len(active) {
			return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(active))
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE messages SET body = ? WHERE thread_id = ? AND position = ?`, string(body), id, index)
		return err
	})
	if err != nil {
		return fmt.Errorf("edit thread %s: %w", id, err)
	}
	s.opts.logger.Info("message edited", "thread_id", id, "index", index)
	return nil
}

func (s *SQLiteStore) RemoveAt(ctx context.Context, id string, index int) error {
	err := s.withActive(ctx, id, func(tx *sql.Tx, active []Message) error {
		if index < 0 || index >= len(active) {
			return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(active))
		}
		return rewriteActive(ctx, tx, id, append(active[:index], active[index+1:]...))
	})
	if err != nil {
		return fmt.Errorf("edit thread %s: %w", id, err)
	}
	s.opts.logger.Info("message removed", "thread_id", id, "index", index)
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context, id string) error {
	err := s.withActive(ctx, id, func(tx *sql.Tx, _ []Message) error {
		return rewriteActive(ctx, tx, id, nil)
	})
	if err != nil {
		return fmt.Errorf("reset thread %s: %w", id, err)
	}
	s.opts.logger.Info("thread reset, history kept", "thread_id", id)
	return nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, id string, msg Message) error {
	err := s.withActive(ctx, id, func(tx *sql.Tx, _ []Message) error {
		return insertHistory(ctx, tx, id, msg)
	})
	if err != nil {
		return fmt.Errorf("append history of thread %s: %w", id, err)
	}
	s.opts.logger.Info("message added to history", "thread_id", id, "role", msg.Role)
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, id string) ([]Message, error) {
	if err := s.exists(ctx, s.db, id); err != nil {
		return nil, fmt.Errorf("history of thread %s: %w", id, err)
	}
	history, err := loadMessages(ctx, s.db, `SELECT body FROM history WHERE thread_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("history of thread %s: %w", id, err)
	}
	return history, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) exists(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrThreadNotFound
	}
	return err
}

// withActive runs fn in a transaction with the thread's current active log.
func (s *SQLiteStore) withActive(ctx context.Context, id string, fn func(*sql.Tx, []Message) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.exists(ctx, tx, id); err != nil {
		return err
	}
	active, err := loadMessages(ctx, tx, `SELECT body FROM messages WHERE thread_id = ? ORDER BY position`, id)
	if err != nil {
		return err
	}
	if err := fn(tx, active); err != nil {
		return err
	}
	return tx.Commit()
}

func loadMessages(ctx context.Context, q querier, query, id string) ([]Message, error) {
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs := []Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func insertActive(ctx context.Context, tx *sql.Tx, id string, position int, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO messages (thread_id, position, body) VALUES (?, ?, ?)`, id, position, string(body))
	return err
}

func rewriteActive(ctx context.Context, tx *sql.Tx, id string, msgs []Message) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return err
	}
	for i, m := range msgs {
		if err := insertActive(ctx, tx, id, i, m); err != nil {
			return err
		}
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, id string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO history (thread_id, body) VALUES (?, ?)`, id, string(body))
	return err
}
