package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mailcrm/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for single-binary
// and development deployments. Timestamps are stored as unix milliseconds so
// watermark comparisons keep the provider's millisecond precision.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS connections (
	user_id             TEXT PRIMARY KEY,
	baseline_at         INTEGER,
	baseline_ready      INTEGER NOT NULL DEFAULT 0,
	last_poll_at        INTEGER,
	last_poll_err_count INTEGER NOT NULL DEFAULT 0,
	updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	payload             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'new',
	detail              TEXT,
	received_at         INTEGER NOT NULL,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	UNIQUE (user_id, provider_message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_user_status ON messages(user_id, status);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func (s *SQLiteStore) GetConnection(ctx context.Context, userID string) (*model.Connection, error) {
	var c model.Connection
	var baselineAt, lastPollAt sql.NullInt64
	var baselineReady int
	var updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, baseline_at, baseline_ready, last_poll_at, last_poll_err_count, updated_at FROM connections WHERE user_id = ?`,
		userID,
	).Scan(&c.UserID, &baselineAt, &baselineReady, &lastPollAt, &c.LastPollErrCount, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get connection %s", userID)
	}

	c.BaselineReady = baselineReady != 0
	if baselineAt.Valid {
		c.BaselineAt = time.UnixMilli(baselineAt.Int64).UTC()
	}
	if lastPollAt.Valid {
		c.LastPollAt = time.UnixMilli(lastPollAt.Int64).UTC()
	}
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &c, nil
}

func (s *SQLiteStore) EstablishBaseline(ctx context.Context, userID string, at time.Time) error {
	millis := at.UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (user_id, baseline_at, baseline_ready, last_poll_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET baseline_at = excluded.baseline_at, baseline_ready = 1, last_poll_at = excluded.last_poll_at, updated_at = excluded.updated_at`,
		userID, millis, millis, nowMillis(),
	)
	return eris.Wrapf(err, "sqlite: establish baseline %s", userID)
}

func (s *SQLiteStore) MarkBaselineReady(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET baseline_ready = 1, updated_at = ? WHERE user_id = ?`,
		nowMillis(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark baseline ready %s", userID)
	}
	return requireRow(res, "connection", userID)
}

func (s *SQLiteStore) AdvanceWatermark(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET last_poll_at = MAX(COALESCE(last_poll_at, 0), ?), last_poll_err_count = 0, updated_at = ? WHERE user_id = ?`,
		at.UTC().UnixMilli(), nowMillis(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance watermark %s", userID)
	}
	return requireRow(res, "connection", userID)
}

func (s *SQLiteStore) IncrementPollErrors(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET last_poll_err_count = last_poll_err_count + 1, updated_at = ? WHERE user_id = ?`,
		nowMillis(), userID,
	)
	return eris.Wrapf(err, "sqlite: increment poll errors %s", userID)
}

func (s *SQLiteStore) ResetConnection(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET baseline_at = NULL, baseline_ready = 0, last_poll_at = NULL, last_poll_err_count = 0, updated_at = ? WHERE user_id = ?`,
		nowMillis(), userID,
	)
	return eris.Wrapf(err, "sqlite: reset connection %s", userID)
}

func (s *SQLiteStore) MessageExists(ctx context.Context, userID, messageID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE user_id = ? AND provider_message_id = ?)`,
		userID, messageID,
	).Scan(&exists)
	return exists != 0, eris.Wrapf(err, "sqlite: message exists %s", messageID)
}

func (s *SQLiteStore) InsertMessages(ctx context.Context, userID string, msgs []model.NormalizedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, user_id, provider_message_id, payload, status, received_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, provider_message_id) DO NOTHING`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := nowMillis()
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal message %s", m.ID)
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), userID, m.ID, string(payload), model.StatusNew,
			m.ReceivedAt.UTC().UnixMilli(), now, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert message %s", m.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit insert")
}

func (s *SQLiteStore) GetMessage(ctx context.Context, userID, messageID string) (*model.NormalizedMessage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM messages WHERE user_id = ? AND provider_message_id = ?`,
		userID, messageID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get message %s", messageID)
	}

	var m model.NormalizedMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal message")
	}
	return &m, nil
}

func (s *SQLiteStore) ListPendingMessages(ctx context.Context, userID string) ([]model.NormalizedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE user_id = ? AND status = ? ORDER BY received_at`,
		userID, model.StatusNew,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list pending messages for %s", userID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.NormalizedMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending message")
		}
		var m model.NormalizedMessage
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pending message")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending messages")
}

func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, userID, messageID, status, detail string) error {
	var detailVal any
	if detail != "" {
		detailVal = detail
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, detail = ?, updated_at = ? WHERE user_id = ? AND provider_message_id = ?`,
		status, detailVal, nowMillis(), userID, messageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update message status %s", messageID)
	}
	return requireRow(res, "message", messageID)
}

func (s *SQLiteStore) CountMessages(ctx context.Context, userID, status string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = ? AND (? = '' OR status = ?)`,
		userID, status, status,
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count messages for %s", userID)
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", what, id)
	}
	return nil
}
