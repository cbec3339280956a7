package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mailcrm/internal/db"
	"github.com/sells-group/mailcrm/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot sync-loop operations.
var preparedStatements = map[string]string{
	"get_connection":    `SELECT user_id, baseline_at, baseline_ready, last_poll_at, last_poll_err_count, updated_at FROM connections WHERE user_id = $1`,
	"message_exists":    `SELECT EXISTS(SELECT 1 FROM messages WHERE user_id = $1 AND provider_message_id = $2)`,
	"advance_watermark": `UPDATE connections SET last_poll_at = GREATEST(COALESCE(last_poll_at, 'epoch'::timestamptz), $1), last_poll_err_count = 0, updated_at = now() WHERE user_id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS connections (
	user_id             TEXT PRIMARY KEY,
	baseline_at         TIMESTAMPTZ,
	baseline_ready      BOOLEAN NOT NULL DEFAULT false,
	last_poll_at        TIMESTAMPTZ,
	last_poll_err_count INTEGER NOT NULL DEFAULT 0,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	payload             JSONB NOT NULL,
	status              TEXT NOT NULL DEFAULT 'new',
	detail              JSONB,
	received_at         TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, provider_message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_user_status ON messages(user_id, status);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, userID string) (*model.Connection, error) {
	var c model.Connection
	var baselineAt, lastPollAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, baseline_at, baseline_ready, last_poll_at, last_poll_err_count, updated_at FROM connections WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &baselineAt, &c.BaselineReady, &lastPollAt, &c.LastPollErrCount, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get connection %s", userID)
	}

	if baselineAt != nil {
		c.BaselineAt = *baselineAt
	}
	if lastPollAt != nil {
		c.LastPollAt = *lastPollAt
	}
	return &c, nil
}

func (s *PostgresStore) EstablishBaseline(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO connections (user_id, baseline_at, baseline_ready, last_poll_at, updated_at)
		 VALUES ($1, $2, true, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET baseline_at = $2, baseline_ready = true, last_poll_at = $2, updated_at = now()`,
		userID, at.UTC(),
	)
	return eris.Wrapf(err, "postgres: establish baseline %s", userID)
}

func (s *PostgresStore) MarkBaselineReady(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET baseline_ready = true, updated_at = now() WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark baseline ready %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("connection not found: %s", userID)
	}
	return nil
}

func (s *PostgresStore) AdvanceWatermark(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET last_poll_at = GREATEST(COALESCE(last_poll_at, 'epoch'::timestamptz), $1), last_poll_err_count = 0, updated_at = now() WHERE user_id = $2`,
		at.UTC(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance watermark %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("connection not found: %s", userID)
	}
	return nil
}

func (s *PostgresStore) IncrementPollErrors(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET last_poll_err_count = last_poll_err_count + 1, updated_at = now() WHERE user_id = $1`,
		userID,
	)
	return eris.Wrapf(err, "postgres: increment poll errors %s", userID)
}

func (s *PostgresStore) ResetConnection(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET baseline_at = NULL, baseline_ready = false, last_poll_at = NULL, last_poll_err_count = 0, updated_at = now() WHERE user_id = $1`,
		userID,
	)
	return eris.Wrapf(err, "postgres: reset connection %s", userID)
}

func (s *PostgresStore) MessageExists(ctx context.Context, userID, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE user_id = $1 AND provider_message_id = $2)`,
		userID, messageID,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: message exists %s", messageID)
}

// InsertMessages batch-inserts via a temp-table upsert; rows that collide on
// (user_id, provider_message_id) are silently skipped, so a re-run of the
// same window is idempotent.
func (s *PostgresStore) InsertMessages(ctx context.Context, userID string, msgs []model.NormalizedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(msgs))
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal message %s", m.ID)
		}
		rows = append(rows, []any{
			uuid.New().String(), userID, m.ID, payload, model.StatusNew, m.ReceivedAt.UTC(), now, now,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:         "messages",
		Columns:       []string{"id", "user_id", "provider_message_id", "payload", "status", "received_at", "created_at", "updated_at"},
		ConflictKeys:  []string{"user_id", "provider_message_id"},
		SkipConflicts: true,
	}, rows)
	return eris.Wrapf(err, "postgres: insert messages for %s", userID)
}

func (s *PostgresStore) GetMessage(ctx context.Context, userID, messageID string) (*model.NormalizedMessage, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM messages WHERE user_id = $1 AND provider_message_id = $2`,
		userID, messageID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get message %s", messageID)
	}

	var m model.NormalizedMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal message")
	}
	return &m, nil
}

func (s *PostgresStore) ListPendingMessages(ctx context.Context, userID string) ([]model.NormalizedMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM messages WHERE user_id = $1 AND status = $2 ORDER BY received_at`,
		userID, model.StatusNew,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list pending messages for %s", userID)
	}
	defer rows.Close()

	var out []model.NormalizedMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending message")
		}
		var m model.NormalizedMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pending message")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending messages")
}

func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, userID, messageID, status, detail string) error {
	var detailJSON any
	if detail != "" {
		detailJSON = detail
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $1, detail = $2, updated_at = now() WHERE user_id = $3 AND provider_message_id = $4`,
		status, detailJSON, userID, messageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update message status %s", messageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("message not found: %s", messageID)
	}
	return nil
}

func (s *PostgresStore) CountMessages(ctx context.Context, userID, status string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = $1 AND ($2 = '' OR status = $2)`,
		userID, status,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count messages for %s", userID)
}
