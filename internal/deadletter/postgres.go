package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/harbor_fanout/internal/delivery"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore archives dead letters into a table, one row per dropped task.
type PostgresStore struct {
	db    Execer
	table string
}

func NewPostgresStore(db Execer, table string) *PostgresStore {
	if table == "" {
		table = "dead_letters"
	}
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// EnsureSchema creates the archive table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id          BIGSERIAL PRIMARY KEY,
			target      TEXT        NOT NULL,
			priority    TEXT        NOT NULL,
			request_id  TEXT,
			attempt     INT         NOT NULL,
			http_status INT,
			last_error  TEXT,
			reason      TEXT        NOT NULL,
			envelope    JSONB       NOT NULL,
			dropped_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	env, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, dl.At)
	if err != nil {
		at = time.Now()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO `+s.table+`(target, priority, request_id, attempt, http_status, last_error, reason, envelope, dropped_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, 0), NULLIF($6, ''), $7, $8, $9)`,
		dl.Task.Target, dl.Task.Priority.String(), dl.Task.RequestID, dl.Attempt,
		dl.HTTPStatus, dl.LastError, dl.Reason, env, at.UTC())
	if err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}
