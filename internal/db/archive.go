// Package db provides the durable turn archive. Redis owns the live
// conversation state; Postgres keeps a write-once record of completed turns
// for audit and offline analysis. Archive writes are best-effort and never
// block a response.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/models"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Archive writes completed turns to Postgres.
type Archive struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewArchive opens a connection pool and verifies it.
func NewArchive(cfg Config, logger *zap.Logger) (*Archive, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Archive{db: db, logger: logger}, nil
}

// NewArchiveWithDB wraps an existing connection, used by tests.
func NewArchiveWithDB(db *sqlx.DB, logger *zap.Logger) *Archive {
	return &Archive{db: db, logger: logger}
}

// TurnRecord is one archived turn.
type TurnRecord struct {
	ThreadID    string               `db:"thread_id"`
	Seq         int64                `db:"seq"`
	Query       string               `db:"query"`
	Response    models.AgentResponse `db:"-"`
	CompletedAt time.Time            `db:"completed_at"`
}

// ArchiveTurn persists one completed turn. Idempotent by (thread_id, seq):
// replaying a turn after a retry is a no-op.
func (a *Archive) ArchiveTurn(ctx context.Context, rec TurnRecord) error {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	payload, err := json.Marshal(rec.Response)
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal response: %w", err)
	}

	const query = `
		INSERT INTO turns (thread_id, seq, query, response, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (thread_id, seq) DO NOTHING`

	if _, err := a.db.ExecContext(ctx, query, rec.ThreadID, rec.Seq, rec.Query, payload, rec.CompletedAt); err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("archive turn: %w", err)
	}
	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	return nil
}

// RecentTurns returns the latest archived turns for a thread, newest first.
func (a *Archive) RecentTurns(ctx context.Context, threadID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryxContext(ctx,
		`SELECT thread_id, seq, query, response, completed_at
		 FROM turns WHERE thread_id = $1
		 ORDER BY seq DESC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var payload []byte
		if err := rows.Scan(&rec.ThreadID, &rec.Seq, &rec.Query, &payload, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Response); err != nil {
			a.logger.Warn("Skipping malformed archived response",
				zap.String("thread_id", rec.ThreadID),
				zap.Int64("seq", rec.Seq),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *Archive) Close() error {
	return a.db.Close()
}
