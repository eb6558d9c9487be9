package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/models"
)

func newMockArchive(t *testing.T) (*Archive, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	archive := NewArchiveWithDB(sqlx.NewDb(raw, "postgres"), zap.NewNop())
	t.Cleanup(func() { _ = archive.Close() })
	return archive, mock
}

func TestArchiveTurn(t *testing.T) {
	archive, mock := newMockArchive(t)

	mock.ExpectExec("INSERT INTO turns").
		WithArgs("thread-1", int64(3), "condos in Bangsar", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := archive.ArchiveTurn(context.Background(), TurnRecord{
		ThreadID: "thread-1",
		Seq:      3,
		Query:    "condos in Bangsar",
		Response: models.AgentResponse{Text: "Found three.", CitedProperties: []string{"prop-1"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveTurnIdempotentReplay(t *testing.T) {
	archive, mock := newMockArchive(t)

	// Conflict on (thread_id, seq) affects zero rows; still not an error.
	mock.ExpectExec("INSERT INTO turns").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := archive.ArchiveTurn(context.Background(), TurnRecord{ThreadID: "thread-1", Seq: 3, Query: "replay"})
	assert.NoError(t, err)
}

func TestRecentTurns(t *testing.T) {
	archive, mock := newMockArchive(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"thread_id", "seq", "query", "response", "completed_at"}).
		AddRow("thread-1", int64(2), "second question", []byte(`{"text":"second answer"}`), now).
		AddRow("thread-1", int64(1), "first question", []byte(`{"text":"first answer"}`), now)
	mock.ExpectQuery("SELECT thread_id, seq, query, response, completed_at").
		WithArgs("thread-1", 20).
		WillReturnRows(rows)

	turns, err := archive.RecentTurns(context.Background(), "thread-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, int64(2), turns[0].Seq)
	assert.Equal(t, "second answer", turns[0].Response.Text)
}
