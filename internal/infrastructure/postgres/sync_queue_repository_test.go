package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles de pgx: registran las sentencias en orden
// ──────────────────────────────────────────────────────────────────────────────

type sqlLog struct {
	stmts     []string
	committed bool
}

type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool { return false }
func (emptyRows) Close()     {}
func (emptyRows) Err() error { return nil }

type recordingTx struct {
	pgx.Tx
	log *sqlLog
}

func (t *recordingTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.log.stmts = append(t.log.stmts, sql)
	return pgconn.CommandTag{}, nil
}

func (t *recordingTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	t.log.stmts = append(t.log.stmts, sql)
	return emptyRows{}, nil
}

func (t *recordingTx) Commit(context.Context) error {
	t.log.committed = true
	return nil
}

func (t *recordingTx) Rollback(context.Context) error { return nil }

type recordingPool struct {
	Querier
	log *sqlLog
}

func (p *recordingPool) Begin(context.Context) (pgx.Tx, error) {
	return &recordingTx{log: p.log}, nil
}

func TestSyncQueueRepo_ClaimReadySerializaEntreReplicas(t *testing.T) {
	log := &sqlLog{}
	repo := NewSyncQueueRepository(&recordingPool{log: log})

	list, err := repo.ClaimReady(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.Len(t, log.stmts, 2)
	assert.Contains(t, log.stmts[0], "pg_advisory_xact_lock")
	claim := log.stmts[1]
	assert.Contains(t, claim, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, claim, "p.status = 'PROCESSING'")
	assert.True(t, strings.Index(claim, "NOT EXISTS") < strings.Index(claim, "LIMIT"),
		"la exclusión de entidades ocupadas va antes del LIMIT")
	assert.True(t, log.committed)
}
