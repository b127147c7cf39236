package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.SyncQueueRepository = (*SyncQueueRepo)(nil)

// SyncQueueRepo cola de sincronización persistente compartida por varias réplicas.
type SyncQueueRepo struct {
	q Querier
}

func NewSyncQueueRepository(q Querier) *SyncQueueRepo {
	return &SyncQueueRepo{q: q}
}

const queueColumns = `id, source_module, trigger_name, payload, entity_key, priority, status, attempts,
	applied_targets, conflict_id, last_error, next_attempt_at, created_at, updated_at, completed_at`

func (r *SyncQueueRepo) Create(ctx context.Context, item *entity.SyncQueueItem) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sync_queue (`+queueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		queueArgs(item)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("create sync item: %w", err)
	}
	return nil
}

func (r *SyncQueueRepo) GetByID(ctx context.Context, id string) (*entity.SyncQueueItem, error) {
	if !isUUID(id) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get sync item: %w", err)
	}
	list, err := scanQueue(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// ClaimReady ítems PENDING o FAILED con reintento vencido. Los estacionados por conflicto
// (FAILED sin next_attempt_at) no se reclaman, tampoco los de una entidad con otro ítem PROCESSING.
// Con varias réplicas el reclamo se serializa con un advisory lock de transacción: cada réplica
// ve los PROCESSING confirmados por las demás y una entidad nunca se procesa en dos a la vez.
func (r *SyncQueueRepo) ClaimReady(ctx context.Context, now time.Time, limit int) ([]*entity.SyncQueueItem, error) {
	b, ok := r.q.(txBeginner)
	if !ok {
		return claimReady(ctx, r.q, now, limit)
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('sync_queue_claim'))`); err != nil {
		return nil, fmt.Errorf("lock claim: %w", err)
	}
	list, err := claimReady(ctx, tx, now, limit)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return list, nil
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func claimReady(ctx context.Context, q Querier, now time.Time, limit int) ([]*entity.SyncQueueItem, error) {
	rows, err := q.Query(ctx, `
		UPDATE sync_queue SET status = 'PROCESSING', updated_at = $1
		WHERE id IN (
			SELECT c.id FROM sync_queue c
			WHERE (c.status = 'PENDING'
			   OR (c.status = 'FAILED' AND c.next_attempt_at IS NOT NULL AND c.next_attempt_at <= $1))
			  AND (c.entity_key = '' OR NOT EXISTS (
				SELECT 1 FROM sync_queue p
				WHERE p.entity_key = c.entity_key AND p.status = 'PROCESSING'))
			ORDER BY c.priority DESC, c.created_at, c.id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim sync items: %w", err)
	}
	list, err := scanQueue(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING no conserva el ORDER BY de la subconsulta.
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return list, nil
}

func (r *SyncQueueRepo) Update(ctx context.Context, item *entity.SyncQueueItem) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE sync_queue SET
			status = $2, attempts = $3, applied_targets = $4, conflict_id = $5, last_error = $6,
			next_attempt_at = $7, updated_at = $8, completed_at = $9, priority = $10
		WHERE id = $1`,
		item.ID, item.Status, item.Attempts, nonNilStrings(item.AppliedTargets), nullString(item.ConflictID),
		item.LastError, item.NextAttemptAt, item.UpdatedAt, item.CompletedAt, item.Priority,
	)
	if err != nil {
		return fmt.Errorf("update sync item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SyncQueueRepo) CountOutstanding(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT count(*) FROM sync_queue WHERE status IN ('PENDING', 'PROCESSING', 'FAILED')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return n, nil
}

func (r *SyncQueueRepo) ListByStatus(ctx context.Context, status entity.SyncStatus, limit int) ([]*entity.SyncQueueItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync items: %w", err)
	}
	return scanQueue(rows)
}

func (r *SyncQueueRepo) ResetStale(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE sync_queue SET status = 'PENDING', updated_at = now()
		WHERE status = 'PROCESSING' AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("reset stale sync items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func queueArgs(item *entity.SyncQueueItem) []any {
	return []any{
		item.ID, item.SourceModule, item.Trigger, []byte(item.Payload), item.EntityKey, item.Priority,
		item.Status, item.Attempts, nonNilStrings(item.AppliedTargets), nullString(item.ConflictID),
		item.LastError, item.NextAttemptAt, item.CreatedAt, item.UpdatedAt, item.CompletedAt,
	}
}

func scanQueue(rows pgx.Rows) ([]*entity.SyncQueueItem, error) {
	defer rows.Close()
	var list []*entity.SyncQueueItem
	for rows.Next() {
		var (
			item       entity.SyncQueueItem
			payload    []byte
			conflictID *string
		)
		if err := rows.Scan(&item.ID, &item.SourceModule, &item.Trigger, &payload, &item.EntityKey,
			&item.Priority, &item.Status, &item.Attempts, &item.AppliedTargets, &conflictID,
			&item.LastError, &item.NextAttemptAt, &item.CreatedAt, &item.UpdatedAt, &item.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		item.ConflictID = derefString(conflictID)
		list = append(list, &item)
	}
	return list, rows.Err()
}
