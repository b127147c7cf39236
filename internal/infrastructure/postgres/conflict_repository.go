package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.ConflictRepository = (*ConflictRepo)(nil)

// ConflictRepo conflictos de sincronización sobre PostgreSQL.
type ConflictRepo struct {
	q Querier
}

func NewConflictRepository(q Querier) *ConflictRepo {
	return &ConflictRepo{q: q}
}

const conflictColumns = `id, queue_item_id, target_module, entity_type, entity_id, source_change, target_change,
	resolution_strategy, status, detected_at, resolved_at, resolved_by`

func (r *ConflictRepo) Create(ctx context.Context, c *entity.Conflict) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sync_conflicts (`+conflictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.QueueItemID, c.TargetModule, c.EntityType, c.EntityID,
		jsonOrEmpty(c.SourceChange), jsonOrEmpty(c.TargetChange),
		c.ResolutionStrategy, c.Status, c.DetectedAt, c.ResolvedAt, c.ResolvedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("create conflict: %w", err)
	}
	return nil
}

func (r *ConflictRepo) GetByID(ctx context.Context, id string) (*entity.Conflict, error) {
	if !isUUID(id) {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	list, err := scanConflicts(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// ListByEntity entityType vacío no filtra por tipo.
func (r *ConflictRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.Conflict, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE entity_id = $1 AND ($2 = '' OR entity_type = $2)
		ORDER BY detected_at`, entityID, entityType)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return scanConflicts(rows)
}

func (r *ConflictRepo) Update(ctx context.Context, c *entity.Conflict) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE sync_conflicts SET resolution_strategy = $2, status = $3, resolved_at = $4, resolved_by = $5
		WHERE id = $1`,
		c.ID, c.ResolutionStrategy, c.Status, c.ResolvedAt, c.ResolvedBy,
	)
	if err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanConflicts(rows pgx.Rows) ([]*entity.Conflict, error) {
	defer rows.Close()
	var list []*entity.Conflict
	for rows.Next() {
		var (
			c              entity.Conflict
			source, target []byte
		)
		if err := rows.Scan(&c.ID, &c.QueueItemID, &c.TargetModule, &c.EntityType, &c.EntityID, &source, &target,
			&c.ResolutionStrategy, &c.Status, &c.DetectedAt, &c.ResolvedAt, &c.ResolvedBy); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.SourceChange = json.RawMessage(source)
		c.TargetChange = json.RawMessage(target)
		list = append(list, &c)
	}
	return list, rows.Err()
}
