package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.SyncRuleRepository = (*SyncRuleRepo)(nil)

// SyncRuleRepo reglas de sincronización persistidas.
type SyncRuleRepo struct {
	q Querier
}

func NewSyncRuleRepository(q Querier) *SyncRuleRepo {
	return &SyncRuleRepo{q: q}
}

func (r *SyncRuleRepo) List(ctx context.Context) ([]*entity.SyncRule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, source_module, trigger_name, target_modules, priority, enabled, updated_at
		FROM sync_rules ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sync rules: %w", err)
	}
	defer rows.Close()
	var list []*entity.SyncRule
	for rows.Next() {
		var rule entity.SyncRule
		if err := rows.Scan(&rule.ID, &rule.SourceModule, &rule.Trigger, &rule.TargetModules,
			&rule.Priority, &rule.Enabled, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sync rule: %w", err)
		}
		list = append(list, &rule)
	}
	return list, rows.Err()
}

func (r *SyncRuleRepo) Upsert(ctx context.Context, rule *entity.SyncRule) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sync_rules (id, source_module, trigger_name, target_modules, priority, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			source_module = EXCLUDED.source_module,
			trigger_name = EXCLUDED.trigger_name,
			target_modules = EXCLUDED.target_modules,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.SourceModule, rule.Trigger, rule.TargetModules, rule.Priority, rule.Enabled, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sync rule: %w", err)
	}
	return nil
}
