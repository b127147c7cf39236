package repository

import (
	"context"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// SyncRuleRepository persistencia de reglas de sincronización (configuración, fuera del camino caliente).
type SyncRuleRepository interface {
	List(ctx context.Context) ([]*entity.SyncRule, error)
	Upsert(ctx context.Context, rule *entity.SyncRule) error
}
