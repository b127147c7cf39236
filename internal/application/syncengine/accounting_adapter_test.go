package syncengine_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/infrastructure/memory"
)

func invoiceUpdated(t *testing.T, id string, payload map[string]any) *entity.SyncQueueItem {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &entity.SyncQueueItem{ID: id, SourceModule: "billing", Trigger: syncengine.TriggerInvoiceUpdated, Payload: raw}
}

// ──────────────────────────────────────────────────────────────────────────────
// invoice_updated
// ──────────────────────────────────────────────────────────────────────────────

// Repetir el mismo ítem (caída después de aplicar) no debe ver su propio incremento de versión como conflicto.
func TestAccountingAdapter_RepeticionDelMismoItemEsIdempotente(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().AccountingRepository()
	require.NoError(t, repo.Create(ctx, &entity.AccountingTransaction{Reference: "F-1", Type: entity.AccountingIncome, Amount: decimal.NewFromInt(100)}))
	adapter := syncengine.NewAccountingAdapter(repo)

	item := invoiceUpdated(t, "q-1", map[string]any{"reference": "F-1", "total": "150", "basisVersion": 1})
	require.NoError(t, adapter.Apply(ctx, item))
	require.NoError(t, adapter.Apply(ctx, item), "la repetición no es un conflicto")

	current, err := repo.GetByReference(ctx, "F-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version, "el monto se aplicó una sola vez")
	assert.True(t, current.Amount.Equal(decimal.NewFromInt(150)))
}

// Otro ítem con la misma versión base sí es un conflicto.
func TestAccountingAdapter_OtroItemConVersionViejaEsConflicto(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().AccountingRepository()
	require.NoError(t, repo.Create(ctx, &entity.AccountingTransaction{Reference: "F-2", Type: entity.AccountingIncome, Amount: decimal.NewFromInt(100)}))
	adapter := syncengine.NewAccountingAdapter(repo)

	require.NoError(t, adapter.Apply(ctx, invoiceUpdated(t, "q-1", map[string]any{"reference": "F-2", "total": "150", "basisVersion": 1})))
	err := adapter.Apply(ctx, invoiceUpdated(t, "q-2", map[string]any{"reference": "F-2", "total": "180", "basisVersion": 1}))

	var conflict *syncengine.ConflictDetectedError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, domain.ErrConflictDetected)
	assert.Equal(t, "F-2", conflict.EntityID)
}
