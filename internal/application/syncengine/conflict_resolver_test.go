package syncengine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

type stockCount struct {
	ProductID       string `json:"productId"`
	CountedQuantity int64  `json:"countedQuantity"`
	BasisVersion    int64  `json:"basisVersion"`
	BasisQuantity   int64  `json:"basisQuantity"`
}

// parkedCount deja un conteo físico estacionado: se contó 8 sobre la versión 1 (total 10),
// pero después entró una compra de 5 (versión 2, total 15).
func parkedCount(t *testing.T, h *harness) (*entity.SyncQueueItem, *entity.Conflict) {
	t.Helper()
	h.purchase(t, "p1", 10)
	h.purchase(t, "p1", 5)
	item := h.enqueue(t, "inventory", syncengine.TriggerStockCounted, stockCount{ProductID: "p1", CountedQuantity: 8, BasisVersion: 1, BasisQuantity: 10})

	stats := h.runOnce(t)
	require.Equal(t, 1, stats.Parked)

	parked := h.item(t, item.ID)
	require.True(t, parked.IsParked())
	assert.Equal(t, 0, parked.Attempts)
	assert.Contains(t, parked.LastError, "conflicto")

	conflicts, err := h.resolver.ListConflicts(context.Background(), "stock", "p1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, entity.ConflictOpen, conflicts[0].Status)
	assert.Equal(t, item.ID, conflicts[0].QueueItemID)

	var target map[string]any
	require.NoError(t, json.Unmarshal(conflicts[0].TargetChange, &target))
	assert.EqualValues(t, 2, target["version"])
	return parked, conflicts[0]
}

func TestConflicto_ItemEstacionadoNoSeReintenta(t *testing.T) {
	h := newHarness(t)
	parked, _ := parkedCount(t, h)

	h.clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, h.runOnce(t).Claimed)
	assert.True(t, h.item(t, parked.ID).IsParked())
	assert.Len(t, h.rec.OfKind(events.KindConflictDetected), 1)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(15)))
}

// MERGE conserva la compra posterior: 15 + (8 - 10) = 13.
func TestConflicto_MergeReencolaYCompleta(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	parked, c := parkedCount(t, h)

	resolved, err := h.resolver.ResolveConflict(ctx, c.ID, entity.ResolutionMerge, nil, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ConflictResolved, resolved.Status)
	assert.Equal(t, "admin-1", resolved.ResolvedBy)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(13)))

	assert.Equal(t, entity.SyncPending, h.item(t, parked.ID).Status)
	h.runOnce(t)
	assert.Equal(t, entity.SyncCompleted, h.item(t, parked.ID).Status)
	assert.Len(t, h.rec.OfKind(events.KindSyncCompleted), 1)

	evs := h.rec.OfKind(events.KindConflictResolved)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].(events.ConflictResolved).Applied)

	_, err = h.resolver.ResolveConflict(ctx, c.ID, entity.ResolutionSourceWins, nil, "admin-1")
	assert.ErrorIs(t, err, domain.ErrConflictResolved)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(13)))
}

func TestConflicto_SourceWinsFijaElConteo(t *testing.T) {
	h := newHarness(t)
	parked, c := parkedCount(t, h)

	_, err := h.resolver.ResolveConflict(context.Background(), c.ID, entity.ResolutionSourceWins, nil, "admin-1")
	require.NoError(t, err)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(8)))

	h.runOnce(t)
	assert.Equal(t, entity.SyncCompleted, h.item(t, parked.ID).Status)
}

func TestConflicto_TargetWinsDescartaYCompleta(t *testing.T) {
	h := newHarness(t)
	parked, c := parkedCount(t, h)

	_, err := h.resolver.ResolveConflict(context.Background(), c.ID, entity.ResolutionTargetWins, nil, "admin-1")
	require.NoError(t, err)

	done := h.item(t, parked.ID)
	assert.Equal(t, entity.SyncCompleted, done.Status)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(15)))
	assert.Empty(t, h.rec.OfKind(events.KindSyncCompleted))
	assert.False(t, h.rec.OfKind(events.KindConflictResolved)[0].(events.ConflictResolved).Applied)
}

func TestConflicto_ManualConDecision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, c := parkedCount(t, h)

	_, err := h.resolver.ResolveConflict(ctx, c.ID, entity.ResolutionManual, nil, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.resolver.ResolveConflict(ctx, c.ID, entity.ResolutionManual, &syncengine.Decision{Action: "maybe"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.resolver.ResolveConflict(ctx, c.ID, entity.ResolutionManual, &syncengine.Decision{
		Action: syncengine.DecisionApply,
		Data:   json.RawMessage(`{"countedQuantity": 12}`),
	}, "admin-1")
	require.NoError(t, err)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(12)))
}

func TestConflicto_ManualRechazo(t *testing.T) {
	h := newHarness(t)
	parked, c := parkedCount(t, h)

	_, err := h.resolver.ResolveConflict(context.Background(), c.ID, entity.ResolutionManual, &syncengine.Decision{Action: syncengine.DecisionReject}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, entity.SyncCompleted, h.item(t, parked.ID).Status)
	assert.True(t, h.total(t, "p1").Equal(decimal.NewFromInt(15)))
}

func TestConflicto_ContabilidadMergeNoSoportado(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	acc := h.store.AccountingRepository()
	require.NoError(t, acc.Create(ctx, &entity.AccountingTransaction{Reference: "FV-9", Type: entity.AccountingIncome, Amount: decimal.NewFromInt(100)}))
	v1 := int64(1)
	_, err := acc.UpdateAmount(ctx, "FV-9", decimal.NewFromInt(110), &v1, "")
	require.NoError(t, err)

	item := h.enqueue(t, "billing", syncengine.TriggerInvoiceUpdated, map[string]any{"reference": "FV-9", "total": "120", "basisVersion": 1})
	h.runOnce(t)
	require.True(t, h.item(t, item.ID).IsParked())

	conflicts, err := h.resolver.ListConflicts(ctx, "accounting_transaction", "FV-9")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	_, err = h.resolver.ResolveConflict(ctx, conflicts[0].ID, entity.ResolutionMerge, nil, "admin-1")
	assert.ErrorIs(t, err, domain.ErrMergeNotSupported)

	_, err = h.resolver.ResolveConflict(ctx, conflicts[0].ID, entity.ResolutionSourceWins, nil, "admin-1")
	require.NoError(t, err)
	tx, err := acc.GetByReference(ctx, "FV-9")
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(120)))
}

func TestConflicto_Inexistente(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.ResolveConflict(context.Background(), "no-existe", entity.ResolutionTargetWins, nil, "admin-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.resolver.ResolveConflict(context.Background(), "no-existe", "RANDOM", nil, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
