package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

// invoicePayload factura o venta con total. BasisVersion solo aplica a invoice_updated.
type invoicePayload struct {
	ID           string          `json:"id"`
	Reference    string          `json:"reference"`
	CustomerID   string          `json:"customerId"`
	Total        decimal.Decimal `json:"total"`
	BasisVersion *int64          `json:"basisVersion,omitempty"`
}

type accountingState struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Version   int64           `json:"version"`
}

// AccountingAdapter registra ingresos por factura/venta, uno por referencia.
type AccountingAdapter struct {
	repo repository.AccountingRepository
	now  func() time.Time
}

// NewAccountingAdapter construye el adaptador de contabilidad.
func NewAccountingAdapter(repo repository.AccountingRepository) *AccountingAdapter {
	return &AccountingAdapter{repo: repo, now: time.Now}
}

func (a *AccountingAdapter) Module() string { return ModuleAccounting }

func (a *AccountingAdapter) Apply(ctx context.Context, item *entity.SyncQueueItem) error {
	p, err := parseInvoice(item.Payload)
	if err != nil {
		return err
	}
	switch item.Trigger {
	case TriggerSaleCreated, TriggerInvoiceCreated:
		// venta sin total: el asiento lo genera la factura
		if p.Total.IsZero() {
			return nil
		}
		return a.createIncome(ctx, p)
	case TriggerInvoiceUpdated:
		return a.updateAmount(ctx, IdempotencyKey(item.ID, ModuleAccounting, 0), item.Payload, p)
	}
	return domain.NewFatalSyncError(ModuleAccounting, "trigger no soportado: %s", item.Trigger)
}

func (a *AccountingAdapter) createIncome(ctx context.Context, p *invoicePayload) error {
	now := a.now()
	err := a.repo.Create(ctx, &entity.AccountingTransaction{
		ID:         uuid.New().String(),
		Reference:  p.reference(),
		Type:       entity.AccountingIncome,
		CustomerID: p.CustomerID,
		Amount:     p.Total,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err == nil || errors.Is(err, domain.ErrDuplicate) {
		return nil
	}
	return &domain.SyncAdapterError{Module: ModuleAccounting, Err: err}
}

// updateAmount la clave del ítem hace que una repetición (caída tras aplicar, fallo al guardar la cola)
// no choque con la versión que la primera aplicación ya incrementó.
func (a *AccountingAdapter) updateAmount(ctx context.Context, key string, source json.RawMessage, p *invoicePayload) error {
	_, err := a.repo.UpdateAmount(ctx, p.reference(), p.Total, p.BasisVersion, key)
	var mismatch *domain.VersionMismatchError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &mismatch):
		current, gerr := a.repo.GetByReference(ctx, p.reference())
		if gerr != nil || current == nil {
			return &domain.SyncAdapterError{Module: ModuleAccounting, Err: err}
		}
		target, _ := json.Marshal(accountingState{Reference: current.Reference, Amount: current.Amount, Version: current.Version})
		return &ConflictDetectedError{
			EntityType:   "accounting_transaction",
			EntityID:     p.reference(),
			SourceChange: source,
			TargetChange: target,
			Reason:       mismatch.Error(),
		}
	case errors.Is(err, domain.ErrNotFound):
		return domain.NewFatalSyncError(ModuleAccounting, "no existe asiento para %s", p.reference())
	}
	return &domain.SyncAdapterError{Module: ModuleAccounting, Err: err}
}

// Resolve un monto no tiene combinación por campos: MERGE no está soportado.
// MANUAL apply admite {"total": n}.
func (a *AccountingAdapter) Resolve(ctx context.Context, c *entity.Conflict, strategy entity.ResolutionStrategy, decision *Decision) error {
	if strategy == entity.ResolutionMerge {
		return domain.ErrMergeNotSupported
	}
	p, err := parseInvoice(c.SourceChange)
	if err != nil {
		return err
	}
	if strategy == entity.ResolutionManual && decision != nil && len(decision.Data) > 0 {
		var manual struct {
			Total *decimal.Decimal `json:"total"`
		}
		if err := json.Unmarshal(decision.Data, &manual); err != nil {
			return domain.NewValidationError("decision.data", "JSON inválido: %v", err)
		}
		if manual.Total != nil {
			p.Total = *manual.Total
		}
	}
	_, err = a.repo.UpdateAmount(ctx, p.reference(), p.Total, nil, resolutionKey(c))
	return err
}

func parseInvoice(raw json.RawMessage) (*invoicePayload, error) {
	var p invoicePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.NewFatalSyncError(ModuleAccounting, "payload inválido: %v", err)
	}
	if p.reference() == "" {
		return nil, domain.NewFatalSyncError(ModuleAccounting, "reference o id es obligatorio")
	}
	if p.Total.IsNegative() {
		return nil, domain.NewFatalSyncError(ModuleAccounting, "total no puede ser negativo")
	}
	return &p, nil
}

func (p *invoicePayload) reference() string {
	return firstNonEmpty(p.Reference, p.ID)
}
