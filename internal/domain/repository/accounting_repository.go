package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// AccountingRepository puerto del módulo de contabilidad usado por el adaptador de sincronización.
type AccountingRepository interface {
	// GetByReference devuelve (nil, nil) si no existe.
	GetByReference(ctx context.Context, reference string) (*entity.AccountingTransaction, error)
	// Create devuelve domain.ErrDuplicate si la referencia ya existe.
	Create(ctx context.Context, tx *entity.AccountingTransaction) error
	// UpdateAmount actualiza el monto e incrementa Version. Si expectedVersion no es nil y no coincide
	// devuelve *domain.VersionMismatchError sin modificar nada.
	// Con idempotencyKey no vacía la actualización se registra con esa clave: repetirla devuelve el asiento
	// actual sin cambios ni validar versión.
	UpdateAmount(ctx context.Context, reference string, amount decimal.Decimal, expectedVersion *int64, idempotencyKey string) (*entity.AccountingTransaction, error)
}
