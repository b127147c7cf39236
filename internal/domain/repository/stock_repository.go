package repository

import (
	"context"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// StockRepository puerto para el registro de stock por producto.
// Dentro de una transacción del TxRunner, GetForUpdate devuelve el registro bajo el bloqueo del producto.
type StockRepository interface {
	// Get devuelve el registro; si no existe devuelve uno en cero (Version 0), nunca nil.
	Get(ctx context.Context, productID string) (*entity.StockRecord, error)
	GetForUpdate(ctx context.Context, productID string) (*entity.StockRecord, error)
	Upsert(ctx context.Context, stock *entity.StockRecord) error
}
