package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var _ repository.StockRepository = (*StockRepo)(nil)

// StockRepo implementación de StockRepository sobre PostgreSQL (usable con pool o tx).
type StockRepo struct {
	q Querier
}

// NewStockRepository construye el adaptador de stock. Pasar pool o tx (Querier).
func NewStockRepository(q Querier) *StockRepo {
	return &StockRepo{q: q}
}

const stockColumns = `product_id, total_quantity, minimum_quantity, version, updated_at`

// Get obtiene el registro de stock del producto; en cero si aún no existe.
func (r *StockRepo) Get(ctx context.Context, productID string) (*entity.StockRecord, error) {
	return r.get(ctx, `SELECT `+stockColumns+` FROM stock_records WHERE product_id = $1`, productID)
}

// GetForUpdate obtiene el registro y bloquea la fila (SELECT FOR UPDATE).
func (r *StockRepo) GetForUpdate(ctx context.Context, productID string) (*entity.StockRecord, error) {
	return r.get(ctx, `SELECT `+stockColumns+` FROM stock_records WHERE product_id = $1 FOR UPDATE`, productID)
}

func (r *StockRepo) get(ctx context.Context, query, productID string) (*entity.StockRecord, error) {
	var s entity.StockRecord
	err := r.q.QueryRow(ctx, query, productID).Scan(
		&s.ProductID, &s.TotalQuantity, &s.MinimumQuantity, &s.Version, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &entity.StockRecord{ProductID: productID, TotalQuantity: decimal.Zero, MinimumQuantity: decimal.Zero}, nil
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return &s, nil
}

// Upsert inserta o actualiza el registro completo del producto.
func (r *StockRepo) Upsert(ctx context.Context, stock *entity.StockRecord) error {
	query := `
		INSERT INTO stock_records (product_id, total_quantity, minimum_quantity, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id)
		DO UPDATE SET total_quantity = EXCLUDED.total_quantity,
		              minimum_quantity = EXCLUDED.minimum_quantity,
		              version = EXCLUDED.version,
		              updated_at = EXCLUDED.updated_at`
	_, err := r.q.Exec(ctx, query,
		stock.ProductID, stock.TotalQuantity, stock.MinimumQuantity, stock.Version, stock.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return nil
}
