package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockRecord stock autoritativo de un producto en el pool.
// TotalQuantity solo cambia vía movimientos; Version se incrementa con cada movimiento
// y sirve como marcador de última modificación para detectar conflictos de sincronización.
// Reservado y disponible no se almacenan: se derivan de las reservas activas en cada lectura.
type StockRecord struct {
	ProductID       string
	TotalQuantity   decimal.Decimal
	MinimumQuantity decimal.Decimal
	Version         int64
	UpdatedAt       time.Time
}

// StockLevels cantidades derivadas de un StockRecord y sus reservas activas.
type StockLevels struct {
	Total     decimal.Decimal
	Reserved  decimal.Decimal
	Available decimal.Decimal
}

// ComputeLevels deriva reservado y disponible. Solo cuentan reservas ACTIVE no vencidas a la fecha now.
// Disponible nunca se reporta negativo.
func ComputeLevels(total decimal.Decimal, reservations []*Reservation, now time.Time) StockLevels {
	reserved := decimal.Zero
	for _, r := range reservations {
		if r.IsActiveAt(now) {
			reserved = reserved.Add(r.Quantity)
		}
	}
	available := total.Sub(reserved)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return StockLevels{Total: total, Reserved: reserved, Available: available}
}
