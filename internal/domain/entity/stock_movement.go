package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType tipo de movimiento del libro de stock.
type MovementType string

const (
	MovementPurchase   MovementType = "PURCHASE"
	MovementSale       MovementType = "SALE"
	MovementTransfer   MovementType = "TRANSFER"
	MovementReturn     MovementType = "RETURN"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// ParseMovementType valida un tipo de movimiento recibido por API o evento.
func ParseMovementType(s string) (MovementType, bool) {
	switch t := MovementType(s); t {
	case MovementPurchase, MovementSale, MovementTransfer, MovementReturn, MovementAdjustment:
		return t, true
	}
	return "", false
}

// StockMovement asiento inmutable del libro: AfterQty = BeforeQty + QuantityDelta.
// Sequence es monotónico por almacenamiento y desempata movimientos con el mismo Timestamp.
// IdempotencyKey (opcional) es único: un reintento con la misma clave no genera un segundo asiento.
type StockMovement struct {
	ID             string
	Sequence       int64
	ProductID      string
	Type           MovementType
	QuantityDelta  decimal.Decimal
	BeforeQty      decimal.Decimal
	AfterQty       decimal.Decimal
	Reason         string
	Reference      string
	IdempotencyKey string
	ActorID        string
	Timestamp      time.Time
}
