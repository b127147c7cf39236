package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de transacción contable generados por sincronización.
const (
	AccountingIncome = "INCOME"
	AccountingRefund = "REFUND"
)

// AccountingTransaction asiento del módulo de contabilidad. Reference (factura, venta) es única.
type AccountingTransaction struct {
	ID         string
	Reference  string
	Type       string
	CustomerID string
	Amount     decimal.Decimal
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
