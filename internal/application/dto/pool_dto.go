package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// Acciones de POST /api/inventory/pool/movements.
const (
	MovementActionRecord = "record"
	MovementActionAdjust = "adjust"
)

// ReserveStockRequest body para POST /api/inventory/pool/reserve.
type ReserveStockRequest struct {
	ProductID         string          `json:"productId"`
	Quantity          decimal.Decimal `json:"quantity"`
	Reason            string          `json:"reason"`
	ExpirationMinutes int             `json:"expirationMinutes,omitempty"`
}

// MovementRequest body para POST /api/inventory/pool/movements.
// Con action=record, Type es obligatorio y Quantity es el delta con signo.
// Con action=adjust, Reason debe ser un motivo de ajuste (BREAKAGE, THEFT, ...).
type MovementRequest struct {
	Action        string          `json:"action"`
	ProductID     string          `json:"productId"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reason        string          `json:"reason"`
	Type          string          `json:"type,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	ReservationID string          `json:"reservationId,omitempty"`
}

// ValidateStockRequest body para POST /api/inventory/pool/validate.
type ValidateStockRequest struct {
	ProductID string          `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
	Operation string          `json:"operation"`
}

// MinimumStockRequest body para PUT /api/inventory/pool/minimum.
type MinimumStockRequest struct {
	ProductID string          `json:"productId"`
	Minimum   decimal.Decimal `json:"minimum"`
}

// ReservationResponse reserva expuesta por la API.
type ReservationResponse struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason"`
	HolderID   string          `json:"holderId,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	ReleasedAt *time.Time      `json:"releasedAt,omitempty"`
}

// MovementResponse movimiento del libro expuesto por la API.
type MovementResponse struct {
	ID            string          `json:"id"`
	Sequence      int64           `json:"sequence"`
	ProductID     string          `json:"productId"`
	Type          string          `json:"type"`
	QuantityDelta decimal.Decimal `json:"quantityDelta"`
	BeforeQty     decimal.Decimal `json:"beforeQty"`
	AfterQty      decimal.Decimal `json:"afterQty"`
	Reason        string          `json:"reason,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	ActorID       string          `json:"actorId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PoolSummaryResponse respuesta de GET /api/inventory/pool.
type PoolSummaryResponse struct {
	ProductID          string                `json:"productId"`
	TotalStock         decimal.Decimal       `json:"totalStock"`
	AvailableStock     decimal.Decimal       `json:"availableStock"`
	ReservedStock      decimal.Decimal       `json:"reservedStock"`
	MinimumStock       decimal.Decimal       `json:"minimumStock"`
	Version            int64                 `json:"version"`
	ActiveReservations []ReservationResponse `json:"activeReservations"`
	RecentMovements    []MovementResponse    `json:"recentMovements"`
}

// ReleaseResponse respuesta de DELETE /api/inventory/pool/reserve.
type ReleaseResponse struct {
	ReservationID string `json:"reservationId"`
	Released      bool   `json:"released"`
}

// CleanupResponse respuesta de POST /api/inventory/pool/cleanup.
type CleanupResponse struct {
	Expired int `json:"expired"`
}

// ToReservationResponse convierte la entidad.
func ToReservationResponse(r *entity.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:         r.ID,
		ProductID:  r.ProductID,
		Quantity:   r.Quantity,
		Reason:     r.Reason,
		HolderID:   r.HolderID,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		ReleasedAt: r.ReleasedAt,
	}
}

// ToMovementResponse convierte la entidad.
func ToMovementResponse(m *entity.StockMovement) MovementResponse {
	return MovementResponse{
		ID:            m.ID,
		Sequence:      m.Sequence,
		ProductID:     m.ProductID,
		Type:          string(m.Type),
		QuantityDelta: m.QuantityDelta,
		BeforeQty:     m.BeforeQty,
		AfterQty:      m.AfterQty,
		Reason:        m.Reason,
		Reference:     m.Reference,
		ActorID:       m.ActorID,
		Timestamp:     m.Timestamp,
	}
}

// ToMovementResponses convierte una lista; nunca devuelve nil para que el JSON sea [].
func ToMovementResponses(movs []*entity.StockMovement) []MovementResponse {
	out := make([]MovementResponse, 0, len(movs))
	for _, m := range movs {
		out = append(out, ToMovementResponse(m))
	}
	return out
}

// ToReservationResponses convierte una lista.
func ToReservationResponses(rs []*entity.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToReservationResponse(r))
	}
	return out
}
