package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus estado de una reserva.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

// Reservation retención temporal contra el stock disponible.
// Una reserva RELEASED o EXPIRED es inmutable.
type Reservation struct {
	ID         string
	ProductID  string
	Quantity   decimal.Decimal
	Reason     string
	HolderID   string
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ReleasedAt *time.Time
}

// IsActiveAt indica si la reserva retiene stock en el instante now (ACTIVE y sin vencer).
func (r *Reservation) IsActiveAt(now time.Time) bool {
	return r.Status == ReservationActive && now.Before(r.ExpiresAt)
}

// IsTerminal RELEASED o EXPIRED.
func (r *Reservation) IsTerminal() bool {
	return r.Status == ReservationReleased || r.Status == ReservationExpired
}
