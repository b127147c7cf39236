// Package events define el conjunto cerrado de notificaciones que emiten el libro de stock y el
// motor de sincronización. Los suscriptores (gateway de broadcast, notificaciones) solo consumen.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind nombre estable del evento en el transporte.
type Kind string

const (
	KindSyncCompleted              Kind = "sync_completed"
	KindSyncError                  Kind = "sync_error"
	KindQueueProcessingStarted     Kind = "queue_processing_started"
	KindQueueProcessingCompleted   Kind = "queue_processing_completed"
	KindConflictDetected           Kind = "conflict_detected"
	KindConflictResolved           Kind = "conflict_resolved"
	KindProductAvailabilityUpdated Kind = "product_availability_updated"
	KindStockThresholdAlert        Kind = "stock_threshold_alert"
)

// Event unión etiquetada: solo los tipos de este paquete la implementan.
type Event interface {
	Kind() Kind
	// Key agrupa eventos de la misma entidad (clave de partición en el transporte).
	Key() string
	OccurredAt() time.Time
	sealed()
}

// Meta campos comunes.
type Meta struct {
	At time.Time `json:"at"`
}

func (m Meta) OccurredAt() time.Time { return m.At }

// SyncCompleted todos los destinos de un ítem se aplicaron.
type SyncCompleted struct {
	Meta
	ItemID       string   `json:"itemId"`
	SourceModule string   `json:"sourceModule"`
	Trigger      string   `json:"trigger"`
	Targets      []string `json:"targets"`
	Attempts     int      `json:"attempts"`
}

func (SyncCompleted) Kind() Kind    { return KindSyncCompleted }
func (e SyncCompleted) Key() string { return e.ItemID }
func (SyncCompleted) sealed()       {}

// SyncError el ítem quedó DEAD (reintentos agotados o error fatal).
type SyncError struct {
	Meta
	ItemID       string `json:"itemId"`
	SourceModule string `json:"sourceModule"`
	Trigger      string `json:"trigger"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error"`
	Fatal        bool   `json:"fatal"`
}

func (SyncError) Kind() Kind    { return KindSyncError }
func (e SyncError) Key() string { return e.ItemID }
func (SyncError) sealed()       {}

// QueueProcessingStarted inicio de un ciclo de drenado con trabajo.
type QueueProcessingStarted struct {
	Meta
	Claimed int `json:"claimed"`
}

func (QueueProcessingStarted) Kind() Kind  { return KindQueueProcessingStarted }
func (QueueProcessingStarted) Key() string { return "queue" }
func (QueueProcessingStarted) sealed()     {}

// QueueProcessingCompleted fin de un ciclo de drenado.
type QueueProcessingCompleted struct {
	Meta
	Processed int           `json:"processed"`
	Completed int           `json:"completed"`
	Retried   int           `json:"retried"`
	Dead      int           `json:"dead"`
	Parked    int           `json:"parked"`
	Duration  time.Duration `json:"duration"`
}

func (QueueProcessingCompleted) Kind() Kind  { return KindQueueProcessingCompleted }
func (QueueProcessingCompleted) Key() string { return "queue" }
func (QueueProcessingCompleted) sealed()     {}

// ConflictDetected un adaptador observó una versión más nueva en destino y estacionó el ítem.
type ConflictDetected struct {
	Meta
	ConflictID   string `json:"conflictId"`
	ItemID       string `json:"itemId"`
	TargetModule string `json:"targetModule"`
	EntityType   string `json:"entityType"`
	EntityID     string `json:"entityId"`
}

func (ConflictDetected) Kind() Kind    { return KindConflictDetected }
func (e ConflictDetected) Key() string { return e.EntityType + ":" + e.EntityID }
func (ConflictDetected) sealed()       {}

// ConflictResolved un conflicto se cerró con la estrategia indicada.
type ConflictResolved struct {
	Meta
	ConflictID string `json:"conflictId"`
	ItemID     string `json:"itemId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Strategy   string `json:"strategy"`
	Applied    bool   `json:"applied"`
}

func (ConflictResolved) Kind() Kind    { return KindConflictResolved }
func (e ConflictResolved) Key() string { return e.EntityType + ":" + e.EntityID }
func (ConflictResolved) sealed()       {}

// ProductAvailabilityUpdated cambió el total o lo reservado de un producto.
type ProductAvailabilityUpdated struct {
	Meta
	ProductID string          `json:"productId"`
	Total     decimal.Decimal `json:"total"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	Cause     string          `json:"cause"`
}

func (ProductAvailabilityUpdated) Kind() Kind    { return KindProductAvailabilityUpdated }
func (e ProductAvailabilityUpdated) Key() string { return "product:" + e.ProductID }
func (ProductAvailabilityUpdated) sealed()       {}

// ThresholdLevel nivel de alerta de stock.
type ThresholdLevel string

const (
	ThresholdLow      ThresholdLevel = "LOW"
	ThresholdDepleted ThresholdLevel = "DEPLETED"
)

// StockThresholdAlert el disponible quedó en o bajo el mínimo, o en cero.
type StockThresholdAlert struct {
	Meta
	ProductID string          `json:"productId"`
	Level     ThresholdLevel  `json:"level"`
	Available decimal.Decimal `json:"available"`
	Minimum   decimal.Decimal `json:"minimum"`
}

func (StockThresholdAlert) Kind() Kind    { return KindStockThresholdAlert }
func (e StockThresholdAlert) Key() string { return "product:" + e.ProductID }
func (StockThresholdAlert) sealed()       {}
