package entity

import (
	"encoding/json"
	"slices"
	"time"
)

// SyncStatus estado de un ítem de la cola de sincronización.
type SyncStatus string

const (
	SyncPending    SyncStatus = "PENDING"
	SyncProcessing SyncStatus = "PROCESSING"
	SyncCompleted  SyncStatus = "COMPLETED"
	SyncFailed     SyncStatus = "FAILED"
	SyncDead       SyncStatus = "DEAD"
)

// SyncQueueItem unidad de trabajo de sincronización con seguimiento de reintentos.
//
// Un ítem FAILED con NextAttemptAt vacío y ConflictID definido está estacionado: espera
// la resolución del conflicto y no se reintenta.
type SyncQueueItem struct {
	ID             string
	SourceModule   string
	Trigger        string
	Payload        json.RawMessage
	EntityKey      string
	Priority       int
	Status         SyncStatus
	Attempts       int
	AppliedTargets []string
	ConflictID     string
	LastError      string
	NextAttemptAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// IsTargetApplied indica si el módulo destino ya se aplicó para este ítem.
func (i *SyncQueueItem) IsTargetApplied(module string) bool {
	return slices.Contains(i.AppliedTargets, module)
}

// MarkTargetApplied registra el módulo destino como aplicado (idempotente).
func (i *SyncQueueItem) MarkTargetApplied(module string) {
	if !i.IsTargetApplied(module) {
		i.AppliedTargets = append(i.AppliedTargets, module)
	}
}

// IsParked ítem detenido por un conflicto abierto.
func (i *SyncQueueItem) IsParked() bool {
	return i.Status == SyncFailed && i.ConflictID != "" && i.NextAttemptAt == nil
}
