package dto

import (
	"encoding/json"
	"time"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// SyncRequest body para POST /api/sync.
type SyncRequest struct {
	SourceModule string          `json:"sourceModule"`
	Action       string          `json:"action"`
	Data         json.RawMessage `json:"data"`
	EntityType   string          `json:"entityType,omitempty"`
	EntityID     string          `json:"entityId,omitempty"`
}

// SyncAcceptedResponse respuesta 202 de POST /api/sync.
type SyncAcceptedResponse struct {
	Queued bool   `json:"queued"`
	ItemID string `json:"itemId"`
}

// ResolveConflictRequest body para POST /api/sync/conflicts.
type ResolveConflictRequest struct {
	ConflictID string       `json:"conflictId"`
	Resolution string       `json:"resolution"`
	Decision   *DecisionDTO `json:"decision,omitempty"`
}

// DecisionDTO decisión manual: action apply|reject y data opcional con el valor a aplicar.
type DecisionDTO struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SyncRuleResponse regla de sincronización.
type SyncRuleResponse struct {
	ID            string    `json:"id"`
	SourceModule  string    `json:"sourceModule"`
	Trigger       string    `json:"trigger"`
	TargetModules []string  `json:"targetModules"`
	Priority      int       `json:"priority"`
	Enabled       bool      `json:"enabled"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// ConflictResponse conflicto de sincronización.
type ConflictResponse struct {
	ID                 string          `json:"id"`
	QueueItemID        string          `json:"queueItemId"`
	TargetModule       string          `json:"targetModule"`
	EntityType         string          `json:"entityType"`
	EntityID           string          `json:"entityId"`
	SourceChange       json.RawMessage `json:"sourceChange"`
	TargetChange       json.RawMessage `json:"targetChange"`
	ResolutionStrategy string          `json:"resolutionStrategy,omitempty"`
	Status             string          `json:"status"`
	DetectedAt         time.Time       `json:"detectedAt"`
	ResolvedAt         *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy         string          `json:"resolvedBy,omitempty"`
}

// QueueItemResponse ítem de la cola de sincronización.
type QueueItemResponse struct {
	ID             string          `json:"id"`
	SourceModule   string          `json:"sourceModule"`
	Trigger        string          `json:"trigger"`
	Payload        json.RawMessage `json:"payload"`
	EntityKey      string          `json:"entityKey,omitempty"`
	Priority       int             `json:"priority"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	AppliedTargets []string        `json:"appliedTargets"`
	ConflictID     string          `json:"conflictId,omitempty"`
	LastError      string          `json:"lastError,omitempty"`
	NextAttemptAt  *time.Time      `json:"nextAttemptAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// ToSyncRuleResponses convierte las reglas.
func ToSyncRuleResponses(rules []*entity.SyncRule) []SyncRuleResponse {
	out := make([]SyncRuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, SyncRuleResponse{
			ID:            r.ID,
			SourceModule:  r.SourceModule,
			Trigger:       r.Trigger,
			TargetModules: r.TargetModules,
			Priority:      r.Priority,
			Enabled:       r.Enabled,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return out
}

// ToConflictResponse convierte la entidad.
func ToConflictResponse(c *entity.Conflict) ConflictResponse {
	return ConflictResponse{
		ID:                 c.ID,
		QueueItemID:        c.QueueItemID,
		TargetModule:       c.TargetModule,
		EntityType:         c.EntityType,
		EntityID:           c.EntityID,
		SourceChange:       rawOrNull(c.SourceChange),
		TargetChange:       rawOrNull(c.TargetChange),
		ResolutionStrategy: string(c.ResolutionStrategy),
		Status:             string(c.Status),
		DetectedAt:         c.DetectedAt,
		ResolvedAt:         c.ResolvedAt,
		ResolvedBy:         c.ResolvedBy,
	}
}

// ToConflictResponses convierte una lista.
func ToConflictResponses(cs []*entity.Conflict) []ConflictResponse {
	out := make([]ConflictResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, ToConflictResponse(c))
	}
	return out
}

// ToQueueItemResponse convierte la entidad.
func ToQueueItemResponse(i *entity.SyncQueueItem) QueueItemResponse {
	applied := i.AppliedTargets
	if applied == nil {
		applied = []string{}
	}
	return QueueItemResponse{
		ID:             i.ID,
		SourceModule:   i.SourceModule,
		Trigger:        i.Trigger,
		Payload:        rawOrNull(i.Payload),
		EntityKey:      i.EntityKey,
		Priority:       i.Priority,
		Status:         string(i.Status),
		Attempts:       i.Attempts,
		AppliedTargets: applied,
		ConflictID:     i.ConflictID,
		LastError:      i.LastError,
		NextAttemptAt:  i.NextAttemptAt,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
		CompletedAt:    i.CompletedAt,
	}
}

// ToQueueItemResponses convierte una lista.
func ToQueueItemResponses(items []*entity.SyncQueueItem) []QueueItemResponse {
	out := make([]QueueItemResponse, 0, len(items))
	for _, i := range items {
		out = append(out, ToQueueItemResponse(i))
	}
	return out
}

// rawOrNull evita que un json.RawMessage vacío rompa la serialización.
func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
