package entity

import (
	"encoding/json"
	"time"
)

// ResolutionStrategy estrategia de resolución de un conflicto.
type ResolutionStrategy string

const (
	ResolutionSourceWins ResolutionStrategy = "SOURCE_WINS"
	ResolutionTargetWins ResolutionStrategy = "TARGET_WINS"
	ResolutionMerge      ResolutionStrategy = "MERGE"
	ResolutionManual     ResolutionStrategy = "MANUAL"
)

// ParseResolutionStrategy valida la estrategia recibida por API.
func ParseResolutionStrategy(s string) (ResolutionStrategy, bool) {
	switch r := ResolutionStrategy(s); r {
	case ResolutionSourceWins, ResolutionTargetWins, ResolutionMerge, ResolutionManual:
		return r, true
	}
	return "", false
}

// ConflictStatus estado del conflicto.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
)

// Conflict desacuerdo entre la versión base de un evento y el estado actual de la entidad destino.
// SourceChange es el cambio que el evento quería aplicar; TargetChange el estado observado en destino.
type Conflict struct {
	ID                 string
	QueueItemID        string
	TargetModule       string
	EntityType         string
	EntityID           string
	SourceChange       json.RawMessage
	TargetChange       json.RawMessage
	ResolutionStrategy ResolutionStrategy
	Status             ConflictStatus
	DetectedAt         time.Time
	ResolvedAt         *time.Time
	ResolvedBy         string
}
