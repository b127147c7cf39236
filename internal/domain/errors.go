package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errores de dominio (sin dependencias de infraestructura).
var (
	ErrNotFound              = errors.New("recurso no encontrado")
	ErrInvalidInput          = errors.New("entrada inválida")
	ErrDuplicate             = errors.New("recurso duplicado")
	ErrUnauthorized          = errors.New("no autorizado")
	ErrForbidden             = errors.New("acceso denegado")
	ErrConflict              = errors.New("conflicto con el estado actual")
	ErrInsufficientStock     = errors.New("stock insuficiente")
	ErrReservationNotFound   = errors.New("reserva no encontrada")
	ErrVersionMismatch       = errors.New("la versión del registro cambió")
	ErrConflictDetected      = errors.New("conflicto de sincronización detectado")
	ErrConflictResolved      = errors.New("el conflicto ya fue resuelto")
	ErrMergeNotSupported     = errors.New("estrategia MERGE no soportada para la entidad")
	ErrSyncAdapter           = errors.New("error transitorio del adaptador de sincronización")
	ErrFatalSync             = errors.New("el evento no puede aplicarse")
	ErrUnknownTargetModule   = errors.New("módulo destino desconocido")
	ErrQueueItemNotRetryable = errors.New("el ítem de la cola no admite reintento")
)

// ValidationError rechazo síncrono por datos inválidos (cantidad, motivo de ajuste, etc.). Nunca se reintenta.
// Cause (opcional) permite distinguir rechazos que podrían dejar de ocurrir, como un total que quedaría negativo.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is permite errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError atajo para construir un ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError indica que la operación dejaría disponibilidad negativa.
type InsufficientStockError struct {
	ProductID string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock insuficiente para %s: solo hay %s unidades disponibles (solicitado %s)",
		e.ProductID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// VersionMismatchError la entidad destino fue modificada después de la versión base del evento.
type VersionMismatchError struct {
	EntityType string
	EntityID   string
	Expected   int64
	Actual     int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s %s: versión esperada %d, actual %d", e.EntityType, e.EntityID, e.Expected, e.Actual)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }

// SyncAdapterError error transitorio (red, almacenamiento no disponible); el motor reintenta con backoff.
type SyncAdapterError struct {
	Module string
	Err    error
}

func (e *SyncAdapterError) Error() string {
	return fmt.Sprintf("adaptador %s: %v", e.Module, e.Err)
}

func (e *SyncAdapterError) Unwrap() error { return e.Err }

func (e *SyncAdapterError) Is(target error) bool { return target == ErrSyncAdapter }

// FatalSyncError el payload nunca podrá aplicarse (entidad referenciada eliminada, payload corrupto).
// El ítem pasa directo a DEAD, sin reintentos.
type FatalSyncError struct {
	Module string
	Reason string
}

func (e *FatalSyncError) Error() string {
	return fmt.Sprintf("adaptador %s: %s", e.Module, e.Reason)
}

func (e *FatalSyncError) Is(target error) bool { return target == ErrFatalSync }

// NewFatalSyncError atajo para construir un FatalSyncError.
func NewFatalSyncError(module, format string, args ...any) *FatalSyncError {
	return &FatalSyncError{Module: module, Reason: fmt.Sprintf(format, args...)}
}
