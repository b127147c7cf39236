package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-sync/internal/application/events"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

const (
	// DefaultExpirationMinutes vigencia de una reserva si el llamador no indica otra.
	DefaultExpirationMinutes = 30
	// MaxExpirationMinutes tope de vigencia (7 días).
	MaxExpirationMinutes = 7 * 24 * 60

	recentMovementsLimit = 10
	expiredBatchSize     = 500
)

// Operation operación a prevalidar con ValidateStockOperation.
type Operation string

const (
	OperationReserve Operation = "reserve"
	OperationReduce  Operation = "reduce"
)

// StockLedger contabilidad de stock por producto: total, reservas activas e historial de movimientos.
// Toda mutación corre dentro de TxRunner.Run, serializada por producto, de modo que la secuencia
// "leer disponible → confirmar" no puede intercalarse con otra confirmación del mismo producto.
type StockLedger struct {
	txRunner        TxRunner
	stockRepo       repository.StockRepository
	reservationRepo repository.ReservationRepository
	movementRepo    repository.StockMovementRepository
	publisher       events.Publisher
	metrics         Metrics
	log             zerolog.Logger
	now             func() time.Time
}

// LedgerOption configura opciones del libro.
type LedgerOption func(*StockLedger)

// WithClock reemplaza el reloj (pruebas).
func WithClock(now func() time.Time) LedgerOption {
	return func(l *StockLedger) { l.now = now }
}

// WithLogger inyecta el logger.
func WithLogger(log zerolog.Logger) LedgerOption {
	return func(l *StockLedger) { l.log = log }
}

// WithMetrics inyecta la instrumentación.
func WithMetrics(m Metrics) LedgerOption {
	return func(l *StockLedger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewStockLedger construye el libro de stock.
func NewStockLedger(
	txRunner TxRunner,
	stockRepo repository.StockRepository,
	reservationRepo repository.ReservationRepository,
	movementRepo repository.StockMovementRepository,
	publisher events.Publisher,
	opts ...LedgerOption,
) *StockLedger {
	l := &StockLedger{
		txRunner:        txRunner,
		stockRepo:       stockRepo,
		reservationRepo: reservationRepo,
		movementRepo:    movementRepo,
		publisher:       publisher,
		metrics:         noopMetrics{},
		log:             zerolog.Nop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.publisher == nil {
		l.publisher = events.Multi(nil)
	}
	return l
}

// ReserveInput entrada de ReserveStock.
type ReserveInput struct {
	ProductID         string
	Quantity          decimal.Decimal
	Reason            string
	HolderID          string
	ExpirationMinutes int
}

// MovementInput entrada de RecordMovement. Quantity es el delta con signo.
// ReservationID (opcional) libera por cumplimiento esa reserva en la misma transacción.
// IdempotencyKey (opcional) hace que un segundo intento devuelva el movimiento ya registrado.
// ExpectedVersion (opcional) exige que el stock no haya cambiado desde esa versión.
type MovementInput struct {
	ProductID       string
	Type            entity.MovementType
	Quantity        decimal.Decimal
	Reason          string
	Reference       string
	ActorID         string
	ReservationID   string
	IdempotencyKey  string
	ExpectedVersion *int64
}

// AdjustmentInput entrada de UpdateStock.
type AdjustmentInput struct {
	ProductID string
	Quantity  decimal.Decimal
	Reason    string
	Reference string
	ActorID   string
}

// ReconcileInput conteo físico absoluto; el delta se calcula bajo el bloqueo del producto.
type ReconcileInput struct {
	ProductID       string
	CountedQuantity decimal.Decimal
	Reference       string
	ActorID         string
	IdempotencyKey  string
	ExpectedVersion *int64
}

// ValidationResult respuesta de ValidateStockOperation.
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	AvailableStock decimal.Decimal `json:"availableStock"`
	Message        string          `json:"message"`
}

// StockSummary resumen de stock de un producto.
type StockSummary struct {
	ProductID          string                  `json:"productId"`
	TotalStock         decimal.Decimal         `json:"totalStock"`
	AvailableStock     decimal.Decimal         `json:"availableStock"`
	ReservedStock      decimal.Decimal         `json:"reservedStock"`
	MinimumStock       decimal.Decimal         `json:"minimumStock"`
	Version            int64                   `json:"version"`
	ActiveReservations []*entity.Reservation   `json:"activeReservations"`
	RecentMovements    []*entity.StockMovement `json:"recentMovements"`
}

// GetAvailableStock total menos reservas activas no vencidas. Nunca negativo.
func (l *StockLedger) GetAvailableStock(ctx context.Context, productID string) (decimal.Decimal, error) {
	levels, _, _, err := l.readLevels(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return levels.Available, nil
}

// GetStockRecord registro de stock actual (Version incluida).
func (l *StockLedger) GetStockRecord(ctx context.Context, productID string) (*entity.StockRecord, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, domain.NewValidationError("productId", "es obligatorio")
	}
	return l.stockRepo.Get(ctx, productID)
}

// ValidateStockOperation prevalidación de solo lectura. No evita carreras: ReserveStock y
// RecordMovement vuelven a validar dentro de su transacción.
func (l *StockLedger) ValidateStockOperation(ctx context.Context, productID string, quantity decimal.Decimal, op Operation) (*ValidationResult, error) {
	if op != OperationReserve && op != OperationReduce {
		return nil, domain.NewValidationError("operation", "debe ser reserve o reduce")
	}
	if !quantity.IsPositive() {
		return nil, domain.NewValidationError("quantity", "debe ser mayor que cero")
	}
	levels, _, _, err := l.readLevels(ctx, productID)
	if err != nil {
		return nil, err
	}
	res := &ValidationResult{AvailableStock: levels.Available}
	if quantity.GreaterThan(levels.Available) {
		res.Message = fmt.Sprintf("solo hay %s unidades disponibles", levels.Available.String())
		return res, nil
	}
	res.Valid = true
	res.Message = "stock suficiente"
	return res, nil
}

// ReserveStock crea una reserva si la cantidad cabe en el disponible al momento de confirmar.
func (l *StockLedger) ReserveStock(ctx context.Context, in ReserveInput) (*entity.Reservation, error) {
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, domain.NewValidationError("productId", "es obligatorio")
	}
	if !in.Quantity.IsPositive() {
		return nil, domain.NewValidationError("quantity", "debe ser mayor que cero")
	}
	minutes := in.ExpirationMinutes
	if minutes == 0 {
		minutes = DefaultExpirationMinutes
	}
	if minutes < 0 || minutes > MaxExpirationMinutes {
		return nil, domain.NewValidationError("expirationMinutes", "debe estar entre 1 y %d", MaxExpirationMinutes)
	}

	res := &entity.Reservation{
		ID:        uuid.New().String(),
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		Reason:    in.Reason,
		HolderID:  in.HolderID,
		Status:    entity.ReservationActive,
	}

	var (
		now   time.Time
		after entity.StockLevels
		alert *events.StockThresholdAlert
	)
	err := l.txRunner.Run(ctx, in.ProductID, func(
		stockRepo repository.StockRepository,
		reservationRepo repository.ReservationRepository,
		_ repository.StockMovementRepository,
	) error {
		stock, err := stockRepo.GetForUpdate(ctx, in.ProductID)
		if err != nil {
			return err
		}
		now = lockedNow(l.now(), stock)
		res.CreatedAt = now
		res.ExpiresAt = now.Add(time.Duration(minutes) * time.Minute)
		active, err := reservationRepo.ListActiveByProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		levels := entity.ComputeLevels(stock.TotalQuantity, active, now)
		if in.Quantity.GreaterThan(levels.Available) {
			return &domain.InsufficientStockError{ProductID: in.ProductID, Requested: in.Quantity, Available: levels.Available}
		}
		if err := reservationRepo.Create(ctx, res); err != nil {
			return err
		}
		after = entity.ComputeLevels(stock.TotalQuantity, append(active, res), now)
		alert = thresholdAlert(in.ProductID, levels, stock.MinimumQuantity, after, stock.MinimumQuantity, now)
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrInsufficientStock) {
			outcome = "insufficient"
		}
		l.metrics.RecordReservation(ctx, outcome)
		return nil, err
	}
	l.metrics.RecordReservation(ctx, "created")
	l.publishAvailability(ctx, in.ProductID, after, "reservation_created", now)
	if alert != nil {
		l.publisher.Publish(ctx, *alert)
	}
	l.log.Debug().
		Str("product_id", in.ProductID).
		Str("reservation_id", res.ID).
		Str("quantity", in.Quantity.String()).
		Msg("reserva creada")
	return res, nil
}

// ReleaseReservation libera una reserva. Idempotente: una reserva inexistente, ya liberada o vencida
// no es error, porque el barrido de vencimiento puede haberla cerrado en paralelo.
// Devuelve true solo si esta llamada hizo la transición.
func (l *StockLedger) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	if strings.TrimSpace(reservationID) == "" {
		return false, domain.NewValidationError("reservationId", "es obligatorio")
	}
	r, err := l.reservationRepo.GetByID(ctx, reservationID)
	if err != nil {
		return false, err
	}
	if r == nil || r.IsTerminal() {
		return false, nil
	}

	now := l.now()
	released := false
	var after entity.StockLevels
	err = l.txRunner.Run(ctx, r.ProductID, func(
		stockRepo repository.StockRepository,
		reservationRepo repository.ReservationRepository,
		_ repository.StockMovementRepository,
	) error {
		current, err := reservationRepo.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if current == nil || current.IsTerminal() {
			return nil
		}
		if err := reservationRepo.UpdateStatus(ctx, reservationID, entity.ReservationReleased, now); err != nil {
			return err
		}
		released = true
		stock, err := stockRepo.GetForUpdate(ctx, r.ProductID)
		if err != nil {
			return err
		}
		active, err := reservationRepo.ListActiveByProduct(ctx, r.ProductID)
		if err != nil {
			return err
		}
		after = entity.ComputeLevels(stock.TotalQuantity, active, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	if released {
		l.metrics.RecordReservation(ctx, "released")
		l.publishAvailability(ctx, r.ProductID, after, "reservation_released", now)
	}
	return released, nil
}

// GetReservation busca una reserva. Devuelve domain.ErrReservationNotFound si no existe.
func (l *StockLedger) GetReservation(ctx context.Context, reservationID string) (*entity.Reservation, error) {
	r, err := l.reservationRepo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrReservationNotFound
	}
	return r, nil
}

// CleanupExpiredReservations marca EXPIRED las reservas ACTIVE vencidas y devuelve cuántas cambió.
// Cada producto se procesa en su propia transacción.
func (l *StockLedger) CleanupExpiredReservations(ctx context.Context) (int, error) {
	now := l.now()
	total := 0
	for {
		expired, err := l.reservationRepo.ListExpiredActive(ctx, now, expiredBatchSize)
		if err != nil {
			return total, fmt.Errorf("listar reservas vencidas: %w", err)
		}
		if len(expired) == 0 {
			break
		}
		byProduct := make(map[string][]string)
		var order []string
		for _, r := range expired {
			if _, ok := byProduct[r.ProductID]; !ok {
				order = append(order, r.ProductID)
			}
			byProduct[r.ProductID] = append(byProduct[r.ProductID], r.ID)
		}

		batch := 0
		for _, productID := range order {
			n, err := l.expireProduct(ctx, productID, byProduct[productID], now)
			if err != nil {
				return total + batch, err
			}
			batch += n
		}
		total += batch
		if batch == 0 || len(expired) < expiredBatchSize {
			break
		}
	}
	if total > 0 {
		l.metrics.RecordExpiredReservations(ctx, total)
		l.log.Info().Int("expired", total).Msg("reservas vencidas liberadas")
	}
	return total, nil
}

func (l *StockLedger) expireProduct(ctx context.Context, productID string, ids []string, now time.Time) (int, error) {
	count := 0
	var after entity.StockLevels
	err := l.txRunner.Run(ctx, productID, func(
		stockRepo repository.StockRepository,
		reservationRepo repository.ReservationRepository,
		_ repository.StockMovementRepository,
	) error {
		for _, id := range ids {
			r, err := reservationRepo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if r == nil || r.Status != entity.ReservationActive || now.Before(r.ExpiresAt) {
				continue
			}
			if err := reservationRepo.UpdateStatus(ctx, id, entity.ReservationExpired, now); err != nil {
				return err
			}
			count++
		}
		stock, err := stockRepo.GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		active, err := reservationRepo.ListActiveByProduct(ctx, productID)
		if err != nil {
			return err
		}
		after = entity.ComputeLevels(stock.TotalQuantity, active, now)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("expirar reservas de %s: %w", productID, err)
	}
	if count > 0 {
		l.publishAvailability(ctx, productID, after, "reservation_expired", now)
	}
	return count, nil
}

// RecordMovement registra un movimiento y actualiza el total en la misma transacción.
// ValidationError si el total quedaría negativo; InsufficientStockError si una salida consumiría stock reservado.
func (l *StockLedger) RecordMovement(ctx context.Context, in MovementInput) (*entity.StockMovement, error) {
	if err := validateMovementInput(in); err != nil {
		return nil, err
	}
	return l.commitMovement(ctx, movementCommand{MovementInput: in})
}

// UpdateStock ajuste manual. El motivo debe pertenecer a AdjustmentReason; en otro caso
// ValidationError sin registrar movimiento.
func (l *StockLedger) UpdateStock(ctx context.Context, in AdjustmentInput) (*entity.StockMovement, error) {
	reason, ok := entity.ParseAdjustmentReason(in.Reason)
	if !ok {
		return nil, domain.NewValidationError("reason", "motivo de ajuste desconocido: %q", in.Reason)
	}
	return l.RecordMovement(ctx, MovementInput{
		ProductID: in.ProductID,
		Type:      entity.MovementAdjustment,
		Quantity:  in.Quantity,
		Reason:    string(reason),
		Reference: in.Reference,
		ActorID:   in.ActorID,
	})
}

// ReconcileStock fija el total al conteo físico registrando un ADJUSTMENT con motivo RECOUNT.
// Si el conteo coincide con el total no registra nada y devuelve (nil, nil).
func (l *StockLedger) ReconcileStock(ctx context.Context, in ReconcileInput) (*entity.StockMovement, error) {
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, domain.NewValidationError("productId", "es obligatorio")
	}
	if in.CountedQuantity.IsNegative() {
		return nil, domain.NewValidationError("countedQuantity", "no puede ser negativo")
	}
	counted := in.CountedQuantity
	return l.commitMovement(ctx, movementCommand{
		MovementInput: MovementInput{
			ProductID:       in.ProductID,
			Type:            entity.MovementAdjustment,
			Reason:          string(entity.ReasonRecount),
			Reference:       in.Reference,
			ActorID:         in.ActorID,
			IdempotencyKey:  in.IdempotencyKey,
			ExpectedVersion: in.ExpectedVersion,
		},
		counted: &counted,
	})
}

// SetMinimumStock define el umbral de alerta de stock bajo.
func (l *StockLedger) SetMinimumStock(ctx context.Context, productID string, minimum decimal.Decimal) error {
	if strings.TrimSpace(productID) == "" {
		return domain.NewValidationError("productId", "es obligatorio")
	}
	if minimum.IsNegative() {
		return domain.NewValidationError("minimum", "no puede ser negativo")
	}
	now := l.now()
	var alert *events.StockThresholdAlert
	err := l.txRunner.Run(ctx, productID, func(
		stockRepo repository.StockRepository,
		reservationRepo repository.ReservationRepository,
		_ repository.StockMovementRepository,
	) error {
		stock, err := stockRepo.GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		active, err := reservationRepo.ListActiveByProduct(ctx, productID)
		if err != nil {
			return err
		}
		previous := stock.MinimumQuantity
		stock.MinimumQuantity = minimum
		stock.UpdatedAt = now
		if err := stockRepo.Upsert(ctx, stock); err != nil {
			return err
		}
		levels := entity.ComputeLevels(stock.TotalQuantity, active, now)
		alert = thresholdAlert(productID, levels, previous, levels, minimum, now)
		return nil
	})
	if err != nil {
		return err
	}
	if alert != nil {
		l.publisher.Publish(ctx, *alert)
	}
	return nil
}

// GetStockMovements historial ascendente de un producto; from/to opcionales.
func (l *StockLedger) GetStockMovements(ctx context.Context, productID string, from, to *time.Time) ([]*entity.StockMovement, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, domain.NewValidationError("productId", "es obligatorio")
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, domain.NewValidationError("from", "debe ser anterior a to")
	}
	return l.movementRepo.ListByProduct(ctx, productID, from, to)
}

// GetStockSummary total, disponible, reservado, reservas activas y movimientos recientes.
func (l *StockLedger) GetStockSummary(ctx context.Context, productID string) (*StockSummary, error) {
	levels, stock, active, err := l.readLevels(ctx, productID)
	if err != nil {
		return nil, err
	}
	recent, err := l.movementRepo.ListRecentByProduct(ctx, productID, recentMovementsLimit)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = []*entity.Reservation{}
	}
	if recent == nil {
		recent = []*entity.StockMovement{}
	}
	return &StockSummary{
		ProductID:          productID,
		TotalStock:         levels.Total,
		AvailableStock:     levels.Available,
		ReservedStock:      levels.Reserved,
		MinimumStock:       stock.MinimumQuantity,
		Version:            stock.Version,
		ActiveReservations: active,
		RecentMovements:    recent,
	}, nil
}

// readLevels lectura no transaccional; las reservas vencidas ya no cuentan aunque el barrido no haya corrido.
func (l *StockLedger) readLevels(ctx context.Context, productID string) (entity.StockLevels, *entity.StockRecord, []*entity.Reservation, error) {
	if strings.TrimSpace(productID) == "" {
		return entity.StockLevels{}, nil, nil, domain.NewValidationError("productId", "es obligatorio")
	}
	stock, err := l.stockRepo.Get(ctx, productID)
	if err != nil {
		return entity.StockLevels{}, nil, nil, err
	}
	all, err := l.reservationRepo.ListActiveByProduct(ctx, productID)
	if err != nil {
		return entity.StockLevels{}, nil, nil, err
	}
	now := l.now()
	active := make([]*entity.Reservation, 0, len(all))
	for _, r := range all {
		if r.IsActiveAt(now) {
			active = append(active, r)
		}
	}
	return entity.ComputeLevels(stock.TotalQuantity, active, now), stock, active, nil
}

func validateMovementInput(in MovementInput) error {
	if strings.TrimSpace(in.ProductID) == "" {
		return domain.NewValidationError("productId", "es obligatorio")
	}
	if _, ok := entity.ParseMovementType(string(in.Type)); !ok {
		return domain.NewValidationError("type", "tipo de movimiento desconocido: %q", in.Type)
	}
	if in.Quantity.IsZero() {
		return domain.NewValidationError("quantity", "no puede ser cero")
	}
	switch in.Type {
	case entity.MovementSale:
		if !in.Quantity.IsNegative() {
			return domain.NewValidationError("quantity", "una venta debe ser negativa")
		}
	case entity.MovementPurchase, entity.MovementReturn:
		if !in.Quantity.IsPositive() {
			return domain.NewValidationError("quantity", "una %s debe ser positiva", strings.ToLower(string(in.Type)))
		}
	case entity.MovementAdjustment:
		if _, ok := entity.ParseAdjustmentReason(in.Reason); !ok {
			return domain.NewValidationError("reason", "motivo de ajuste desconocido: %q", in.Reason)
		}
	}
	return nil
}
