package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/inventario-sync/internal/application/dto"
	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// PoolHandler maneja el pool de stock: consulta, reservas, movimientos y prevalidación (protegido).
type PoolHandler struct {
	ledger *inventory.StockLedger
}

// NewPoolHandler construye el handler.
func NewPoolHandler(ledger *inventory.StockLedger) *PoolHandler {
	return &PoolHandler{ledger: ledger}
}

// GetPool godoc
// @Summary      Resumen de stock de un producto
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        productId  query  string  true  "ID del producto"
// @Success      200  {object}  dto.PoolSummaryResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/inventory/pool [get]
func (h *PoolHandler) GetPool(c *fiber.Ctx) error {
	productID := strings.TrimSpace(c.Query("productId"))
	if productID == "" {
		return badQuery(c, "productId es obligatorio")
	}
	s, err := h.ledger.GetStockSummary(c.Context(), productID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.PoolSummaryResponse{
		ProductID:          s.ProductID,
		TotalStock:         s.TotalStock,
		AvailableStock:     s.AvailableStock,
		ReservedStock:      s.ReservedStock,
		MinimumStock:       s.MinimumStock,
		Version:            s.Version,
		ActiveReservations: dto.ToReservationResponses(s.ActiveReservations),
		RecentMovements:    dto.ToMovementResponses(s.RecentMovements),
	})
}

// Reserve godoc
// @Summary      Reservar stock
// @Description  El titular de la reserva es el usuario del token.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ReserveStockRequest  true  "productId, quantity, reason, expirationMinutes"
// @Success      201   {object}  dto.ReservationResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/reserve [post]
func (h *PoolHandler) Reserve(c *fiber.Ctx) error {
	var in dto.ReserveStockRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	r, err := h.ledger.ReserveStock(c.Context(), inventory.ReserveInput{
		ProductID:         in.ProductID,
		Quantity:          in.Quantity,
		Reason:            in.Reason,
		HolderID:          GetUserID(c),
		ExpirationMinutes: in.ExpirationMinutes,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToReservationResponse(r))
}

// Release godoc
// @Summary      Liberar reserva
// @Description  Idempotente: liberar una reserva ya cerrada responde 200 con released=false.
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        reservationId  query  string  true  "ID de la reserva"
// @Success      200  {object}  dto.ReleaseResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/reserve [delete]
func (h *PoolHandler) Release(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Query("reservationId"))
	released, err := h.ledger.ReleaseReservation(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ReleaseResponse{ReservationID: id, Released: released})
}

// RegisterMovement godoc
// @Summary      Registrar movimiento o ajuste
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.MovementRequest  true  "action record|adjust, productId, quantity, reason, type, reference"
// @Success      201   {object}  dto.MovementResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/movements [post]
func (h *PoolHandler) RegisterMovement(c *fiber.Ctx) error {
	var in dto.MovementRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	var (
		mov *entity.StockMovement
		err error
	)
	switch in.Action {
	case dto.MovementActionAdjust:
		mov, err = h.ledger.UpdateStock(c.Context(), inventory.AdjustmentInput{
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Reason:    in.Reason,
			Reference: in.Reference,
			ActorID:   GetUserID(c),
		})
	case dto.MovementActionRecord, "":
		mov, err = h.ledger.RecordMovement(c.Context(), inventory.MovementInput{
			ProductID:     in.ProductID,
			Type:          entity.MovementType(strings.ToUpper(in.Type)),
			Quantity:      in.Quantity,
			Reason:        in.Reason,
			Reference:     in.Reference,
			ActorID:       GetUserID(c),
			ReservationID: in.ReservationID,
		})
	default:
		return respondError(c, domain.NewValidationError("action", "debe ser record o adjust"))
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToMovementResponse(mov))
}

// ListMovements godoc
// @Summary      Historial de movimientos
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        productId  query  string  true   "ID del producto"
// @Param        from       query  string  false  "RFC3339"
// @Param        to         query  string  false  "RFC3339"
// @Success      200  {array}   dto.MovementResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/movements [get]
func (h *PoolHandler) ListMovements(c *fiber.Ctx) error {
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return badQuery(c, "from debe ser RFC3339")
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return badQuery(c, "to debe ser RFC3339")
	}
	movs, err := h.ledger.GetStockMovements(c.Context(), c.Query("productId"), from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ToMovementResponses(movs))
}

// Validate godoc
// @Summary      Prevalidar una operación de stock
// @Description  Solo lectura; no garantiza el resultado de una reserva posterior.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ValidateStockRequest  true  "productId, quantity, operation reserve|reduce"
// @Success      200   {object}  inventory.ValidationResult
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/validate [post]
func (h *PoolHandler) Validate(c *fiber.Ctx) error {
	var in dto.ValidateStockRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	res, err := h.ledger.ValidateStockOperation(c.Context(), in.ProductID, in.Quantity, inventory.Operation(strings.ToLower(in.Operation)))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// Cleanup godoc
// @Summary      Vencer reservas expiradas
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.CleanupResponse
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/cleanup [post]
func (h *PoolHandler) Cleanup(c *fiber.Ctx) error {
	n, err := h.ledger.CleanupExpiredReservations(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.CleanupResponse{Expired: n})
}

// SetMinimum godoc
// @Summary      Definir stock mínimo
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Param        body  body  dto.MinimumStockRequest  true  "productId, minimum"
// @Success      204
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/inventory/pool/minimum [put]
func (h *PoolHandler) SetMinimum(c *fiber.Ctx) error {
	var in dto.MinimumStockRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	if err := h.ledger.SetMinimumStock(c.Context(), in.ProductID, in.Minimum); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
