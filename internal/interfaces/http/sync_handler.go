package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/inventario-sync/internal/application/dto"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

// SyncHandler recepción de eventos, salud del motor, reglas, conflictos y cola (protegido).
type SyncHandler struct {
	engine   *syncengine.Engine
	registry *syncengine.Registry
	resolver *syncengine.ConflictResolver
}

// NewSyncHandler construye el handler.
func NewSyncHandler(engine *syncengine.Engine, registry *syncengine.Registry, resolver *syncengine.ConflictResolver) *SyncHandler {
	return &SyncHandler{engine: engine, registry: registry, resolver: resolver}
}

// Enqueue godoc
// @Summary      Recibir evento de un módulo origen
// @Description  Encola el evento y responde sin esperar el procesamiento.
// @Tags         sync
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.SyncRequest  true  "sourceModule, action, data, entityType, entityId"
// @Success      202   {object}  dto.SyncAcceptedResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/sync [post]
func (h *SyncHandler) Enqueue(c *fiber.Ctx) error {
	var in dto.SyncRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	item, err := h.engine.Enqueue(c.Context(), syncengine.SyncRequest{
		SourceModule: in.SourceModule,
		Action:       in.Action,
		Data:         in.Data,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.SyncAcceptedResponse{Queued: true, ItemID: item.ID})
}

// Health godoc
// @Summary      Estado del motor de sincronización
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  syncengine.Health
// @Router       /api/sync [get]
func (h *SyncHandler) Health(c *fiber.Ctx) error {
	return c.JSON(h.engine.Health(c.Context()))
}

// Rules godoc
// @Summary      Reglas de sincronización configuradas
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Success      200  {array}  dto.SyncRuleResponse
// @Router       /api/sync/rules [get]
func (h *SyncHandler) Rules(c *fiber.Ctx) error {
	return c.JSON(dto.ToSyncRuleResponses(h.registry.Rules()))
}

// ListConflicts godoc
// @Summary      Conflictos de una entidad
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Param        entityId    query  string  true   "ID de la entidad"
// @Param        entityType  query  string  false  "stock | accounting_transaction"
// @Success      200  {array}   dto.ConflictResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/sync/conflicts [get]
func (h *SyncHandler) ListConflicts(c *fiber.Ctx) error {
	conflicts, err := h.resolver.ListConflicts(c.Context(), strings.TrimSpace(c.Query("entityType")), strings.TrimSpace(c.Query("entityId")))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ToConflictResponses(conflicts))
}

// ResolveConflict godoc
// @Summary      Resolver un conflicto
// @Tags         sync
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ResolveConflictRequest  true  "conflictId, resolution, decision"
// @Success      200   {object}  dto.ConflictResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/sync/conflicts [post]
func (h *SyncHandler) ResolveConflict(c *fiber.Ctx) error {
	var in dto.ResolveConflictRequest
	if err := c.BodyParser(&in); err != nil {
		return badBody(c)
	}
	var decision *syncengine.Decision
	if in.Decision != nil {
		decision = &syncengine.Decision{Action: strings.ToLower(in.Decision.Action), Data: in.Decision.Data}
	}
	resolved, err := h.resolver.ResolveConflict(c.Context(), in.ConflictID, entity.ResolutionStrategy(strings.ToUpper(in.Resolution)), decision, GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ToConflictResponse(resolved))
}

// ListQueue godoc
// @Summary      Ítems de la cola por estado
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Param        status  query  string  false  "PENDING | PROCESSING | COMPLETED | FAILED | DEAD (por defecto DEAD)"
// @Param        limit   query  int     false  "máximo 500"
// @Success      200  {array}   dto.QueueItemResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/sync/queue [get]
func (h *SyncHandler) ListQueue(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badQuery(c, "limit inválido")
	}
	page.DefaultPage()
	status := strings.ToUpper(strings.TrimSpace(c.Query("status", string(entity.SyncDead))))
	items, err := h.engine.ListQueue(c.Context(), entity.SyncStatus(status), page.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ToQueueItemResponses(items))
}

// RetryItem godoc
// @Summary      Reintentar manualmente un ítem DEAD o FAILED
// @Tags         sync
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "ID del ítem"
// @Success      200  {object}  dto.QueueItemResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/sync/queue/{id}/retry [post]
func (h *SyncHandler) RetryItem(c *fiber.Ctx) error {
	item, err := h.engine.Retry(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ToQueueItemResponse(item))
}
