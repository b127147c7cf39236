package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/inventario-sync/internal/application/inventory"
	"github.com/jhoicas/inventario-sync/internal/application/syncengine"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Ledger    *inventory.StockLedger
	Engine    *syncengine.Engine
	Registry  *syncengine.Registry
	Resolver  *syncengine.ConflictResolver
	JWTSecret string
	JWTIssuer string
}

// Router registra las rutas de la API. Todas requieren Bearer Token.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer))

	// Pool de stock
	pool := protected.Group("/inventory/pool")
	poolHandler := NewPoolHandler(deps.Ledger)
	pool.Get("/", poolHandler.GetPool)
	pool.Post("/reserve", poolHandler.Reserve)
	pool.Delete("/reserve", poolHandler.Release)
	pool.Post("/movements", poolHandler.RegisterMovement)
	pool.Get("/movements", poolHandler.ListMovements)
	pool.Post("/validate", poolHandler.Validate)
	pool.Put("/minimum", RequireRole(RoleAdmin, RoleBodeguero), poolHandler.SetMinimum)
	pool.Post("/cleanup", RequireRole(RoleAdmin), poolHandler.Cleanup)

	// Sincronización
	syncGroup := protected.Group("/sync")
	syncHandler := NewSyncHandler(deps.Engine, deps.Registry, deps.Resolver)
	syncGroup.Post("/", syncHandler.Enqueue)
	syncGroup.Get("/", syncHandler.Health)
	syncGroup.Get("/rules", syncHandler.Rules)
	syncGroup.Get("/conflicts", syncHandler.ListConflicts)
	syncGroup.Post("/conflicts", RequireRole(RoleAdmin), syncHandler.ResolveConflict)
	syncGroup.Get("/queue", RequireRole(RoleAdmin), syncHandler.ListQueue)
	syncGroup.Post("/queue/:id/retry", RequireRole(RoleAdmin), syncHandler.RetryItem)
}
