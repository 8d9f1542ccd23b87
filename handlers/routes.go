// handlers/routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"cookie-claim-system/middleware"
	"cookie-claim-system/services"
	"cookie-claim-system/stock"
)

// Services bundles what the route handlers call into.
type Services struct {
	DB       *gorm.DB
	Claims   *services.ClaimService
	Feedback *services.FeedbackService
	Access   *services.AccessService
	Policy   *services.PolicyService
	Ledger   *services.Ledger
	Stock    stock.Source
	OwnerID  string
}

// SetupRoutes registers every route. The gateway forwards /api/v1/cookies/s/*
// to /s/*.
func SetupRoutes(app *fiber.App, svc *Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 🔐 Secured routes, user context required
	secured := app.Group("/s", middleware.UserContextMiddleware())

	setupCookieRoutes(secured, svc)
	setupFeedbackRoutes(secured, svc)

	admin := secured.Group("/admin", middleware.RequireAdmin(svc.OwnerID))
	setupAdminRoutes(admin, svc)
}
