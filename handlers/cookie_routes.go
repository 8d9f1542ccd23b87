// handlers/cookie_routes.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"cookie-claim-system/middleware"
	"cookie-claim-system/services"
)

func setupCookieRoutes(r fiber.Router, svc *Services) {
	r.Post("/cookies/:type/claim", func(c *fiber.Ctx) error {
		communityID := middleware.CommunityID(c)
		if communityID == "" {
			return missingCommunity(c)
		}

		res, err := svc.Claims.Claim(c.UserContext(), services.ClaimRequest{
			UserID:      middleware.UserID(c),
			Username:    middleware.UserName(c),
			CommunityID: communityID,
			ChannelID:   middleware.ChannelID(c),
			Roles:       middleware.Roles(c),
			ItemType:    c.Params("type"),
		})
		if err != nil {
			if res != nil && errors.Is(err, services.ErrDeliveryFailed) {
				// committed, but the unit could not be sent
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
					"error": "claim committed but delivery failed, enable private messages and contact staff",
					"code":  services.RejectionCode(err),
					"claim": res,
				})
			}
			return respondError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"claim": res})
	})

	r.Get("/cookies/stock", func(c *fiber.Ctx) error {
		communityID := middleware.CommunityID(c)
		if communityID == "" {
			return missingCommunity(c)
		}

		views, err := svc.Claims.CheckStock(c.UserContext(), services.StockQuery{
			UserID:      middleware.UserID(c),
			CommunityID: communityID,
			Roles:       middleware.Roles(c),
			ItemType:    c.Query("type"),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"stock": views})
	})

	r.Post("/benefits/refresh", func(c *fiber.Ctx) error {
		communityID := middleware.CommunityID(c)
		if communityID == "" {
			return missingCommunity(c)
		}
		if err := svc.Access.Invalidate(c.UserContext(), communityID, middleware.UserID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "benefits refreshed"})
	})

	r.Get("/me", func(c *fiber.Ctx) error {
		user, err := svc.Ledger.EnsureUser(c.UserContext(), middleware.UserID(c), middleware.UserName(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"user":       user,
			"compliance": services.ComplianceStateOf(user.LastClaim),
		})
	})
}
