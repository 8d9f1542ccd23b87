// handlers/admin_routes.go
package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"

	"cookie-claim-system/middleware"
	"cookie-claim-system/models"
	"cookie-claim-system/services"
	"cookie-claim-system/stock"
	"cookie-claim-system/utils"
	"cookie-claim-system/workers"
)

type maintenanceRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type creditRequest struct {
	UserID string  `json:"user_id" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Bucket string  `json:"bucket" validate:"omitempty,oneof=earned refund admin"`
}

type trustRequest struct {
	UserID string  `json:"user_id" validate:"required"`
	Delta  float64 `json:"delta" validate:"required,min=-100,max=100"`
}

type communityRequest struct {
	Name              string `json:"name" validate:"max=128"`
	Enabled           *bool  `json:"enabled" validate:"required"`
	RoleBased         bool   `json:"role_based"`
	FeedbackChannelID string `json:"feedback_channel_id"`
	LogChannelID      string `json:"log_channel_id"`
	CookieChannelID   string `json:"cookie_channel_id"`
	FeedbackMinutes   int    `json:"feedback_minutes" validate:"min=0,max=1440"`
	BlacklistDays     int    `json:"blacklist_days" validate:"min=0,max=3650"`
}

type cookieRequest struct {
	DisplayName   string  `json:"display_name" validate:"max=128"`
	Cost          float64 `json:"cost" validate:"min=0"`
	CooldownHours int     `json:"cooldown_hours" validate:"min=0"`
	StockSource   string  `json:"stock_source" validate:"required"`
	Enabled       *bool   `json:"enabled" validate:"required"`
}

type roleRequest struct {
	Name             string                         `json:"name" validate:"max=128"`
	CostOverride     *float64                       `json:"cost_override" validate:"omitempty,min=0"`
	CooldownOverride *int                           `json:"cooldown_override" validate:"omitempty,min=0"`
	DailyLimit       *int                           `json:"daily_limit" validate:"omitempty,min=-1"`
	CookieAccess     map[string]models.CookieAccess `json:"cookie_access"`
}

func setupAdminRoutes(r fiber.Router, svc *Services) {
	r.Put("/maintenance", func(c *fiber.Ctx) error {
		var req maintenanceRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		if err := svc.Policy.SetMaintenance(c.UserContext(), *req.Enabled); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"maintenance_mode": *req.Enabled})
	})

	r.Post("/credit", func(c *fiber.Ctx) error {
		var req creditRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		bucket := services.CreditAdmin
		if req.Bucket != "" {
			bucket = services.CreditBucket(req.Bucket)
		}

		ctx := c.UserContext()
		if _, err := svc.Ledger.EnsureUser(ctx, req.UserID, ""); err != nil {
			return respondError(c, err)
		}
		if err := svc.Ledger.Credit(ctx, req.UserID, req.Amount, bucket); err != nil {
			return respondError(c, err)
		}
		user, err := svc.Ledger.GetUser(ctx, req.UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"user_id": user.ID, "balance": user.Balance})
	})

	r.Get("/users", func(c *fiber.Ctx) error {
		users, err := svc.Ledger.SearchUsers(c.UserContext(), c.Query("q"), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"users": users})
	})

	r.Post("/trust", func(c *fiber.Ctx) error {
		var req trustRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		if err := svc.Ledger.AdjustTrust(c.UserContext(), req.UserID, req.Delta); err != nil {
			return respondError(c, err)
		}
		user, err := svc.Ledger.GetUser(c.UserContext(), req.UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"user_id": user.ID, "trust_score": user.TrustScore})
	})

	r.Put("/communities/:id", func(c *fiber.Ctx) error {
		var req communityRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		community := &models.Community{
			ID:                c.Params("id"),
			Name:              req.Name,
			Enabled:           *req.Enabled,
			RoleBased:         req.RoleBased,
			FeedbackChannelID: req.FeedbackChannelID,
			LogChannelID:      req.LogChannelID,
			CookieChannelID:   req.CookieChannelID,
			FeedbackMinutes:   req.FeedbackMinutes,
			BlacklistDays:     req.BlacklistDays,
		}
		if err := svc.Policy.UpsertCommunity(c.UserContext(), community); err != nil {
			return respondError(c, err)
		}
		return c.JSON(community)
	})

	r.Put("/communities/:id/cookies/:type", func(c *fiber.Ctx) error {
		var req cookieRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		if _, err := svc.Policy.GetCommunity(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		item := &models.CookieType{
			CommunityID:   c.Params("id"),
			ItemType:      c.Params("type"),
			DisplayName:   req.DisplayName,
			Cost:          req.Cost,
			CooldownHours: req.CooldownHours,
			StockSource:   req.StockSource,
			Enabled:       *req.Enabled,
		}
		if err := svc.Policy.UpsertCookieType(c.UserContext(), item); err != nil {
			return respondError(c, err)
		}
		return c.JSON(item)
	})

	r.Put("/communities/:id/roles/:role_id", func(c *fiber.Ctx) error {
		var req roleRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		if _, err := svc.Policy.GetCommunity(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		rb := &models.RoleBenefit{
			CommunityID:      c.Params("id"),
			RoleID:           c.Params("role_id"),
			Name:             req.Name,
			CostOverride:     req.CostOverride,
			CooldownOverride: req.CooldownOverride,
			DailyLimit:       req.DailyLimit,
			CookieAccess:     datatypes.NewJSONType(req.CookieAccess),
		}
		if err := svc.Policy.UpsertRoleBenefit(c.UserContext(), rb); err != nil {
			return respondError(c, err)
		}
		return c.JSON(rb)
	})

	r.Get("/communities/:id/stock", func(c *fiber.Ctx) error {
		snaps, err := workers.Snapshots(c.UserContext(), svc.DB, c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"snapshots": snaps})
	})

	// Restock: upload *.txt units into the cookie's stock source.
	r.Post("/communities/:id/cookies/:type/stock", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		community, err := svc.Policy.GetCommunity(ctx, c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		item := community.Cookie(services.NormalizeItemType(c.Params("type")))
		if item == nil {
			return respondError(c, services.ErrUnknownItem)
		}

		pool, err := svc.Stock.PoolFor(item.StockSource)
		if err != nil {
			return respondError(c, fmt.Errorf("%w: %v", services.ErrConfiguration, err))
		}
		writer, ok := pool.(stock.Writer)
		if !ok {
			return respondError(c, fmt.Errorf("%w: stock source is read-only", services.ErrConfiguration))
		}

		form, err := c.MultipartForm()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "expected multipart form with files",
				"code":  "INVALID_BODY",
			})
		}

		var stored, skipped []string
		for _, fh := range form.File["files"] {
			name := utils.CleanUnitName(fh.Filename)
			if name == "" || !utils.IsStockUnit(name) {
				skipped = append(skipped, fh.Filename)
				continue
			}
			f, err := fh.Open()
			if err != nil {
				return respondError(c, fmt.Errorf("open upload %s: %w", fh.Filename, err))
			}
			err = writer.Put(ctx, name, f, fh.Size)
			f.Close()
			if err != nil {
				return respondError(c, fmt.Errorf("store unit %s: %w", name, err))
			}
			stored = append(stored, name)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"stored":       stored,
			"skipped":      skipped,
			"requested_by": middleware.UserID(c),
		})
	})
}
