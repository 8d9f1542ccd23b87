// handlers/feedback_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"cookie-claim-system/middleware"
	"cookie-claim-system/services"
)

type feedbackRequest struct {
	ClaimID  string `json:"claim_id"`
	ItemType string `json:"item_type"`
	Rating   int    `json:"rating" validate:"required,min=1,max=5"`
	Text     string `json:"text" validate:"omitempty,min=10,max=500"`
}

type evidenceRequest struct {
	ChannelID   string   `json:"channel_id"`
	Attachments []string `json:"attachments" validate:"required,min=1,dive,required"`
}

type roleChangeRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func setupFeedbackRoutes(r fiber.Router, svc *Services) {
	r.Post("/feedback", func(c *fiber.Ctx) error {
		var req feedbackRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}

		state, err := svc.Feedback.SubmitRating(c.UserContext(), services.FeedbackSubmission{
			UserID:   middleware.UserID(c),
			ClaimID:  req.ClaimID,
			ItemType: req.ItemType,
			Rating:   req.Rating,
			Text:     req.Text,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"state": state})
	})

	r.Get("/feedback/status", func(c *fiber.Ctx) error {
		status, err := svc.Feedback.Status(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(status)
	})

	// Messages posted in a community channel, forwarded by the gateway.
	r.Post("/events/evidence", func(c *fiber.Ctx) error {
		communityID := middleware.CommunityID(c)
		if communityID == "" {
			return missingCommunity(c)
		}

		var req evidenceRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		channelID := req.ChannelID
		if channelID == "" {
			channelID = middleware.ChannelID(c)
		}

		res, err := svc.Feedback.RecordScreenshot(c.UserContext(), services.Evidence{
			UserID:      middleware.UserID(c),
			CommunityID: communityID,
			ChannelID:   channelID,
			Attachments: req.Attachments,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	r.Post("/events/role-change", func(c *fiber.Ctx) error {
		communityID := middleware.CommunityID(c)
		if communityID == "" {
			return missingCommunity(c)
		}

		var req roleChangeRequest
		if ok, err := parseBody(c, &req); !ok {
			return err
		}
		if err := svc.Access.Invalidate(c.UserContext(), communityID, req.UserID); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
