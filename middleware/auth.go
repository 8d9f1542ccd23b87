// middleware/auth.go
package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"cookie-claim-system/models"
)

const (
	localUserID      = "user_id"
	localUserName    = "user_name"
	localCommunityID = "community_id"
	localChannelID   = "channel_id"
	localRoles       = "user_roles"
	localIsAdmin     = "is_admin"
)

// AdminRole is the role tag the gateway sets for community administrators.
const AdminRole = "admin"

// UserContextMiddleware extracts user identity, community and roles set by
// the Gateway.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
				"code":  "UNAUTHORIZED",
			})
		}

		roles, isAdmin, err := ParseRoles(c.Get("X-User-Roles"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "INVALID_ROLES",
			})
		}

		c.Locals(localUserID, userID)
		c.Locals(localUserName, c.Get("X-User-Name"))
		c.Locals(localCommunityID, strings.TrimSpace(c.Get("X-Community-ID")))
		c.Locals(localChannelID, strings.TrimSpace(c.Get("X-Channel-ID")))
		c.Locals(localRoles, roles)
		c.Locals(localIsAdmin, isAdmin)

		return c.Next()
	}
}

// ParseRoles reads "roleID:position,roleID:position". A bare "admin" entry
// marks the caller as a community administrator.
func ParseRoles(header string) ([]models.MemberRole, bool, error) {
	var roles []models.MemberRole
	isAdmin := false

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.EqualFold(part, AdminRole) {
			isAdmin = true
			continue
		}

		id, pos, found := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, false, fmt.Errorf("invalid role entry %q", part)
		}
		role := models.MemberRole{ID: id}
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(pos))
			if err != nil {
				return nil, false, fmt.Errorf("invalid position in role entry %q", part)
			}
			role.Position = n
		}
		roles = append(roles, role)
	}
	return roles, isAdmin, nil
}

// RequireAdmin allows community administrators and the owner.
func RequireAdmin(ownerID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if IsAdmin(c) || (ownerID != "" && UserID(c) == ownerID) {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "admin access required",
			"code":  "FORBIDDEN",
		})
	}
}

func UserID(c *fiber.Ctx) string      { return localString(c, localUserID) }
func UserName(c *fiber.Ctx) string    { return localString(c, localUserName) }
func CommunityID(c *fiber.Ctx) string { return localString(c, localCommunityID) }
func ChannelID(c *fiber.Ctx) string   { return localString(c, localChannelID) }

func Roles(c *fiber.Ctx) []models.MemberRole {
	roles, _ := c.Locals(localRoles).([]models.MemberRole)
	return roles
}

func IsAdmin(c *fiber.Ctx) bool {
	admin, _ := c.Locals(localIsAdmin).(bool)
	return admin
}

func localString(c *fiber.Ctx, key string) string {
	s, _ := c.Locals(key).(string)
	return s
}
