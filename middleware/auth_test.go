package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"cookie-claim-system/models"
)

func TestParseRoles(t *testing.T) {
	roles, admin, err := ParseRoles("vip:10, booster:5,admin,member")
	require.NoError(t, err)
	require.True(t, admin)
	require.Equal(t, []models.MemberRole{
		{ID: "vip", Position: 10},
		{ID: "booster", Position: 5},
		{ID: "member", Position: 0},
	}, roles)

	roles, admin, err = ParseRoles("")
	require.NoError(t, err)
	require.False(t, admin)
	require.Empty(t, roles)

	_, _, err = ParseRoles("vip:high")
	require.Error(t, err)

	_, _, err = ParseRoles(":3")
	require.Error(t, err)
}

func TestGatewayAndUserContext(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret"))
	app.Get("/s/whoami", UserContextMiddleware(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user":      UserID(c),
			"community": CommunityID(c),
			"roles":     len(Roles(c)),
		})
	})
	app.Get("/s/admin/ping", UserContextMiddleware(), RequireAdmin("owner-1"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest("GET", "/s/whoami", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/s/whoami", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/s/whoami", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, "missing user id")

	req = httptest.NewRequest("GET", "/s/whoami", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Community-ID", "g1")
	req.Header.Set("X-User-Roles", "vip:3")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/s/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-User-ID", "u1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/s/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-User-ID", "owner-1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest("GET", "/s/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-User-ID", "u2")
	req.Header.Set("X-User-Roles", "admin")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
