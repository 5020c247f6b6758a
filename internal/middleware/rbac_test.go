package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func roleApp(roles []string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if roles != nil {
			c.Locals("user_roles", roles)
		}
		return c.Next()
	})
	app.Use(RequireRole("System", "admin"))
	app.Post("/notifications", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	return app
}

func TestRequireRoleAllowsAnyMatchingRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/notifications", nil)
	resp, err := roleApp([]string{"member", "system"}).Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestRequireRoleRejectsOtherRoles(t *testing.T) {
	for _, roles := range [][]string{{"member"}, {}, nil} {
		req := httptest.NewRequest(http.MethodPost, "/notifications", nil)
		resp, err := roleApp(roles).Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	}
}
