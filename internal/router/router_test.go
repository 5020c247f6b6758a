package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taskchat-api/internal/config"
	"github.com/noah-isme/taskchat-api/internal/handler"
	"github.com/noah-isme/taskchat-api/internal/middleware"
)

func TestRegisterPublicAndProtectedRoutes(t *testing.T) {
	app := fiber.New()
	Register(app, config.Config{AppName: "TaskChat API"}, Dependencies{
		HealthProbes: map[string]handler.HealthProbe{
			"database": func(context.Context) error { return nil },
		},
		JWTMiddleware: middleware.JWTProtected("secret"),
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "TaskChat API", resp.Header.Get("X-Application"))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/chats", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterReportsDegradedHealth(t *testing.T) {
	app := fiber.New()
	Register(app, config.Config{}, Dependencies{
		HealthProbes: map[string]handler.HealthProbe{
			"redis": func(context.Context) error { return errors.New("timeout") },
		},
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
