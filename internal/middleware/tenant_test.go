package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTenantApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(TenantMiddleware())
	for _, h := range handlers {
		app.Use(h)
	}
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(GetCurrentTenantID(c))
	})
	return app
}

func TestTenantMiddlewareInjectsHeader(t *testing.T) {
	app := newTenantApp()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(TenantIDHeader, "tenant-a")

	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", string(body))
}

func TestTenantMiddlewareWithoutHeader(t *testing.T) {
	app := newTenantApp()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, string(body))
}

func TestRequireTenantMiddleware(t *testing.T) {
	app := newTenantApp(RequireTenantMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(TenantIDHeader, "tenant-a")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
