package middleware

import (
	"github.com/gofiber/fiber/v2"
)

const (
	// TenantIDHeader 租户ID请求头
	TenantIDHeader = "X-Tenant-ID"
	// TenantIDContextKey 租户ID上下文键
	TenantIDContextKey = "tenantID"
)

// TenantMiddleware 租户上下文中间件
// 从请求头获取当前租户ID并注入到上下文。存储层的租户隔离
// 由外部保证，这里只负责传递标识。
func TenantMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := c.Get(TenantIDHeader)
		if tenantID != "" {
			c.Locals(TenantIDContextKey, tenantID)
		}
		return c.Next()
	}
}

// GetCurrentTenantID 从上下文获取当前租户ID
func GetCurrentTenantID(c *fiber.Ctx) string {
	if tenantID, ok := c.Locals(TenantIDContextKey).(string); ok {
		return tenantID
	}
	return ""
}

// RequireTenantMiddleware 要求租户ID的中间件
func RequireTenantMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetCurrentTenantID(c) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code":    400,
				"message": "missing " + TenantIDHeader + " header",
			})
		}
		return c.Next()
	}
}
