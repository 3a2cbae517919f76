package middleware

import (
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
)

// RequireRole 지정한 역할 중 하나를 가진 사용자만 통과
// auth.AuthMiddleware 뒤에 위치해야 함
func RequireRole(roles ...auth.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		if !claims.Role.Has(roles...) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}

		return c.Next()
	}
}
