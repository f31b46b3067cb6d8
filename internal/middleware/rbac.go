package middleware

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-judge-api/internal/utils"
)

// StaffRoles may export standings and manage test artifacts.
var StaffRoles = []string{"admin", "teacher"}

// RequireRole lets the request through only when the role bound by the JWT middleware is allowed.
func RequireRole(roles ...string) fiber.Handler {
	allowed := mapset.NewThreadUnsafeSet[string]()
	for _, role := range roles {
		if normalized := strings.ToLower(strings.TrimSpace(role)); normalized != "" {
			allowed.Add(normalized)
		}
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		if !allowed.Contains(role) {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// StaffOnly restricts a route group to StaffRoles.
func StaffOnly() fiber.Handler {
	return RequireRole(StaffRoles...)
}
