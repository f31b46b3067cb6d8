package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-judge-api/internal/utils"
)

var (
	errMissingAuthorization = errors.New("authorization header missing")
	errInvalidAuthorization = errors.New("invalid authorization header")
	errInvalidToken         = errors.New("invalid token")
	errInvalidClaims        = errors.New("invalid token claims")
)

// JWTProtected returns a middleware that validates JWT bearer tokens.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearer(c.Get("Authorization"), secret)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		bindClaims(c, claims)
		return c.Next()
	}
}

// JWTOptional binds the caller identity when a valid bearer token is present
// and lets anonymous requests through. Invalid tokens are still rejected.
func JWTOptional(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := parseBearer(c.Get("Authorization"), secret)
		if errors.Is(err, errMissingAuthorization) {
			return c.Next()
		}
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		bindClaims(c, claims)
		return c.Next()
	}
}

func parseBearer(authorization, secret string) (jwt.MapClaims, error) {
	if authorization == "" {
		return nil, errMissingAuthorization
	}

	const bearer = "Bearer "
	if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
		return nil, errInvalidAuthorization
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return nil, errInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidClaims
	}
	return claims, nil
}

func bindClaims(c *fiber.Ctx, claims jwt.MapClaims) {
	if userID := extractUserIDFromClaims(claims); userID != nil {
		c.Locals("user_id", *userID)
	}
	if role := extractUserRoleFromClaims(claims); role != "" {
		c.Locals("user_role", role)
	}
}

func extractUserIDFromClaims(claims jwt.MapClaims) *uint {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized, err := normalizeUserID(value); err == nil {
				return &normalized
			}
		}
	}

	return nil
}

func normalizeUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid subject")
		}
		return uint(v), nil
	default:
		return 0, fmt.Errorf("unsupported subject type")
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	candidates := []string{"role", "roles"}
	for _, key := range candidates {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				role := strings.ToLower(strings.TrimSpace(str))
				if role != "" {
					return role
				}
			}
		}
	default:
		return ""
	}
	return ""
}
