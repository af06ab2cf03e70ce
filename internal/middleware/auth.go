package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TenantClaims are the claims the platform's auth service issues
type TenantClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Tier     string `json:"tier"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and stores tenant/user identity in request
// locals. Token issuance belongs to the auth service; this only verifies.
func Auth(jwtSecret string, required bool, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			if !required {
				return c.Next()
			}
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header format")
		}

		claims := &TenantClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			logger.Debug("Rejected token", zap.Error(err))
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		if claims.TenantID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token missing tenant claim")
		}

		c.Locals("tenant_id", claims.TenantID)
		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)
		c.Locals("tier", claims.Tier)
		return c.Next()
	}
}

// TenantID returns the authenticated tenant id, falling back to the
// X-Tenant-ID header when auth is not required (internal deployments).
func TenantID(c *fiber.Ctx) string {
	if v, ok := c.Locals("tenant_id").(string); ok && v != "" {
		return v
	}
	return c.Get("X-Tenant-ID")
}

// Tier returns the authenticated tenant's plan tier, if any.
func Tier(c *fiber.Ctx) string {
	if v, ok := c.Locals("tier").(string); ok {
		return v
	}
	return ""
}
