package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/meter-service/internal/domain"
	apperrors "github.com/spec-kit/meter-service/pkg/util/errorutil"
)

const (
	msgAuthenticationRequired = "authentication required"
	msgAccessDenied           = "access denied"
)

// RequireAuthenticated rejects requests without a principal.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c.UserContext()); !ok {
			return apperrors.NewUnauthorized(msgAuthenticationRequired)
		}
		return c.Next()
	}
}

// RequireRole ensures the principal holds one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c.UserContext())
		if !ok {
			return apperrors.NewUnauthorized(msgAuthenticationRequired)
		}
		if !principal.HasRole(allowed...) {
			return apperrors.NewForbidden(msgAccessDenied)
		}
		return c.Next()
	}
}
