package auth

import (
	"context"

	"github.com/spec-kit/meter-service/internal/domain"
)

// AuthorityPrefix prefixes a role to form its granted authority label.
const AuthorityPrefix = "ROLE_"

// Principal is the authenticated caller of a single request.
type Principal struct {
	UserID int64
	Role   domain.Role
}

// Authority returns the granted authority label, e.g. ROLE_ADMIN.
func (p Principal) Authority() string {
	return AuthorityPrefix + string(p.Role)
}

// HasRole reports whether the principal holds one of roles.
func (p Principal) HasRole(roles ...domain.Role) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
