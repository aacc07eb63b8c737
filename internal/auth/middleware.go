package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/meter-service/internal/domain"
)

// Outcome labels the result of authenticating one request.
type Outcome string

const (
	OutcomeNoToken       Outcome = "no_token"
	OutcomeInvalidToken  Outcome = "invalid_token"
	OutcomeUnknownUser   Outcome = "unknown_user"
	OutcomeAuthenticated Outcome = "authenticated"
)

const bearerScheme = "Bearer"

// UserFinder resolves the account behind a token subject.
type UserFinder interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// OutcomeRecorder counts gateway outcomes.
type OutcomeRecorder interface {
	RecordAuthOutcome(outcome string)
}

// AuthMiddleware resolves bearer tokens into a request principal. It never
// rejects a request itself; route guards decide what an anonymous caller
// may reach.
type AuthMiddleware struct {
	tokens  *TokenManager
	users   UserFinder
	logger  *zap.Logger
	metrics OutcomeRecorder
}

// NewAuthMiddleware constructs middleware. metrics may be nil.
func NewAuthMiddleware(tokens *TokenManager, users UserFinder, logger *zap.Logger, metrics OutcomeRecorder) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, logger: logger, metrics: metrics}
}

// Handle attaches the principal, if any, to the request context and
// continues the chain.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	ctx, _ := m.Authenticate(c.UserContext(), c.Get(fiber.HeaderAuthorization))
	c.SetUserContext(ctx)
	return c.Next()
}

// Authenticate evaluates an Authorization header value. On success the
// returned context carries the principal; otherwise ctx is returned as is.
func (m *AuthMiddleware) Authenticate(ctx context.Context, header string) (context.Context, Outcome) {
	outcome := OutcomeNoToken
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordAuthOutcome(string(outcome))
		}
	}()

	token, ok := bearerToken(header)
	if !ok {
		return ctx, outcome
	}

	claims, err := m.tokens.Decode(token, domain.TokenKindAccess)
	if err != nil {
		outcome = OutcomeInvalidToken
		m.logger.Debug("rejected bearer token", zap.Error(err))
		return ctx, outcome
	}
	userID, err := claims.UserID()
	if err != nil {
		outcome = OutcomeInvalidToken
		return ctx, outcome
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		outcome = OutcomeUnknownUser
		m.logger.Warn("token subject could not be resolved", zap.Int64("user_id", userID), zap.Error(err))
		return ctx, outcome
	}
	if !m.tokens.MatchesSubject(token, user.ID) {
		outcome = OutcomeInvalidToken
		return ctx, outcome
	}

	outcome = OutcomeAuthenticated
	return ContextWithPrincipal(ctx, Principal{UserID: user.ID, Role: user.Role}), outcome
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
