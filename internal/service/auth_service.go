package service

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/spec-kit/meter-service/internal/auth"
	"github.com/spec-kit/meter-service/internal/config"
	"github.com/spec-kit/meter-service/internal/domain"
	"github.com/spec-kit/meter-service/internal/events"
	"github.com/spec-kit/meter-service/internal/repository"
	apperrors "github.com/spec-kit/meter-service/pkg/util/errorutil"
)

const minPasswordLength = 8

// ErrInvalidCredentials is wrapped by every login failure that is visible
// to the caller, whatever the underlying reason.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Reasons recorded on login_failed events.
const (
	reasonUnknownAccount = "unknown_account"
	reasonBadPassword    = "bad_password"
	reasonLocked         = "locked"
)

// AuthService coordinates registration, login, refresh and role changes.
type AuthService struct {
	users       repository.UserRepository
	attempts    repository.LoginAttemptRepository
	tokens      *auth.TokenManager
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	maxAttempts int64
	dummyHash   string
}

// AuthDependencies encapsulates collaborators of the auth service.
// LoginAttempts and Dispatcher are optional.
type AuthDependencies struct {
	UserRepo      repository.UserRepository
	LoginAttempts repository.LoginAttemptRepository
	Tokens        *auth.TokenManager
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) (*AuthService, error) {
	if deps.UserRepo == nil || deps.Tokens == nil {
		return nil, errors.New("auth service requires a user repository and a token manager")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	// Unknown accounts are verified against this hash so they cost the
	// same as a wrong password.
	dummy, err := auth.HashPassword("meter-service/unknown-account")
	if err != nil {
		return nil, err
	}
	return &AuthService{
		users:       deps.UserRepo,
		attempts:    deps.LoginAttempts,
		tokens:      deps.Tokens,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		maxAttempts: int64(cfg.LoginMaxAttempts),
		dummyHash:   dummy,
	}, nil
}

// Register creates a USER account and signs it in.
func (s *AuthService) Register(ctx context.Context, account, password string) (*domain.User, domain.TokenPair, error) {
	if err := validateCredentials(account, password); err != nil {
		return nil, domain.TokenPair{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	user := &domain.User{AccountNumber: account, PasswordHash: hash, Role: domain.RoleUser}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.TokenPair{}, apperrors.NewConflict("account number already registered", nil)
		}
		return nil, domain.TokenPair{}, mapRepositoryError(err)
	}

	pair, err := s.tokens.GenerateTokens(user.ID)
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	s.publish(ctx, events.NewEvent(events.EventUserRegistered, user.ID,
		events.UserRegisteredPayload{AccountNumber: user.AccountNumber}))
	return user, pair, nil
}

// Login verifies credentials and issues a token pair. Unknown accounts and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, account, password string) (*domain.User, domain.TokenPair, error) {
	attempt, allowed := s.reserveAttempt(ctx, account)
	if !allowed {
		s.publishLoginFailed(ctx, account, reasonLocked, attempt)
		return nil, domain.TokenPair{}, apperrors.NewTooManyRequests("too many failed login attempts")
	}

	user, err := s.users.GetByAccountNumber(ctx, account)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		auth.VerifyPassword(password, s.dummyHash)
		s.publishLoginFailed(ctx, account, reasonUnknownAccount, attempt)
		return nil, domain.TokenPair{}, invalidCredentials()
	case err != nil:
		return nil, domain.TokenPair{}, mapRepositoryError(err)
	}

	if !auth.VerifyPassword(password, user.PasswordHash) {
		s.publishLoginFailed(ctx, account, reasonBadPassword, attempt)
		return nil, domain.TokenPair{}, invalidCredentials()
	}

	pair, err := s.tokens.GenerateTokens(user.ID)
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	s.resetFailures(ctx, account)
	s.publish(ctx, events.NewEvent(events.EventLoginSucceeded, user.ID, nil))
	return user, pair, nil
}

// Refresh exchanges a refresh token for a brand-new pair. Any failure fails
// the whole exchange.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	claims, err := s.tokens.Decode(refreshToken, domain.TokenKindRefresh)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.Error(err))
		return domain.TokenPair{}, apperrors.NewUnauthorized("invalid refresh token")
	}
	userID, err := claims.UserID()
	if err != nil {
		return domain.TokenPair{}, apperrors.NewUnauthorized("invalid refresh token")
	}

	user, err := s.users.GetByID(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.TokenPair{}, apperrors.NewUnauthorized("invalid refresh token")
	case err != nil:
		return domain.TokenPair{}, mapRepositoryError(err)
	}
	if !s.tokens.MatchesSubject(refreshToken, user.ID) {
		return domain.TokenPair{}, apperrors.NewUnauthorized("invalid refresh token")
	}

	pair, err := s.tokens.GenerateTokens(user.ID)
	if err != nil {
		return domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	s.publish(ctx, events.NewEvent(events.EventTokensRefreshed, user.ID, nil))
	return pair, nil
}

// CurrentUser resolves the account of the request principal.
func (s *AuthService) CurrentUser(ctx context.Context) (*domain.User, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	user, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("authentication required")
		}
		return nil, mapRepositoryError(err)
	}
	return user, nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("password too short", map[string]any{"min_length": minPasswordLength})
	}
	if !auth.VerifyPassword(currentPassword, user.PasswordHash) {
		return invalidCredentials()
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return mapRepositoryError(err)
	}
	return nil
}

// PromoteToAdmin grants ADMIN to userID. Only admins may promote.
func (s *AuthService) PromoteToAdmin(ctx context.Context, actor auth.Principal, userID int64) (*domain.User, error) {
	if !actor.HasRole(domain.RoleAdmin) {
		return nil, apperrors.NewForbidden("access denied")
	}
	if err := s.users.UpdateRole(ctx, userID, domain.RoleAdmin); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return nil, mapRepositoryError(err)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	s.publish(ctx, events.NewEvent(events.EventUserPromoted, userID,
		events.UserPromotedPayload{ActorID: actor.UserID, NewRole: domain.RoleAdmin}))
	return user, nil
}

// reserveAttempt counts the attempt before the password is checked, so the
// atomic counter alone decides how many concurrent attempts may proceed.
// A successful login resets the counter. The store being down fails open.
func (s *AuthService) reserveAttempt(ctx context.Context, account string) (int64, bool) {
	if s.attempts == nil || s.maxAttempts <= 0 {
		return 0, true
	}
	// Locked accounts are turned away without extending the window.
	if failures, err := s.attempts.Failures(ctx, account); err == nil && failures >= s.maxAttempts {
		return failures, false
	}
	n, err := s.attempts.RecordFailure(ctx, account)
	if err != nil {
		s.logger.Warn("login attempt store unavailable", zap.Error(err))
		return 0, true
	}
	return n, n <= s.maxAttempts
}

func (s *AuthService) resetFailures(ctx context.Context, account string) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.Reset(ctx, account); err != nil {
		s.logger.Warn("reset login failures", zap.Error(err))
	}
}

func (s *AuthService) publishLoginFailed(ctx context.Context, account, reason string, failures int64) {
	s.publish(ctx, events.NewEvent(events.EventLoginFailed, 0, events.LoginFailedPayload{
		AccountNumber: account,
		Reason:        reason,
		Failures:      failures,
	}))
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish audit event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func validateCredentials(account, password string) error {
	details := map[string]any{}
	if !domain.ValidAccountNumber(account) {
		details["account_number"] = "must be 16 digits"
	}
	if len(password) < minPasswordLength {
		details["password"] = "must be at least 8 characters"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid registration", details)
	}
	return nil
}

func invalidCredentials() error {
	return &apperrors.DomainError{
		Code:       "UNAUTHORIZED",
		Message:    ErrInvalidCredentials.Error(),
		HTTPStatus: http.StatusUnauthorized,
		Err:        ErrInvalidCredentials,
	}
}

// mapRepositoryError turns pool exhaustion into 503 and everything else
// into an internal error.
func mapRepositoryError(err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return apperrors.NewUnavailable(err)
	}
	return apperrors.NewInternalError(err)
}
