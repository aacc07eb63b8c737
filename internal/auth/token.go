package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/spec-kit/meter-service/internal/domain"
)

const (
	defaultIssuer = "meter-service"
	signingKeyLen = 32
	keyInfo       = "meter-service/token-signing/v1"
)

var (
	// ErrInvalidToken indicates the token failed validation. The underlying
	// cause stays reachable through errors.Is (e.g. jwt.ErrTokenExpired).
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenKind is wrapped when an access token is presented where a
	// refresh token is expected, or vice versa.
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// TokenConfig configures the TokenManager.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithClock replaces the wall clock used for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) {
		if now != nil {
			tm.now = now
		}
	}
}

// Claims describes the JWT payload.
type Claims struct {
	Kind domain.TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed subject %q", c.Subject)
	}
	return id, nil
}

// IssuedToken is a signed token together with its expiry.
type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenManager issues and validates stateless HS256 tokens. It holds no
// mutable state after construction.
type TokenManager struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewTokenManager derives the signing key from cfg.Secret and builds a manager.
func NewTokenManager(cfg TokenConfig, opts ...TokenOption) (*TokenManager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}

	key, err := deriveSigningKey(cfg.Secret)
	if err != nil {
		return nil, err
	}

	tm := &TokenManager{
		key:        key,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	tm.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(func() time.Time { return tm.now() }),
	)
	return tm, nil
}

func deriveSigningKey(secret string) ([]byte, error) {
	key := make([]byte, signingKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// IssueAccess signs a short-lived access token for userID.
func (tm *TokenManager) IssueAccess(userID int64) (IssuedToken, error) {
	return tm.issue(userID, domain.TokenKindAccess, tm.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for userID.
func (tm *TokenManager) IssueRefresh(userID int64) (IssuedToken, error) {
	return tm.issue(userID, domain.TokenKindRefresh, tm.refreshTTL)
}

// GenerateTokens issues a fresh access/refresh pair. Either both tokens are
// returned or an error.
func (tm *TokenManager) GenerateTokens(userID int64) (domain.TokenPair, error) {
	access, err := tm.IssueAccess(userID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := tm.IssueRefresh(userID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:      access.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (tm *TokenManager) issue(userID int64, kind domain.TokenKind, ttl time.Duration) (IssuedToken, error) {
	if userID <= 0 {
		return IssuedToken{}, fmt.Errorf("issue %s token: invalid user id %d", kind, userID)
	}
	now := tm.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tm.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.key)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Decode verifies signature, expiry and issuer before returning the claims.
// A non-empty kind must match the token's kind.
func (tm *TokenManager) Decode(token string, kind domain.TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := tm.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return tm.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	switch {
	case claims.Kind != domain.TokenKindAccess && claims.Kind != domain.TokenKindRefresh:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, claims.Kind)
	case kind != "" && claims.Kind != kind:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrWrongTokenKind)
	}
	return claims, nil
}

// Validate reports whether token carries a valid signature and has not expired.
func (tm *TokenManager) Validate(token string) bool {
	_, err := tm.Decode(token, "")
	return err == nil
}

// SubjectOf returns the user id of a verified token.
func (tm *TokenManager) SubjectOf(token string) (int64, error) {
	claims, err := tm.Decode(token, "")
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}

// MatchesSubject reports whether token is valid and was issued for userID.
func (tm *TokenManager) MatchesSubject(token string, userID int64) bool {
	subject, err := tm.SubjectOf(token)
	return err == nil && subject == userID
}
