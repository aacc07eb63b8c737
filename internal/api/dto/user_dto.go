package dto

import (
	"time"

	"github.com/spec-kit/meter-service/internal/domain"
)

// CredentialsRequest payload for registration and login.
type CredentialsRequest struct {
	AccountNumber string `json:"account_number"`
	Password      string `json:"password"`
}

// RefreshRequest payload for the token exchange.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest payload for password changes.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// RoleUpdateRequest payload for admin role changes.
type RoleUpdateRequest struct {
	Role domain.Role `json:"role"`
}

// UserResponse is the public view of an account. The password hash never
// leaves the service.
type UserResponse struct {
	ID            int64       `json:"id"`
	AccountNumber string      `json:"account_number"`
	Role          domain.Role `json:"role"`
	CreatedAt     time.Time   `json:"created_at"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// NewUserResponse converts a domain user.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		AccountNumber: u.AccountNumber,
		Role:          u.Role,
		CreatedAt:     u.CreatedAt,
	}
}

// NewAuthResponse converts a token pair.
func NewAuthResponse(pair domain.TokenPair) AuthResponse {
	return AuthResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		TokenType:        "Bearer",
	}
}
