package domain

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// AccountNumberLength is the fixed length of a personal account number.
const AccountNumberLength = 16

// User is the account that submits meter readings.
type User struct {
	ID            int64
	AccountNumber string
	PasswordHash  string
	Role          Role
	CreatedAt     time.Time
}

// ValidAccountNumber reports whether account is a fixed-length numeric string.
func ValidAccountNumber(account string) bool {
	if len(account) != AccountNumberLength {
		return false
	}
	for i := 0; i < len(account); i++ {
		if account[i] < '0' || account[i] > '9' {
			return false
		}
	}
	return true
}
