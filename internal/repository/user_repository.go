package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spec-kit/meter-service/internal/domain"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrConflict is returned when the account number is already registered.
	ErrConflict = errors.New("account number already registered")
	// ErrUnavailable is returned when no pooled connection could be checked
	// out. It is never conflated with ErrNotFound.
	ErrUnavailable = errors.New("user store unavailable")
)

// ConnSource hands out exclusively owned connections.
type ConnSource interface {
	Acquire() (*sql.Conn, error)
	Release(conn *sql.Conn) error
}

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByAccountNumber(ctx context.Context, account string) (*domain.User, error)
	UpdateRole(ctx context.Context, id int64, role domain.Role) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

type userRepository struct {
	conns ConnSource
}

// NewUserRepository returns a Postgres-backed implementation. Every call
// checks out one connection, runs one statement and returns the connection.
func NewUserRepository(conns ConnSource) UserRepository {
	return &userRepository{conns: conns}
}

func (r *userRepository) withConn(fn func(conn *sql.Conn) error) error {
	conn, err := r.conns.Acquire()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer r.conns.Release(conn) //nolint:errcheck
	return fn(conn)
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (account_number, password_hash, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_number) DO NOTHING
        RETURNING id, created_at`

	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	return r.withConn(func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, query,
			user.AccountNumber,
			user.PasswordHash,
			string(user.Role),
		).Scan(&user.ID, &user.CreatedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrConflict
		case err != nil:
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `
        SELECT id, account_number, password_hash, role, created_at
        FROM users WHERE id=$1`

	return r.getOne(ctx, query, id)
}

func (r *userRepository) GetByAccountNumber(ctx context.Context, account string) (*domain.User, error) {
	const query = `
        SELECT id, account_number, password_hash, role, created_at
        FROM users WHERE account_number=$1`

	return r.getOne(ctx, query, account)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	err := r.withConn(func(conn *sql.Conn) error {
		var role string
		err := conn.QueryRowContext(ctx, query, arg).Scan(
			&user.ID,
			&user.AccountNumber,
			&user.PasswordHash,
			&role,
			&user.CreatedAt,
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("db error: %w", err)
		}
		user.Role = domain.Role(role)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpdateRole(ctx context.Context, id int64, role domain.Role) error {
	const query = `UPDATE users SET role=$1 WHERE id=$2`

	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	return r.execOne(ctx, query, string(role), id)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	const query = `UPDATE users SET password_hash=$1 WHERE id=$2`

	if passwordHash == "" {
		return errors.New("empty password hash")
	}
	return r.execOne(ctx, query, passwordHash, id)
}

// execOne runs an update that must touch exactly one row.
func (r *userRepository) execOne(ctx context.Context, query string, args ...any) error {
	return r.withConn(func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
