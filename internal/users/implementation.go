package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/time/rate"
)

// service implements the Service interface on top of Postgres.
type service struct {
	db          *sqlx.DB
	rateLimiter *rate.Limiter
}

// NewService creates a new account service instance.
func NewService(db *sqlx.DB) Service {
	return &service{
		db:          db,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute), 5), // 5 registrations per minute
	}
}

// Register creates a new user with an Argon2id-hashed password.
func (s *service) Register(ctx context.Context, name, email, password string) (*User, error) {
	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	user := &User{Name: name, Email: email}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must have at least 8 characters", ErrInvalidUser)
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = passwordHash
	user.Salt = salt

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, salt)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Name, user.Email, user.PasswordHash, user.Salt).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

// FindUserByID retrieves a user by id. This is the lookup the lending
// workflow uses to stamp records and authorize returns.
func (s *service) FindUserByID(ctx context.Context, id int64) (*User, error) {
	user := &User{}
	err := s.db.GetContext(ctx, user, `
		SELECT id, name, email, password_hash, salt, created_at
		FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
