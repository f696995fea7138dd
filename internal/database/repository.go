package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for health checks
func (r *Repository) DB() *DB {
	return r.db
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const userColumns = `id, display_name, email, invited_by, ip_address, user_agent, created_at, updated_at`

func scanUser(row rowScanner) (*types.User, error) {
	var user types.User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.InvitedBy,
		&user.IPAddress, &user.UserAgent, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// GetUser loads a user by id
func (r *Repository) GetUser(ctx context.Context, id string) (*types.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetOrCreateUser returns the user with id, creating it when missing. An
// empty id always creates a new user.
func (r *Repository) GetOrCreateUser(ctx context.Context, id, displayName, email, ipAddress, userAgent string) (*types.User, error) {
	if id != "" {
		user, err := r.GetUser(ctx, id)
		if err == nil {
			_, err = r.db.ExecContext(ctx, `
				UPDATE users SET updated_at = ?, user_agent = ?, ip_address = ? WHERE id = ?
			`, now(), userAgent, ipAddress, user.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to update user: %w", err)
			}
			return user, nil
		}
		if err != ErrNotFound {
			return nil, err
		}
	} else {
		id = newID()
	}

	ts := now()
	user := &types.User{
		ID:          id,
		DisplayName: strings.TrimSpace(displayName),
		Email:       strings.TrimSpace(email),
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.DisplayName, user.Email, user.InvitedBy, user.IPAddress, user.UserAgent,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}
