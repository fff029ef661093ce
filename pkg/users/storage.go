// Package users stores git-provider users in PostgreSQL.
package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

const userColumns = `id, provider, provider_internal_id, login, COALESCE(name, ''), COALESCE(email, ''),
	COALESCE(avatar_url, ''), COALESCE(access_token, ''), COALESCE(access_token_secret, ''),
	COALESCE(refresh_token, ''), allowed_accounts::text, created_at, updated_at, last_login_at`

// Storage implements auth.UserStore
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// NewStorage creates a new user storage
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db, now: time.Now}
}

var _ auth.UserStore = (*Storage)(nil)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	user := &auth.User{}
	var provider string
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &provider, &user.ProviderInternalID, &user.Login, &user.Name, &user.Email,
		&user.AvatarURL, &user.AccessToken, &user.AccessTokenSecret, &user.RefreshToken,
		&user.AllowedAccounts, &user.CreatedAt, &user.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	user.Provider = auth.Provider(provider)
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

// FindByProviderID looks up a user by provider and provider internal id
func (s *Storage) FindByProviderID(ctx context.Context, provider auth.Provider, externalID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE provider = $1 AND provider_internal_id = $2
	`, string(provider), externalID)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindByID looks up a user by id
func (s *Storage) FindByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Create inserts a user. A nil ID is replaced with a new one; zero timestamps
// default to now.
func (s *Storage) Create(ctx context.Context, user *auth.User) (*auth.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, provider, provider_internal_id, login, name, email, avatar_url,
			access_token, access_token_secret, refresh_token, allowed_accounts,
			created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14)
		RETURNING `+userColumns,
		user.ID, string(user.Provider), user.ProviderInternalID, user.Login,
		nullIfEmpty(user.Name), nullIfEmpty(user.Email), nullIfEmpty(user.AvatarURL),
		nullIfEmpty(user.AccessToken), nullIfEmpty(user.AccessTokenSecret), nullIfEmpty(user.RefreshToken),
		user.AllowedAccounts, user.CreatedAt, user.UpdatedAt, user.LastLoginAt,
	)

	created, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// Update applies patch to the user with the given id
func (s *Storage) Update(ctx context.Context, id uuid.UUID, patch auth.UserPatch) (*auth.User, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Login != nil {
		add("login", *patch.Login)
	}
	if patch.Name != nil {
		add("name", nullIfEmpty(*patch.Name))
	}
	if patch.Email != nil {
		add("email", nullIfEmpty(*patch.Email))
	}
	if patch.AvatarURL != nil {
		add("avatar_url", nullIfEmpty(*patch.AvatarURL))
	}
	if patch.AccessToken != nil {
		add("access_token", nullIfEmpty(*patch.AccessToken))
	}
	if patch.AccessTokenSecret != nil {
		add("access_token_secret", nullIfEmpty(*patch.AccessTokenSecret))
	}
	if patch.RefreshToken != nil {
		add("refresh_token", nullIfEmpty(*patch.RefreshToken))
	}
	if patch.AllowedAccounts != nil {
		args = append(args, *patch.AllowedAccounts)
		sets = append(sets, fmt.Sprintf("allowed_accounts = $%d::jsonb", len(args)))
	}
	if patch.LastLoginAt != nil {
		add("last_login_at", *patch.LastLoginAt)
	}
	add("updated_at", s.now())

	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE users
		SET %s
		WHERE id = $%d
		RETURNING %s`, strings.Join(sets, ", "), len(args), userColumns)

	updated, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, auth.NotFound(auth.ErrNotFound, "user not found")
	} else if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return updated, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
