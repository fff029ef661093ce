package users

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
)

var userRowColumns = []string{
	"id", "provider", "provider_internal_id", "login", "name", "email", "avatar_url",
	"access_token", "access_token_secret", "refresh_token", "allowed_accounts",
	"created_at", "updated_at", "last_login_at",
}

func setupStorage(t *testing.T) (*Storage, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStorage(db), mock, func() { db.Close() }
}

func TestStorage_FindByProviderID(t *testing.T) {
	s, mock, cleanup := setupStorage(t)
	defer cleanup()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM users WHERE provider = \\$1 AND provider_internal_id = \\$2").
		WithArgs("github", "583231").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			id.String(), "github", "583231", "octocat", "The Octocat", "octocat@example.com", "",
			"enc-token", "", "", `{"1":{"login":"acme"}}`, now, now, now,
		))

	user, err := s.FindByProviderID(context.Background(), auth.ProviderGitHub, "583231")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, auth.ProviderGitHub, user.Provider)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "enc-token", user.AccessToken)
	assert.True(t, user.AllowedAccounts.Valid)
	require.NotNil(t, user.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_FindByProviderID_NotFound(t *testing.T) {
	s, mock, cleanup := setupStorage(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("gitlab", "42").
		WillReturnError(sql.ErrNoRows)

	user, err := s.FindByProviderID(context.Background(), auth.ProviderGitLab, "42")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestStorage_FindByID_Error(t *testing.T) {
	s, mock, cleanup := setupStorage(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.FindByID(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStorage_Create(t *testing.T) {
	s, mock, cleanup := setupStorage(t)
	defer cleanup()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "gitlab", "42", "lab-user",
			sql.NullString{String: "Lab User", Valid: true}, sql.NullString{}, sql.NullString{},
			sql.NullString{String: "enc", Valid: true}, sql.NullString{}, sql.NullString{String: "enc-refresh", Valid: true},
			sql.NullString{}, now, now, &now).
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			uuid.New().String(), "gitlab", "42", "lab-user", "Lab User", "", "",
			"enc", "", "enc-refresh", nil, now, now, now,
		))

	user, err := s.Create(context.Background(), &auth.User{
		Provider:           auth.ProviderGitLab,
		ProviderInternalID: "42",
		Login:              "lab-user",
		Name:               "Lab User",
		AccessToken:        "enc",
		RefreshToken:       "enc-refresh",
		LastLoginAt:        &now,
	})
	require.NoError(t, err)
	assert.Equal(t, "lab-user", user.Login)
	assert.False(t, user.AllowedAccounts.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Update(t *testing.T) {
	s, mock, cleanup := setupStorage(t)
	defer cleanup()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }
	id := uuid.New()
	mirror := sql.NullString{String: `{}`, Valid: true}

	mock.ExpectQuery("UPDATE users SET login = \\$1, access_token = \\$2, allowed_accounts = \\$3::jsonb, updated_at = \\$4 WHERE id = \\$5").
		WithArgs("octocat", sql.NullString{String: "enc", Valid: true}, mirror, now, id).
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			id.String(), "github", "1", "octocat", "", "", "", "enc", "", "", `{}`, now, now, nil,
		))

	user, err := s.Update(context.Background(), id, auth.UserPatch{
		Login:           auth.StringPtr("octocat"),
		AccessToken:     auth.StringPtr("enc"),
		AllowedAccounts: &mirror,
	})
	require.NoError(t, err)
	assert.Equal(t, `{}`, user.AllowedAccounts.String)
	assert.Nil(t, user.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Update_NotFound(t *testing.T) {
	s, mock, cleanup := setupStorage(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery("UPDATE users").WillReturnError(sql.ErrNoRows)

	_, err := s.Update(context.Background(), id, auth.UserPatch{Name: auth.StringPtr("x")})
	require.Error(t, err)
	assert.True(t, auth.HasCode(err, auth.ErrNotFound))
}
