package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Storage is the PostgreSQL Registry
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// NewStorage creates a new SSO storage
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db, now: time.Now}
}

// FindProviderConfig retrieves an IdP configuration by id
func (s *Storage) FindProviderConfig(ctx context.Context, id uuid.UUID) (*ProviderConfig, error) {
	cfg := &ProviderConfig{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, enabled, entity_id, sso_url, certificate,
		       COALESCE(audience, ''), COALESCE(email_attribute, ''), created_at, updated_at
		FROM saml_provider_configs WHERE id = $1
	`, id).Scan(&cfg.ID, &cfg.AccountID, &cfg.Enabled, &cfg.EntityID, &cfg.SSOURL, &cfg.Certificate,
		&cfg.Audience, &cfg.EmailAttribute, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saml provider config: %w", err)
	}
	return cfg, nil
}

// CreateProviderConfig stores a new IdP configuration
func (s *Storage) CreateProviderConfig(ctx context.Context, cfg *ProviderConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := s.now()
	cfg.CreatedAt, cfg.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saml_provider_configs (
			id, account_id, enabled, entity_id, sso_url, certificate, audience, email_attribute,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, cfg.ID, cfg.AccountID, cfg.Enabled, cfg.EntityID, cfg.SSOURL, cfg.Certificate,
		nullIfEmpty(cfg.Audience), nullIfEmpty(cfg.EmailAttribute), cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create saml provider config: %w", err)
	}
	return nil
}

// FindAccount retrieves an account by id
func (s *Storage) FindAccount(ctx context.Context, id string) (*Account, error) {
	acct := &Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, login, created_at FROM accounts WHERE id = $1
	`, id).Scan(&acct.ID, &acct.Provider, &acct.Login, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

const identityColumns = `id, provider_config_id, external_id, COALESCE(email, ''), linked_user_id, created_at, updated_at`

func scanIdentity(row interface{ Scan(...interface{}) error }) (*SAMLIdentity, error) {
	identity := &SAMLIdentity{}
	var linked uuid.NullUUID
	if err := row.Scan(&identity.ID, &identity.ProviderConfigID, &identity.ExternalID, &identity.Email,
		&linked, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	if linked.Valid {
		id := linked.UUID
		identity.LinkedUserID = &id
	}
	return identity, nil
}

// FindIdentity retrieves the identity for an assertion subject
func (s *Storage) FindIdentity(ctx context.Context, providerConfigID uuid.UUID, externalID string) (*SAMLIdentity, error) {
	identity, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM saml_identities WHERE provider_config_id = $1 AND external_id = $2`,
		providerConfigID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saml identity: %w", err)
	}
	return identity, nil
}

// FindIdentityByID retrieves an identity by id
func (s *Storage) FindIdentityByID(ctx context.Context, id uuid.UUID) (*SAMLIdentity, error) {
	identity, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM saml_identities WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saml identity: %w", err)
	}
	return identity, nil
}

// CreateIdentity stores a new identity
func (s *Storage) CreateIdentity(ctx context.Context, identity *SAMLIdentity) (*SAMLIdentity, error) {
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := s.now()
	var linked uuid.NullUUID
	if identity.LinkedUserID != nil {
		linked = uuid.NullUUID{UUID: *identity.LinkedUserID, Valid: true}
	}
	created, err := scanIdentity(s.db.QueryRowContext(ctx, `
		INSERT INTO saml_identities (id, provider_config_id, external_id, email, linked_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+identityColumns,
		identity.ID, identity.ProviderConfigID, identity.ExternalID, nullIfEmpty(identity.Email), linked, now))
	if err != nil {
		return nil, fmt.Errorf("failed to create saml identity: %w", err)
	}
	return created, nil
}

// UpdateIdentity applies patch. Unlinking never deletes the identity.
func (s *Storage) UpdateIdentity(ctx context.Context, id uuid.UUID, patch IdentityPatch) (*SAMLIdentity, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Email != nil {
		add("email", nullIfEmpty(*patch.Email))
	}
	switch {
	case patch.Unlink:
		add("linked_user_id", uuid.NullUUID{})
	case patch.LinkedUserID != nil:
		add("linked_user_id", uuid.NullUUID{UUID: *patch.LinkedUserID, Valid: true})
	}
	add("updated_at", s.now())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE saml_identities SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), identityColumns)
	updated, err := scanIdentity(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.NotFound(auth.ErrNotFound, "saml identity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update saml identity: %w", err)
	}
	return updated, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
