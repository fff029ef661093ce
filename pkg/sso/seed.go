package sso

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Seed declares accounts and their IdP configurations to provision at
// startup. Applying a seed is idempotent.
type Seed struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// SeedAccount is one organizational account
type SeedAccount struct {
	ID       string         `yaml:"id"`
	Provider auth.Provider  `yaml:"provider"`
	Login    string         `yaml:"login"`
	SAML     []SeedProvider `yaml:"saml"`
}

// SeedProvider is one IdP configuration. The certificate is given inline or
// as a file path relative to the seed file.
type SeedProvider struct {
	ID              string `yaml:"id"`
	Enabled         bool   `yaml:"enabled"`
	EntityID        string `yaml:"entity_id"`
	SSOURL          string `yaml:"sso_url"`
	Certificate     string `yaml:"certificate"`
	CertificateFile string `yaml:"certificate_file"`
	Audience        string `yaml:"audience"`
	EmailAttribute  string `yaml:"email_attribute"`
}

// LoadSeed reads and validates a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	dir := filepath.Dir(path)
	for i := range seed.Accounts {
		for j := range seed.Accounts[i].SAML {
			p := &seed.Accounts[i].SAML[j]
			if p.Certificate != "" || p.CertificateFile == "" {
				continue
			}
			certPath := p.CertificateFile
			if !filepath.IsAbs(certPath) {
				certPath = filepath.Join(dir, certPath)
			}
			pemBytes, err := os.ReadFile(certPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read certificate for %s: %w", p.ID, err)
			}
			p.Certificate = string(pemBytes)
		}
	}

	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks ids, providers, URLs and certificates
func (s *Seed) Validate() error {
	seen := make(map[string]bool)
	for _, acct := range s.Accounts {
		if acct.ID == "" || acct.Login == "" {
			return fmt.Errorf("seed account requires id and login")
		}
		if _, err := auth.ParseProvider(string(acct.Provider)); err != nil {
			return fmt.Errorf("seed account %s: %w", acct.ID, err)
		}
		for _, p := range acct.SAML {
			if _, err := uuid.Parse(p.ID); err != nil {
				return fmt.Errorf("seed account %s: saml provider id %q is not a UUID", acct.ID, p.ID)
			}
			if seen[p.ID] {
				return fmt.Errorf("saml provider %s is declared twice", p.ID)
			}
			seen[p.ID] = true
			if p.EntityID == "" || !strings.HasPrefix(p.SSOURL, "https://") {
				return fmt.Errorf("saml provider %s requires entity_id and an https sso_url", p.ID)
			}
			block, _ := pem.Decode([]byte(p.Certificate))
			if block == nil {
				return fmt.Errorf("saml provider %s: %w", p.ID, errCertificatePEM)
			}
			if _, err := x509.ParseCertificate(block.Bytes); err != nil {
				return fmt.Errorf("saml provider %s: %w: %v", p.ID, errCertificateParse, err)
			}
		}
	}
	return nil
}

// ApplySeed upserts every account and provider configuration in one
// transaction and returns the number of provider configurations written.
func (s *Storage) ApplySeed(ctx context.Context, seed *Seed) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	written := 0
	for _, acct := range seed.Accounts {
		provider, _ := auth.ParseProvider(string(acct.Provider))
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, provider, login, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET provider = EXCLUDED.provider, login = EXCLUDED.login
		`, acct.ID, string(provider), acct.Login, now); err != nil {
			return 0, fmt.Errorf("failed to seed account %s: %w", acct.ID, err)
		}

		for _, p := range acct.SAML {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO saml_provider_configs (
					id, account_id, enabled, entity_id, sso_url, certificate, audience, email_attribute,
					created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
				ON CONFLICT (id) DO UPDATE SET
					account_id = EXCLUDED.account_id,
					enabled = EXCLUDED.enabled,
					entity_id = EXCLUDED.entity_id,
					sso_url = EXCLUDED.sso_url,
					certificate = EXCLUDED.certificate,
					audience = EXCLUDED.audience,
					email_attribute = EXCLUDED.email_attribute,
					updated_at = EXCLUDED.updated_at
			`, uuid.MustParse(p.ID), acct.ID, p.Enabled, p.EntityID, p.SSOURL, p.Certificate,
				nullIfEmpty(p.Audience), nullIfEmpty(p.EmailAttribute), now); err != nil {
				return 0, fmt.Errorf("failed to seed saml provider %s: %w", p.ID, err)
			}
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed: %w", err)
	}
	return written, nil
}
