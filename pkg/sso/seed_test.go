package sso

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
)

const seedConfigID = "0b6f1a4e-2c1d-4f7e-9a51-7f3e2d9c8b10"

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "idp.pem"), []byte(testCertificate), 0o600))
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed_CertificateFile(t *testing.T) {
	path := writeSeed(t, `
accounts:
  - id: acct-1
    provider: github
    login: acme
    saml:
      - id: `+seedConfigID+`
        enabled: true
        entity_id: https://idp.example.com
        sso_url: https://idp.example.com/sso
        certificate_file: idp.pem
        email_attribute: mail
`)

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Accounts, 1)
	acct := seed.Accounts[0]
	assert.Equal(t, auth.ProviderGitHub, acct.Provider)
	require.Len(t, acct.SAML, 1)
	assert.Equal(t, testCertificate, acct.SAML[0].Certificate)
	assert.Equal(t, "mail", acct.SAML[0].EmailAttribute)
}

func TestLoadSeed_MissingCertificateFile(t *testing.T) {
	path := writeSeed(t, `
accounts:
  - id: acct-1
    provider: github
    login: acme
    saml:
      - id: `+seedConfigID+`
        entity_id: https://idp.example.com
        sso_url: https://idp.example.com/sso
        certificate_file: missing.pem
`)

	_, err := LoadSeed(path)
	assert.Error(t, err)
}

func TestSeed_Validate(t *testing.T) {
	valid := func() SeedProvider {
		return SeedProvider{
			ID:          seedConfigID,
			EntityID:    "https://idp.example.com",
			SSOURL:      "https://idp.example.com/sso",
			Certificate: testCertificate,
		}
	}

	tests := []struct {
		name    string
		mutate  func(acct *SeedAccount)
		wantErr string
	}{
		{name: "valid", mutate: func(*SeedAccount) {}},
		{name: "missing login", mutate: func(a *SeedAccount) { a.Login = "" }, wantErr: "id and login"},
		{name: "unknown provider", mutate: func(a *SeedAccount) { a.Provider = "gitea" }, wantErr: "unknown provider"},
		{name: "bad id", mutate: func(a *SeedAccount) { a.SAML[0].ID = "idp-1" }, wantErr: "not a UUID"},
		{name: "plain http sso url", mutate: func(a *SeedAccount) { a.SAML[0].SSOURL = "http://idp.example.com/sso" }, wantErr: "https sso_url"},
		{name: "duplicate provider", mutate: func(a *SeedAccount) { a.SAML = append(a.SAML, a.SAML[0]) }, wantErr: "declared twice"},
		{name: "not pem", mutate: func(a *SeedAccount) { a.SAML[0].Certificate = "not a certificate" }, wantErr: errCertificatePEM.Error()},
		{
			name: "garbage certificate",
			mutate: func(a *SeedAccount) {
				a.SAML[0].Certificate = "-----BEGIN CERTIFICATE-----\nZ2FyYmFnZQ==\n-----END CERTIFICATE-----\n"
			},
			wantErr: errCertificateParse.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := SeedAccount{ID: "acct-1", Provider: auth.ProviderGitLab, Login: "acme", SAML: []SeedProvider{valid()}}
			tt.mutate(&acct)
			err := (&Seed{Accounts: []SeedAccount{acct}}).Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStorage_ApplySeed(t *testing.T) {
	s, mock, now := setupStorage(t)
	seed := &Seed{Accounts: []SeedAccount{{
		ID:       "acct-1",
		Provider: auth.ProviderBitbucket,
		Login:    "acme",
		SAML: []SeedProvider{{
			ID:          seedConfigID,
			Enabled:     true,
			EntityID:    "https://idp.example.com",
			SSOURL:      "https://idp.example.com/sso",
			Certificate: testCertificate,
		}},
	}}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").
		WithArgs("acct-1", "bitbucket", "acme", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO saml_provider_configs").
		WithArgs(sqlmock.AnyArg(), "acct-1", true, "https://idp.example.com", "https://idp.example.com/sso",
			testCertificate, sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	written, err := s.ApplySeed(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ApplySeed_RollsBackOnFailure(t *testing.T) {
	s, mock, _ := setupStorage(t)
	seed := &Seed{Accounts: []SeedAccount{{ID: "acct-1", Provider: auth.ProviderGitHub, Login: "acme"}}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.ApplySeed(context.Background(), seed)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
