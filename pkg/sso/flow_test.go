package sso

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
	"github.com/platinummonkey/warden/pkg/users/userstest"
)

type flowFixture struct {
	flow      *Flow
	registry  *memRegistry
	users     *userstest.Memory
	validator *stubValidator
	creds     *fakeCredentials
	cipher    *auth.TokenCipher
	codec     *session.Codec
	samlCodec *session.SAMLCodec
	metrics   *observability.Metrics
	cfg       *ProviderConfig
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	cipher, err := auth.NewTokenCipher(bytes.Repeat([]byte{'k'}, auth.TokenCipherKeySize))
	require.NoError(t, err)
	codec, err := session.NewCodec(session.Config{Secret: []byte("session-secret")}, cipher)
	require.NoError(t, err)
	samlCodec, err := session.NewSAMLCodec(session.Config{Secret: []byte("saml-secret")})
	require.NoError(t, err)

	f := &flowFixture{
		registry: newMemRegistry(),
		users:    userstest.NewMemory(),
		validator: &stubValidator{assertion: &Assertion{
			NameID: "jdoe",
			Email:  "jane@corp.example.com",
		}},
		creds:     &fakeCredentials{valid: true},
		cipher:    cipher,
		codec:     codec,
		samlCodec: samlCodec,
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
		cfg:       testProviderConfig(),
	}
	f.registry.configs[f.cfg.ID] = f.cfg
	f.registry.accounts[f.cfg.AccountID] = &Account{ID: f.cfg.AccountID, Provider: auth.ProviderGitHub, Login: "acme"}
	f.flow = NewFlow(f.registry, f.users, f.validator, f.creds, cipher, codec, samlCodec, FlowConfig{
		Logger:  observability.NewDiscardLogger(),
		Metrics: f.metrics,
	})
	return f
}

func (f *flowFixture) request() AssertionRequest {
	return AssertionRequest{ProviderConfigID: f.cfg.ID.String(), SAMLResponse: "base64-response"}
}

// seedLinked stores a git user and an identity linked to it
func (f *flowFixture) seedLinked(t *testing.T, provider auth.Provider) (*auth.User, *SAMLIdentity) {
	t.Helper()
	seal := func(s string) string {
		out, err := f.cipher.Encrypt(s)
		require.NoError(t, err)
		return out
	}
	user, err := f.users.Create(context.Background(), &auth.User{
		Provider:           provider,
		ProviderInternalID: "583231",
		Login:              "octocat",
		Email:              "octocat@example.com",
		AccessToken:        seal("stored-access"),
		RefreshToken:       seal("stored-refresh"),
		CreatedAt:          time.Now(),
	})
	require.NoError(t, err)
	identity, err := f.registry.CreateIdentity(context.Background(), &SAMLIdentity{
		ProviderConfigID: f.cfg.ID,
		ExternalID:       "jdoe",
		Email:            "jane@corp.example.com",
		LinkedUserID:     &user.ID,
	})
	require.NoError(t, err)
	return user, identity
}

func TestAuthenticate_NewIdentity(t *testing.T) {
	f := newFlowFixture(t)

	result, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, 1, f.registry.count())
	assert.Equal(t, "jdoe", result.Identity.ExternalID)
	assert.Equal(t, "jane@corp.example.com", result.Identity.Email)
	assert.False(t, result.Identity.Linked())
	assert.True(t, result.ClearGitSession)
	assert.Empty(t, result.GitToken)
	assert.Nil(t, result.LinkedUser)

	s, err := f.samlCodec.Verify(result.SAMLToken)
	require.NoError(t, err)
	assert.Equal(t, result.Identity.ID, s.SAMLIdentityID)
	assert.Equal(t, f.cfg.ID, s.ProviderConfigID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SAMLFlowsTotal.WithLabelValues("unlinked")))
}

func TestAuthenticate_ReusesIdentityAndRefreshesEmail(t *testing.T) {
	f := newFlowFixture(t)
	first, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)

	f.validator.assertion.Email = "jane.doe@corp.example.com"
	second, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, 1, f.registry.count())
	assert.Equal(t, first.Identity.ID, second.Identity.ID)
	assert.Equal(t, "jane.doe@corp.example.com", f.registry.identity(first.Identity.ID).Email)
}

func TestAuthenticate_ValidLink(t *testing.T) {
	f := newFlowFixture(t)
	user, identity := f.seedLinked(t, auth.ProviderGitHub)

	result, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, identity.ID, result.Identity.ID)
	require.NotNil(t, result.LinkedUser)
	assert.Equal(t, user.ID, result.LinkedUser.ID)
	assert.False(t, result.ClearGitSession)
	assert.Equal(t, []string{"stored-access"}, f.creds.checked)
	assert.Empty(t, f.creds.refreshCalls, "github tokens do not expire")

	gitUser, err := f.codec.Verify(result.GitToken)
	require.NoError(t, err)
	acct, ok := gitUser.Account(auth.ProviderGitHub)
	require.True(t, ok)
	assert.Equal(t, "octocat", acct.Nickname)
	assert.Equal(t, "stored-access", acct.AccessToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SAMLFlowsTotal.WithLabelValues("linked")))
}

func TestAuthenticate_RefreshesExpiringProviders(t *testing.T) {
	f := newFlowFixture(t)
	user, _ := f.seedLinked(t, auth.ProviderGitLab)
	f.creds.refreshed = &oauth2.Token{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"}

	result, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)
	require.NotNil(t, result.LinkedUser)

	assert.Equal(t, []string{"stored-refresh"}, f.creds.refreshCalls)
	assert.Equal(t, []string{"fresh-access"}, f.creds.checked)

	stored := f.users.Get(user.ID)
	access, err := f.cipher.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", access)
	refresh, err := f.cipher.Decrypt(stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh", refresh)
}

func TestAuthenticate_StaleLinkUnlinks(t *testing.T) {
	tests := []struct {
		name     string
		provider auth.Provider
		setup    func(f *flowFixture)
	}{
		{name: "rejected token", provider: auth.ProviderGitHub, setup: func(f *flowFixture) { f.creds.valid = false }},
		{name: "validation error", provider: auth.ProviderGitHub, setup: func(f *flowFixture) { f.creds.validErr = errors.New("timeout") }},
		{name: "refresh failure", provider: auth.ProviderBitbucket, setup: func(f *flowFixture) { f.creds.refreshErr = errors.New("invalid_grant") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlowFixture(t)
			user, identity := f.seedLinked(t, tt.provider)
			tt.setup(f)

			result, err := f.flow.Authenticate(context.Background(), f.request())
			require.NoError(t, err, "a stale link never fails the sign in")

			assert.False(t, result.Identity.Linked())
			assert.True(t, result.ClearGitSession)
			assert.Empty(t, result.GitToken)
			assert.NotEmpty(t, result.SAMLToken)

			stored := f.registry.identity(identity.ID)
			require.NotNil(t, stored, "identity is kept")
			assert.Nil(t, stored.LinkedUserID)
			assert.NotNil(t, f.users.Get(user.ID), "user is kept")
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SAMLUnlinksTotal))
		})
	}
}

func TestAuthenticate_LinkedUserMissing(t *testing.T) {
	f := newFlowFixture(t)
	missing := uuid.New()
	identity, err := f.registry.CreateIdentity(context.Background(), &SAMLIdentity{
		ProviderConfigID: f.cfg.ID,
		ExternalID:       "jdoe",
		LinkedUserID:     &missing,
	})
	require.NoError(t, err)

	result, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.ClearGitSession)
	assert.Nil(t, f.registry.identity(identity.ID).LinkedUserID)
}

func TestAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *flowFixture, req *AssertionRequest)
		code   string
		status int
	}{
		{
			name:   "missing config id",
			mutate: func(f *flowFixture, req *AssertionRequest) { req.ProviderConfigID = "" },
			code:   auth.ErrBadRequest,
			status: 400,
		},
		{
			name:   "malformed config id",
			mutate: func(f *flowFixture, req *AssertionRequest) { req.ProviderConfigID = "nope" },
			code:   auth.ErrSAMLProviderNotFound,
			status: 400,
		},
		{
			name:   "unknown config",
			mutate: func(f *flowFixture, req *AssertionRequest) { req.ProviderConfigID = uuid.New().String() },
			code:   auth.ErrSAMLProviderNotFound,
			status: 400,
		},
		{
			name:   "disabled config",
			mutate: func(f *flowFixture, req *AssertionRequest) { f.registry.configs[f.cfg.ID].Enabled = false },
			code:   auth.ErrSAMLProviderDisabled,
			status: 400,
		},
		{
			name: "invalid assertion",
			mutate: func(f *flowFixture, req *AssertionRequest) {
				f.validator.err = auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response has expired. Please sign in again.")
			},
			code:   auth.ErrSAMLAssertion,
			status: 400,
		},
		{
			name:   "account gone",
			mutate: func(f *flowFixture, req *AssertionRequest) { delete(f.registry.accounts, f.cfg.AccountID) },
			code:   auth.ErrSAMLAccountNotFound,
			status: 404,
		},
		{
			name: "permission denied",
			mutate: func(f *flowFixture, req *AssertionRequest) {
				f.flow.permissions = PermissionFunc(func(context.Context, Subject, Action, *Account) (bool, error) {
					return false, nil
				})
			},
			code:   auth.ErrSAMLPermissionDenied,
			status: 403,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlowFixture(t)
			req := f.request()
			tt.mutate(f, &req)

			_, err := f.flow.Authenticate(context.Background(), req)
			require.Error(t, err)
			ae, ok := auth.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, ae.Code)
			assert.Equal(t, tt.status, ae.Status)
			assert.True(t, ae.UserFacing)
			assert.Equal(t, 0, f.registry.count(), "no identity is written on failure")
		})
	}
}

func TestAuthenticate_ValidatorFailureIsInternal(t *testing.T) {
	f := newFlowFixture(t)
	f.validator.err = errors.New("xml: unexpected EOF")

	_, err := f.flow.Authenticate(context.Background(), f.request())
	require.Error(t, err)
	assert.False(t, auth.IsUserFacing(err))
}

func TestLoginURL(t *testing.T) {
	f := newFlowFixture(t)

	target, err := f.flow.LoginURL(context.Background(), f.cfg.ID.String(), "state")
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.com/sso?RelayState=state", target)

	_, err = f.flow.LoginURL(context.Background(), uuid.New().String(), "")
	assert.True(t, auth.HasCode(err, auth.ErrSAMLProviderNotFound))
}

func TestLinkAndUnlink(t *testing.T) {
	f := newFlowFixture(t)
	result, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)
	samlSession, err := f.samlCodec.Verify(result.SAMLToken)
	require.NoError(t, err)

	user, err := f.users.Create(context.Background(), &auth.User{
		Provider:           auth.ProviderGitHub,
		ProviderInternalID: "583231",
		Login:              "octocat",
	})
	require.NoError(t, err)
	gitUser := &auth.RequestUser{Provider: auth.ProviderGitHub, ProviderInternalID: "583231"}

	linked, err := f.flow.Link(context.Background(), samlSession, gitUser)
	require.NoError(t, err)
	require.NotNil(t, linked.LinkedUserID)
	assert.Equal(t, user.ID, *linked.LinkedUserID)

	unlinked, err := f.flow.Unlink(context.Background(), samlSession)
	require.NoError(t, err)
	assert.Nil(t, unlinked.LinkedUserID)
	assert.NotNil(t, f.registry.identity(result.Identity.ID))
}

func TestLink_Errors(t *testing.T) {
	f := newFlowFixture(t)
	result, err := f.flow.Authenticate(context.Background(), f.request())
	require.NoError(t, err)
	samlSession, err := f.samlCodec.Verify(result.SAMLToken)
	require.NoError(t, err)

	unknownUser := &auth.RequestUser{Provider: auth.ProviderGitHub, ProviderInternalID: "404"}
	_, err = f.flow.Link(context.Background(), samlSession, unknownUser)
	assert.True(t, auth.HasCode(err, auth.ErrNotFound))

	foreign := *samlSession
	foreign.ProviderConfigID = uuid.New()
	_, err = f.flow.Unlink(context.Background(), &foreign)
	assert.True(t, auth.HasCode(err, auth.ErrNotFound))
}
