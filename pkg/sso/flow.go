package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
)

// CredentialClient validates and refreshes a linked user's provider token.
// Implementations must bound every call with a timeout.
type CredentialClient interface {
	IsValid(ctx context.Context, provider auth.Provider, accessToken, login, accessTokenSecret string) (bool, error)
	Refresh(ctx context.Context, provider auth.Provider, refreshToken string) (*oauth2.Token, error)
}

// FlowConfig configures a Flow
type FlowConfig struct {
	// Permissions defaults to ReadOnlyPolicy
	Permissions PermissionChecker

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Reporter observability.ErrorReporter
}

// Flow authenticates SAML assertions and reconciles the resulting identity
// with a linked git-provider user.
type Flow struct {
	registry    Registry
	users       auth.UserStore
	validator   AssertionValidator
	credentials CredentialClient
	cipher      *auth.TokenCipher
	codec       *session.Codec
	samlCodec   *session.SAMLCodec
	permissions PermissionChecker
	logger      *observability.Logger
	metrics     *observability.Metrics
	reporter    observability.ErrorReporter
	now         func() time.Time
}

// NewFlow creates a SAML authentication flow
func NewFlow(registry Registry, users auth.UserStore, validator AssertionValidator, credentials CredentialClient,
	cipher *auth.TokenCipher, codec *session.Codec, samlCodec *session.SAMLCodec, cfg FlowConfig) *Flow {
	if cfg.Permissions == nil {
		cfg.Permissions = ReadOnlyPolicy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = observability.NopReporter{}
	}
	return &Flow{
		registry:    registry,
		users:       users,
		validator:   validator,
		credentials: credentials,
		cipher:      cipher,
		codec:       codec,
		samlCodec:   samlCodec,
		permissions: cfg.Permissions,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		reporter:    cfg.Reporter,
		now:         time.Now,
	}
}

// AssertionRequest is one posted SAML response
type AssertionRequest struct {
	ProviderConfigID string
	SAMLResponse     string
	GitUser          *auth.RequestUser // current git session, if any
}

// Result is the outcome of an authenticated assertion. GitToken is only set
// when the identity is linked to a user whose credential is still valid.
type Result struct {
	Identity        *SAMLIdentity
	SAMLToken       string
	SAMLExpiresAt   time.Time
	LinkedUser      *auth.User
	GitToken        string
	GitExpiresAt    time.Time
	ClearGitSession bool
}

// Authenticate runs an assertion through provider resolution, identity
// resolution and link validation, and always issues a SAML-scoped session
// when it succeeds.
func (f *Flow) Authenticate(ctx context.Context, req AssertionRequest) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "sso.Authenticate", attribute.String("provider_config_id", req.ProviderConfigID))
	defer span.End()

	result, err := f.authenticate(ctx, req)
	if err != nil {
		f.metrics.RecordSAMLFlow("error")
		if !auth.IsUserFacing(err) {
			f.reporter.Report(ctx, err, map[string]interface{}{"provider_config_id": req.ProviderConfigID})
		}
		return nil, err
	}

	outcome := "unlinked"
	if result.LinkedUser != nil {
		outcome = "linked"
	}
	f.metrics.RecordSAMLFlow(outcome)
	f.metrics.RecordSessionMinted("saml")
	return result, nil
}

func (f *Flow) authenticate(ctx context.Context, req AssertionRequest) (*Result, error) {
	// PROVIDER_RESOLVED. The configuration holds the certificate the
	// assertion is verified against, so it is resolved first.
	cfg, err := f.resolveProvider(ctx, req.ProviderConfigID)
	if err != nil {
		return nil, err
	}

	// ASSERTION_RECEIVED
	assertion, err := f.validator.Validate(ctx, cfg, req.SAMLResponse)
	if err != nil {
		if auth.IsUserFacing(err) {
			return nil, err
		}
		return nil, fmt.Errorf("saml assertion validation failed: %w", err)
	}

	// IDENTITY_RESOLVED
	account, err := f.registry.FindAccount(ctx, cfg.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, auth.NotFound(auth.ErrSAMLAccountNotFound, "The account for this SSO configuration no longer exists.")
	}
	allowed, err := f.permissions.Can(ctx, Subject{Assertion: assertion, GitUser: req.GitUser}, ActionRead, account)
	if err != nil {
		return nil, fmt.Errorf("failed to check saml permission: %w", err)
	}
	if !allowed {
		return nil, auth.Forbidden(auth.ErrSAMLPermissionDenied, "You do not have permission to sign in to this account with SSO.")
	}

	identity, err := f.resolveIdentity(ctx, cfg, assertion)
	if err != nil {
		return nil, err
	}

	result := &Result{Identity: identity}
	logger := f.logger.WithFields(map[string]interface{}{
		"saml_identity_id":   identity.ID.String(),
		"provider_config_id": cfg.ID.String(),
	})

	if !identity.Linked() {
		// UNLINKED
		result.ClearGitSession = true
	} else {
		// LINKED_USER_VALIDATED
		user, fed, staleErr := f.validateLink(ctx, *identity.LinkedUserID)
		if staleErr != nil {
			logger.WithError(staleErr).Info("linked git credential is stale, unlinking")
			updated, err := f.registry.UpdateIdentity(ctx, identity.ID, IdentityPatch{Unlink: true})
			if err != nil {
				return nil, err
			}
			f.metrics.RecordSAMLUnlink()
			result.Identity = updated
			result.ClearGitSession = true
		} else {
			result.LinkedUser = user
			result.GitExpiresAt = f.codec.ExpiresAt()
			result.GitToken, err = f.codec.Mint([]auth.FederatedIdentity{*fed}, result.GitExpiresAt)
			if err != nil {
				return nil, err
			}
		}
	}

	// CREDENTIAL_ISSUED
	result.SAMLExpiresAt = f.now().Add(f.samlCodec.Lifetime())
	result.SAMLToken, err = f.samlCodec.Mint(session.SAMLSession{
		SAMLIdentityID:   result.Identity.ID,
		Email:            result.Identity.Email,
		ProviderConfigID: cfg.ID,
		ExpiresAt:        result.SAMLExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	logger.WithField("linked", result.LinkedUser != nil).Info("saml assertion accepted")
	return result, nil
}

// LoginURL builds the IdP redirect for a service-provider initiated login
func (f *Flow) LoginURL(ctx context.Context, providerConfigID, relayState string) (string, error) {
	cfg, err := f.resolveProvider(ctx, providerConfigID)
	if err != nil {
		return "", err
	}
	return f.validator.AuthURL(cfg, relayState)
}

func (f *Flow) resolveProvider(ctx context.Context, rawID string) (*ProviderConfig, error) {
	if rawID == "" {
		return nil, auth.BadRequest(auth.ErrBadRequest, "An SSO configuration id is required.")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, auth.BadRequest(auth.ErrSAMLProviderNotFound, "The SSO configuration could not be found.")
	}
	cfg, err := f.registry.FindProviderConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, auth.BadRequest(auth.ErrSAMLProviderNotFound, "The SSO configuration could not be found.")
	}
	if !cfg.Enabled {
		return nil, auth.BadRequest(auth.ErrSAMLProviderDisabled, "SSO is disabled for this account.")
	}
	return cfg, nil
}

// resolveIdentity finds or creates the identity for the assertion subject and
// keeps its email current.
func (f *Flow) resolveIdentity(ctx context.Context, cfg *ProviderConfig, assertion *Assertion) (*SAMLIdentity, error) {
	identity, err := f.registry.FindIdentity(ctx, cfg.ID, assertion.NameID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return f.registry.CreateIdentity(ctx, &SAMLIdentity{
			ProviderConfigID: cfg.ID,
			ExternalID:       assertion.NameID,
			Email:            assertion.Email,
		})
	}
	if assertion.Email != "" && assertion.Email != identity.Email {
		return f.registry.UpdateIdentity(ctx, identity.ID, IdentityPatch{Email: &assertion.Email})
	}
	return identity, nil
}

// validateLink loads the linked user and proves its provider credential
// still works, refreshing it first for providers whose tokens expire. Any
// failure is returned as an ACCESS_TOKEN_STALE error.
func (f *Flow) validateLink(ctx context.Context, userID uuid.UUID) (*auth.User, *auth.FederatedIdentity, error) {
	stale := func(msg string, cause error) (*auth.User, *auth.FederatedIdentity, error) {
		return nil, nil, auth.Internal(auth.ErrAccessTokenStale, msg, cause).WithContext("user_id", userID.String())
	}

	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		return stale("failed to load linked user", err)
	}
	if user == nil {
		return stale("linked user no longer exists", nil)
	}

	accessToken, err := f.open(user.AccessToken)
	if err != nil {
		return stale("stored access token is unreadable", err)
	}
	secret, err := f.open(user.AccessTokenSecret)
	if err != nil {
		return stale("stored access token secret is unreadable", err)
	}

	if user.Provider.TokenExpires() {
		refreshToken, err := f.open(user.RefreshToken)
		if err != nil {
			return stale("stored refresh token is unreadable", err)
		}
		token, err := f.credentials.Refresh(ctx, user.Provider, refreshToken)
		if err != nil {
			return stale("access token refresh failed", err)
		}
		accessToken = token.AccessToken
		if err := f.storeRefreshed(ctx, user, token); err != nil {
			return stale("failed to store refreshed token", err)
		}
	}

	valid, err := f.credentials.IsValid(ctx, user.Provider, accessToken, user.Login, secret)
	if err != nil {
		return stale("access token validation failed", err)
	}
	if !valid {
		return stale("access token was rejected by the provider", nil)
	}

	return user, &auth.FederatedIdentity{
		Provider:          user.Provider,
		ExternalID:        user.ProviderInternalID,
		Username:          user.Login,
		DisplayName:       user.Name,
		Email:             user.Email,
		AvatarURL:         user.AvatarURL,
		AccessToken:       accessToken,
		AccessTokenSecret: secret,
		CreatedAt:         user.CreatedAt,
	}, nil
}

func (f *Flow) storeRefreshed(ctx context.Context, user *auth.User, token *oauth2.Token) error {
	sealed, err := f.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return err
	}
	patch := auth.UserPatch{AccessToken: &sealed}
	if token.RefreshToken != "" {
		refresh, err := f.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return err
		}
		patch.RefreshToken = &refresh
	}
	updated, err := f.users.Update(ctx, user.ID, patch)
	if err != nil {
		return err
	}
	*user = *updated
	return nil
}

func (f *Flow) open(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	return f.cipher.Decrypt(ciphertext)
}

// Link attaches the SAML identity behind samlSession to the git user behind
// gitUser.
func (f *Flow) Link(ctx context.Context, samlSession *session.SAMLSession, gitUser *auth.RequestUser) (*SAMLIdentity, error) {
	identity, err := f.sessionIdentity(ctx, samlSession)
	if err != nil {
		return nil, err
	}
	user, err := f.users.FindByProviderID(ctx, gitUser.Provider, gitUser.ProviderInternalID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.NotFound(auth.ErrNotFound, "Your git account is not registered. Sign in with your git provider first.")
	}

	linked, err := f.registry.UpdateIdentity(ctx, identity.ID, IdentityPatch{LinkedUserID: &user.ID})
	if err != nil {
		return nil, err
	}
	f.logger.WithFields(map[string]interface{}{
		"saml_identity_id": identity.ID.String(),
		"user_id":          user.ID.String(),
	}).Info("saml identity linked")
	return linked, nil
}

// Unlink clears the link of the SAML identity behind samlSession. The
// identity itself is kept.
func (f *Flow) Unlink(ctx context.Context, samlSession *session.SAMLSession) (*SAMLIdentity, error) {
	identity, err := f.sessionIdentity(ctx, samlSession)
	if err != nil {
		return nil, err
	}
	unlinked, err := f.registry.UpdateIdentity(ctx, identity.ID, IdentityPatch{Unlink: true})
	if err != nil {
		return nil, err
	}
	f.metrics.RecordSAMLUnlink()
	f.logger.WithField("saml_identity_id", identity.ID.String()).Info("saml identity unlinked")
	return unlinked, nil
}

func (f *Flow) sessionIdentity(ctx context.Context, samlSession *session.SAMLSession) (*SAMLIdentity, error) {
	identity, err := f.registry.FindIdentityByID(ctx, samlSession.SAMLIdentityID)
	if err != nil {
		return nil, err
	}
	if identity == nil || identity.ProviderConfigID != samlSession.ProviderConfigID {
		return nil, auth.NotFound(auth.ErrNotFound, "The SAML identity for this session no longer exists.")
	}
	return identity, nil
}
