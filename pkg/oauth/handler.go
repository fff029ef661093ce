package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
)

// Renewer recomputes a user's authorization cache entry
type Renewer interface {
	Renew(ctx context.Context, user *auth.RequestUser) error
}

// Spawner starts background work the caller does not wait for
type Spawner interface {
	Go(ctx context.Context, taskName string, fn func(context.Context) error)
}

// Config configures a Handler
type Config struct {
	// AllowedEmailDomains restricts logins to these email domains. Empty
	// allows every login, with or without an email.
	AllowedEmailDomains []string

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Reporter observability.ErrorReporter
}

// Handler runs the callback state machine
type Handler struct {
	users    auth.UserStore
	cipher   *auth.TokenCipher
	codec    *session.Codec
	renewer  Renewer
	spawner  Spawner
	domains  []string
	logger   *observability.Logger
	metrics  *observability.Metrics
	reporter observability.ErrorReporter
	now      func() time.Time
}

// NewHandler creates a callback handler
func NewHandler(users auth.UserStore, cipher *auth.TokenCipher, codec *session.Codec, renewer Renewer, spawner Spawner, cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = observability.NopReporter{}
	}
	return &Handler{
		users:    users,
		cipher:   cipher,
		codec:    codec,
		renewer:  renewer,
		spawner:  spawner,
		domains:  cfg.AllowedEmailDomains,
		logger:   logger,
		metrics:  cfg.Metrics,
		reporter: reporter,
		now:      time.Now,
	}
}

// Complete processes one provider callback and returns a signed session.
// Authorization cache renewal is started in the background and may still be
// running when Complete returns.
func (h *Handler) Complete(ctx context.Context, result CallbackResult) (*Login, error) {
	ctx, span := observability.StartSpan(ctx, "oauth.Complete", attribute.String("provider", string(result.Provider)))
	defer span.End()

	login, err := h.complete(ctx, result)
	if err != nil {
		code := auth.ErrOAuthInternal
		if authErr, ok := auth.AsError(err); ok {
			code = authErr.Code
		}
		h.metrics.RecordOAuthCallback(string(result.Provider), code)
		if !auth.IsUserFacing(err) {
			h.reporter.Report(ctx, err, map[string]interface{}{"provider": string(result.Provider)})
		}
		return nil, err
	}

	h.metrics.RecordOAuthCallback(string(result.Provider), "success")
	h.metrics.RecordSessionMinted("git")
	return login, nil
}

func (h *Handler) complete(ctx context.Context, result CallbackResult) (*Login, error) {
	// RECEIVED
	if result.Err != nil || result.Profile == nil {
		h.logger.WithField("provider", string(result.Provider)).WithError(result.Err).Info("provider callback failed")
		return nil, auth.Unauthorized(auth.ErrOAuthProvider, "the provider did not authorize the login")
	}
	profile := result.Profile

	// EMAIL_CHECKED
	email := profile.ResolveEmail(result.Provider)
	if err := h.checkEmail(email); err != nil {
		return nil, err
	}

	// USER_UPSERTED
	user, err := h.upsert(ctx, result.Provider, profile, email)
	if err != nil {
		return nil, auth.Internal(auth.ErrOAuthInternal, "failed to store user", err)
	}

	// CREDENTIAL_MINTED
	identity := auth.FederatedIdentity{
		Provider:          result.Provider,
		ExternalID:        profile.ID,
		Username:          profile.Username,
		DisplayName:       profile.DisplayName,
		Email:             email,
		AvatarURL:         profile.AvatarURL,
		AccessToken:       profile.AccessToken,
		AccessTokenSecret: profile.AccessTokenSecret,
		CreatedAt:         user.CreatedAt,
	}
	expiresAt := h.codec.ExpiresAt()
	token, err := h.codec.Mint([]auth.FederatedIdentity{identity}, expiresAt)
	if err != nil {
		return nil, auth.Internal(auth.ErrOAuthInternal, "failed to mint session", err)
	}

	// CACHE_RENEWAL_TRIGGERED
	requestUser := projectIdentity(identity, expiresAt)
	h.spawner.Go(ctx, "authcache renewal", func(ctx context.Context) error {
		return h.renewer.Renew(ctx, requestUser)
	})

	h.logger.WithFields(map[string]interface{}{
		"provider":    string(result.Provider),
		"external_id": profile.ID,
		"login":       profile.Username,
	}).Info("oauth login completed")

	return &Login{Token: token, ExpiresAt: expiresAt, User: user, Identity: identity}, nil
}

// checkEmail enforces the domain allow-list. The domain is everything after
// the last "@" and is compared case-sensitively.
func (h *Handler) checkEmail(email string) error {
	if len(h.domains) == 0 {
		return nil
	}
	if email == "" {
		return auth.Forbidden(auth.ErrNoEmailProvided, "the provider did not share an email address")
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	for _, allowed := range h.domains {
		if domain == allowed {
			return nil
		}
	}
	return auth.Forbidden(auth.ErrEmailDomainNotAllowed, fmt.Sprintf("email domain %q is not allowed", domain))
}

// upsert stores the freshest tokens on every login since provider tokens can
// expire silently.
func (h *Handler) upsert(ctx context.Context, provider auth.Provider, profile *Profile, email string) (*auth.User, error) {
	accessToken, err := h.seal(profile.AccessToken)
	if err != nil {
		return nil, err
	}
	secret, err := h.seal(profile.AccessTokenSecret)
	if err != nil {
		return nil, err
	}
	refreshToken, err := h.seal(profile.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := h.now()
	existing, err := h.users.FindByProviderID(ctx, provider, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if existing != nil {
		updated, err := h.users.Update(ctx, existing.ID, auth.UserPatch{
			Login:             &profile.Username,
			Name:              &profile.DisplayName,
			Email:             &email,
			AvatarURL:         &profile.AvatarURL,
			AccessToken:       &accessToken,
			AccessTokenSecret: &secret,
			RefreshToken:      &refreshToken,
			LastLoginAt:       &now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		return updated, nil
	}

	created, err := h.users.Create(ctx, &auth.User{
		ID:                 uuid.New(),
		Provider:           provider,
		ProviderInternalID: profile.ID,
		Login:              profile.Username,
		Name:               profile.DisplayName,
		Email:              email,
		AvatarURL:          profile.AvatarURL,
		AccessToken:        accessToken,
		AccessTokenSecret:  secret,
		RefreshToken:       refreshToken,
		CreatedAt:          now,
		UpdatedAt:          now,
		LastLoginAt:        &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func (h *Handler) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return h.cipher.Encrypt(plaintext)
}

// projectIdentity builds the request-user view of a fresh login for the
// renewal task.
func projectIdentity(identity auth.FederatedIdentity, expiresAt time.Time) *auth.RequestUser {
	return &auth.RequestUser{
		Provider:           identity.Provider,
		ProviderInternalID: identity.ExternalID,
		Accounts: map[auth.Provider]auth.ProviderAccount{
			identity.Provider: {
				Nickname:          identity.Username,
				AccessToken:       identity.AccessToken,
				AccessTokenSecret: identity.AccessTokenSecret,
			},
		},
		ExpiresAt: expiresAt,
		User: auth.UserSnapshot{
			ID:        identity.ExternalID,
			Username:  identity.Username,
			Name:      identity.DisplayName,
			Email:     identity.Email,
			AvatarURL: identity.AvatarURL,
			CreatedAt: identity.CreatedAt,
		},
	}
}
