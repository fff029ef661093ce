package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/warden/pkg/auth"
)

// DefaultLifetime is how long a freshly minted session stays valid.
const DefaultLifetime = 2 * time.Hour

// Config configures a Codec
type Config struct {
	// Secret signs session credentials (HS256)
	Secret []byte

	// Lifetime defaults to DefaultLifetime
	Lifetime time.Duration
}

// Codec mints and parses git-identity session credentials.
type Codec struct {
	secret   []byte
	cipher   *auth.TokenCipher
	lifetime time.Duration
	now      func() time.Time
}

// NewCodec creates a session codec. Access tokens are sealed with cipher
// before signing.
func NewCodec(cfg Config, cipher *auth.TokenCipher) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("session secret is required")
	}
	if cipher == nil {
		return nil, fmt.Errorf("token cipher is required")
	}
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Codec{
		secret:   cfg.Secret,
		cipher:   cipher,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Lifetime returns the configured session validity window
func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// ExpiresAt returns the expiry for a session minted now
func (c *Codec) ExpiresAt() time.Time {
	return c.now().Add(c.lifetime)
}

// Mint signs a session for identities. identities[0] is the principal; every
// other identity contributes its own provider fields.
func (c *Codec) Mint(identities []auth.FederatedIdentity, expiresAt time.Time) (string, error) {
	if len(identities) == 0 {
		return "", auth.Internal(auth.ErrInvalidIdentities, "at least one identity is required to mint a session", nil)
	}
	principal := identities[0]

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ExternalID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Provider:           principal.Provider,
		ProviderInternalID: flexString(principal.ExternalID),
		User: userClaims{
			ID:        flexString(principal.ExternalID),
			Username:  principal.Username,
			Name:      principal.DisplayName,
			Email:     principal.Email,
			AvatarURL: principal.AvatarURL,
			CreatedAt: principal.CreatedAt,
		},
	}

	for _, p := range auth.Providers {
		identity, ok := findIdentity(identities, p)
		if !ok {
			continue
		}
		fields := projections[p](claims)
		*fields.nickname = identity.Username

		sealed, err := c.cipher.Encrypt(identity.AccessToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt %s access token: %w", p, err)
		}
		*fields.token = sealed

		if fields.secret != nil && identity.AccessTokenSecret != "" {
			sealedSecret, err := c.cipher.Encrypt(identity.AccessTokenSecret)
			if err != nil {
				return "", fmt.Errorf("failed to encrypt %s access token secret: %w", p, err)
			}
			*fields.secret = sealedSecret
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Parse decodes raw without checking its signature and decrypts every
// populated token field. Callers must have verified raw beforehand; see Verify.
func (c *Codec) Parse(raw string) (*auth.RequestUser, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, auth.Unauthorized(auth.ErrMalformedCredential, "session credential could not be decoded")
	}
	if claims.Provider == "" && claims.ProviderInternalID == "" {
		return nil, auth.Unauthorized(auth.ErrMalformedCredential, "session credential is empty")
	}
	return c.toRequestUser(claims)
}

// Verify checks the signature and expiry of raw, then decodes it like Parse.
func (c *Codec) Verify(raw string) (*auth.RequestUser, error) {
	if raw == "" {
		return nil, auth.Unauthorized(auth.ErrInvalidSession, "session credential is missing")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, auth.Unauthorized(auth.ErrInvalidSession, "session has expired")
		}
		return nil, auth.Unauthorized(auth.ErrInvalidSession, "session credential is invalid")
	}
	return c.toRequestUser(claims)
}

func (c *Codec) toRequestUser(claims *Claims) (*auth.RequestUser, error) {
	user := &auth.RequestUser{
		Provider:           claims.Provider,
		ProviderInternalID: string(claims.ProviderInternalID),
		Accounts:           make(map[auth.Provider]auth.ProviderAccount),
		User: auth.UserSnapshot{
			ID:        string(claims.User.ID),
			Username:  claims.User.Username,
			Name:      claims.User.Name,
			Email:     claims.User.Email,
			AvatarURL: claims.User.AvatarURL,
			CreatedAt: claims.User.CreatedAt,
		},
	}
	if claims.ExpiresAt != nil {
		user.ExpiresAt = claims.ExpiresAt.Time
	}

	for _, p := range auth.Providers {
		fields := projections[p](claims)
		if *fields.nickname == "" && *fields.token == "" {
			continue
		}
		acct := auth.ProviderAccount{Nickname: *fields.nickname}
		if *fields.token != "" {
			plain, err := c.cipher.Decrypt(*fields.token)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt %s access token: %w", p, err)
			}
			acct.AccessToken = plain
		}
		if fields.secret != nil && *fields.secret != "" {
			plain, err := c.cipher.Decrypt(*fields.secret)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt %s access token secret: %w", p, err)
			}
			acct.AccessTokenSecret = plain
		}
		user.Accounts[p] = acct
	}
	return user, nil
}

func findIdentity(identities []auth.FederatedIdentity, p auth.Provider) (auth.FederatedIdentity, bool) {
	for _, identity := range identities {
		if identity.Provider == p {
			return identity, true
		}
	}
	return auth.FederatedIdentity{}, false
}
