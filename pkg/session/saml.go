package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

// SAMLSession identifies a browser as a specific SAML identity, independent
// of any git-provider session it may also hold.
type SAMLSession struct {
	SAMLIdentityID   uuid.UUID
	Email            string
	ProviderConfigID uuid.UUID
	ExpiresAt        time.Time
}

type samlClaims struct {
	jwt.RegisteredClaims

	SAMLIdentityID   string `json:"samlIdentityId"`
	Email            string `json:"email"`
	ProviderConfigID string `json:"providerConfigId"`
}

// SAMLCodec signs SAML-scoped sessions with a secret distinct from Codec's.
type SAMLCodec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewSAMLCodec creates a SAML session codec
func NewSAMLCodec(cfg Config) (*SAMLCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("saml session secret is required")
	}
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &SAMLCodec{secret: cfg.Secret, lifetime: lifetime, now: time.Now}, nil
}

// Lifetime returns the configured session validity window
func (c *SAMLCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Mint signs s. A zero ExpiresAt uses the configured lifetime.
func (c *SAMLCodec) Mint(s SAMLSession) (string, error) {
	expiresAt := s.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(c.lifetime)
	}
	claims := &samlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.SAMLIdentityID.String(),
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SAMLIdentityID:   s.SAMLIdentityID.String(),
		Email:            s.Email,
		ProviderConfigID: s.ProviderConfigID.String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign saml session: %w", err)
	}
	return signed, nil
}

// Verify checks raw's signature and expiry and returns its contents.
func (c *SAMLCodec) Verify(raw string) (*SAMLSession, error) {
	if raw == "" {
		return nil, auth.Unauthorized(auth.ErrInvalidSession, "saml session is missing")
	}
	claims := &samlClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, auth.Unauthorized(auth.ErrInvalidSession, "saml session is invalid")
	}

	identityID, err := uuid.Parse(claims.SAMLIdentityID)
	if err != nil {
		return nil, auth.Unauthorized(auth.ErrMalformedCredential, "saml session has an invalid identity id")
	}
	configID, err := uuid.Parse(claims.ProviderConfigID)
	if err != nil {
		return nil, auth.Unauthorized(auth.ErrMalformedCredential, "saml session has an invalid provider config id")
	}
	return &SAMLSession{
		SAMLIdentityID:   identityID,
		Email:            claims.Email,
		ProviderConfigID: configID,
		ExpiresAt:        claims.ExpiresAt.Time,
	}, nil
}
