package sso

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/platinummonkey/warden/pkg/auth"
)

// AssertionValidator verifies SAML responses for an IdP configuration
type AssertionValidator interface {
	// Validate checks a base64 encoded SAMLResponse and returns its subject
	Validate(ctx context.Context, cfg *ProviderConfig, encodedResponse string) (*Assertion, error)

	// AuthURL builds the IdP redirect for a service-provider initiated login
	AuthURL(cfg *ProviderConfig, relayState string) (string, error)
}

var (
	errCertificatePEM   = errors.New("failed to decode certificate PEM")
	errCertificateParse = errors.New("failed to parse certificate")
	errAudienceMismatch = errors.New("assertion not in expected audience")
)

// signatureFailures are fragments of the messages gosaml2 and goxmldsig use
// when a response is not signed by the configured certificate.
var signatureFailures = []string{
	"Could not verify certificate against trusted certs",
	"Signature could not be verified",
	"crypto/rsa: verification error",
}

// translateAssertionError turns the known library failures into user-facing
// SAML_ASSERTION_INVALID errors. Anything else is returned unchanged.
func translateAssertionError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errCertificatePEM):
		return auth.BadRequest(auth.ErrSAMLAssertion, "The identity provider certificate is not valid PEM. Check the SSO configuration.")
	case errors.Is(err, errCertificateParse):
		return auth.BadRequest(auth.ErrSAMLAssertion, "The identity provider certificate could not be read. Check the SSO configuration.")
	case errors.Is(err, errAudienceMismatch):
		return auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response was issued for a different audience.")
	case errors.Is(err, dsig.ErrMissingSignature):
		return auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response signature does not match the configured certificate.")
	}
	for _, fragment := range signatureFailures {
		if strings.Contains(err.Error(), fragment) {
			return auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response signature does not match the configured certificate.")
		}
	}
	return err
}

// GoSAMLValidator validates responses with gosaml2
type GoSAMLValidator struct {
	baseURL string
}

// NewGoSAMLValidator creates a validator. baseURL is the externally visible
// URL of this service and forms the ACS URL and default audience.
func NewGoSAMLValidator(baseURL string) *GoSAMLValidator {
	return &GoSAMLValidator{baseURL: strings.TrimRight(baseURL, "/")}
}

// ACSURL is the assertion consumer service URL for cfg
func (v *GoSAMLValidator) ACSURL(cfg *ProviderConfig) string {
	return fmt.Sprintf("%s/auth/saml/%s/acs", v.baseURL, cfg.ID)
}

// audience returns the expected audience for cfg
func (v *GoSAMLValidator) audience(cfg *ProviderConfig) string {
	if cfg.Audience != "" {
		return cfg.Audience
	}
	return v.baseURL
}

func (v *GoSAMLValidator) serviceProvider(cfg *ProviderConfig) (*saml2.SAMLServiceProvider, error) {
	certBlock, _ := pem.Decode([]byte(cfg.Certificate))
	if certBlock == nil {
		return nil, errCertificatePEM
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCertificateParse, err)
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.SSOURL,
		IdentityProviderIssuer:      cfg.EntityID,
		ServiceProviderIssuer:       v.audience(cfg),
		AssertionConsumerServiceURL: v.ACSURL(cfg),
		AudienceURI:                 v.audience(cfg),
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		},
	}, nil
}

// Validate implements AssertionValidator. gosaml2 expects the response still
// base64 encoded, exactly as posted by the browser.
func (v *GoSAMLValidator) Validate(ctx context.Context, cfg *ProviderConfig, encodedResponse string) (*Assertion, error) {
	if encodedResponse == "" {
		return nil, auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response is missing.")
	}
	sp, err := v.serviceProvider(cfg)
	if err != nil {
		return nil, translateAssertionError(err)
	}

	info, err := sp.RetrieveAssertionInfo(encodedResponse)
	if err != nil {
		return nil, translateAssertionError(err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.NotInAudience {
			return nil, translateAssertionError(errAudienceMismatch)
		}
		if info.WarningInfo.InvalidTime {
			return nil, auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response has expired. Please sign in again.")
		}
	}
	if info.NameID == "" {
		return nil, auth.BadRequest(auth.ErrSAMLAssertion, "The SAML response has no subject.")
	}

	assertion := &Assertion{
		NameID:       info.NameID,
		SessionIndex: info.SessionIndex,
		Attributes:   make(map[string]string, len(info.Values)),
	}
	for name, attr := range info.Values {
		if len(attr.Values) > 0 {
			assertion.Attributes[name] = attr.Values[0].Value
		}
	}
	assertion.Email = resolveAssertionEmail(cfg, assertion)
	return assertion, nil
}

// AuthURL implements AssertionValidator
func (v *GoSAMLValidator) AuthURL(cfg *ProviderConfig, relayState string) (string, error) {
	sp, err := v.serviceProvider(cfg)
	if err != nil {
		return "", translateAssertionError(err)
	}
	authURL, err := sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return authURL, nil
}

var defaultEmailAttributes = []string{
	"email",
	"mail",
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	"urn:oid:0.9.2342.19200300.100.1.3",
}

// resolveAssertionEmail prefers the configured attribute, then common email
// attribute names, then a NameID that looks like an address.
func resolveAssertionEmail(cfg *ProviderConfig, a *Assertion) string {
	if cfg.EmailAttribute != "" {
		if v := a.Attributes[cfg.EmailAttribute]; v != "" {
			return v
		}
	}
	for _, name := range defaultEmailAttributes {
		if v := a.Attributes[name]; v != "" {
			return v
		}
	}
	if strings.Contains(a.NameID, "@") {
		return a.NameID
	}
	return ""
}

var _ AssertionValidator = (*GoSAMLValidator)(nil)
