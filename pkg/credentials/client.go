package credentials

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/warden/pkg/auth"
)

// DefaultTimeout bounds every provider call made by Client
const DefaultTimeout = 10 * time.Second

// Client validates and refreshes stored provider credentials. All calls are
// bounded by a timeout so a slow provider cannot stall a login flow.
type Client struct {
	providers  *Providers
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a credential client
func NewClient(providers *Providers, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		providers: providers,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: timeout,
	}
}

// IsValid reports whether accessToken is still accepted by provider. A 401 or
// 403 is (false, nil); transport failures and unexpected statuses are errors.
// Bitbucket Data Center tokens are OAuth1: the request is signed with the
// consumer credentials and accessTokenSecret, and a token without a secret is
// reported invalid.
func (c *Client) IsValid(ctx context.Context, provider auth.Provider, accessToken, login, accessTokenSecret string) (bool, error) {
	if accessToken == "" {
		return false, nil
	}
	if provider == auth.ProviderBitbucketDataCenter && accessTokenSecret == "" {
		return false, nil
	}
	endpoint, err := c.providers.CurrentUserURL(provider, login)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.httpClient
	if provider == auth.ProviderBitbucketDataCenter {
		consumer, err := c.providers.OAuth1Config()
		if err != nil {
			return false, err
		}
		httpClient = consumer.Client(context.WithValue(ctx, oauth1.HTTPClient, c.httpClient), oauth1.NewToken(accessToken, accessTokenSecret))
	} else {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: validation request failed: %w", provider, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("%s: unexpected validation status %d", provider, resp.StatusCode)
	}
}

// Refresh exchanges refreshToken for a new token using the OAuth2 refresh
// grant. Providers whose tokens do not expire cannot be refreshed.
func (c *Client) Refresh(ctx context.Context, provider auth.Provider, refreshToken string) (*oauth2.Token, error) {
	if !provider.TokenExpires() {
		return nil, fmt.Errorf("%s tokens cannot be refreshed", provider)
	}
	if refreshToken == "" {
		return nil, auth.Internal(auth.ErrAccessTokenStale, "no refresh token stored", nil)
	}
	cfg, err := c.providers.OAuth2Config(provider, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, auth.Internal(auth.ErrAccessTokenStale, fmt.Sprintf("%s token refresh failed", provider), err)
	}
	return token, nil
}
