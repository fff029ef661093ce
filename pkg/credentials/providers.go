// Package credentials talks to the git providers on behalf of stored users:
// it knows each provider's OAuth2 endpoints, probes whether an access token
// still works and refreshes tokens that expire on a fixed cadence.
package credentials

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/bitbucket"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"

	"github.com/platinummonkey/warden/pkg/auth"
)

// App holds one provider's OAuth application credentials
type App struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Configured reports whether the app has credentials
func (a App) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != ""
}

// Providers describes how to reach each git provider. Zero URLs mean the
// public SaaS endpoints.
type Providers struct {
	GitHub    App
	GitLab    App
	Bitbucket App

	// BitbucketDataCenter holds the OAuth1 consumer key and secret
	BitbucketDataCenter App

	GitHubAPIURL           string // default https://api.github.com
	GitLabURL              string // default https://gitlab.com
	BitbucketAPIURL        string // default https://api.bitbucket.org/2.0
	BitbucketDataCenterURL string // required for Bitbucket Data Center

	// Endpoints overrides the OAuth2 endpoints per provider
	Endpoints map[auth.Provider]oauth2.Endpoint
}

var defaultScopes = map[auth.Provider][]string{
	auth.ProviderGitHub:    {"read:user", "user:email", "read:org", "repo"},
	auth.ProviderGitLab:    {"read_user", "read_api"},
	auth.ProviderBitbucket: {"account", "email", "repository"},
}

func (p *Providers) app(provider auth.Provider) (App, error) {
	switch provider {
	case auth.ProviderGitHub:
		return p.GitHub, nil
	case auth.ProviderGitLab:
		return p.GitLab, nil
	case auth.ProviderBitbucket:
		return p.Bitbucket, nil
	}
	return App{}, fmt.Errorf("provider %s does not use OAuth2", provider)
}

// Endpoint returns the OAuth2 endpoint for provider
func (p *Providers) Endpoint(provider auth.Provider) (oauth2.Endpoint, error) {
	if ep, ok := p.Endpoints[provider]; ok {
		return ep, nil
	}
	switch provider {
	case auth.ProviderGitHub:
		return github.Endpoint, nil
	case auth.ProviderGitLab:
		if p.GitLabURL == "" {
			return gitlab.Endpoint, nil
		}
		base := strings.TrimRight(p.GitLabURL, "/")
		return oauth2.Endpoint{AuthURL: base + "/oauth/authorize", TokenURL: base + "/oauth/token"}, nil
	case auth.ProviderBitbucket:
		return bitbucket.Endpoint, nil
	}
	return oauth2.Endpoint{}, fmt.Errorf("provider %s does not use OAuth2", provider)
}

// OAuth2Config builds the oauth2 configuration for provider
func (p *Providers) OAuth2Config(provider auth.Provider, redirectURL string) (*oauth2.Config, error) {
	app, err := p.app(provider)
	if err != nil {
		return nil, err
	}
	if !app.Configured() {
		return nil, fmt.Errorf("provider %s is not configured", provider)
	}
	endpoint, err := p.Endpoint(provider)
	if err != nil {
		return nil, err
	}
	scopes := app.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes[provider]
	}
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}, nil
}

// OAuth1Config builds the consumer configuration used to sign Bitbucket Data
// Center requests with the user's token and token secret.
func (p *Providers) OAuth1Config() (*oauth1.Config, error) {
	if !p.BitbucketDataCenter.Configured() {
		return nil, fmt.Errorf("provider %s is not configured", auth.ProviderBitbucketDataCenter)
	}
	return oauth1.NewConfig(p.BitbucketDataCenter.ClientID, p.BitbucketDataCenter.ClientSecret), nil
}

// APIURL returns the REST API base for provider
func (p *Providers) APIURL(provider auth.Provider) (string, error) {
	switch provider {
	case auth.ProviderGitHub:
		return orDefault(p.GitHubAPIURL, "https://api.github.com"), nil
	case auth.ProviderGitLab:
		return orDefault(p.GitLabURL, "https://gitlab.com") + "/api/v4", nil
	case auth.ProviderBitbucket:
		return orDefault(p.BitbucketAPIURL, "https://api.bitbucket.org/2.0"), nil
	case auth.ProviderBitbucketDataCenter:
		if p.BitbucketDataCenterURL == "" {
			return "", fmt.Errorf("bitbucket data center URL is not configured")
		}
		return strings.TrimRight(p.BitbucketDataCenterURL, "/") + "/rest/api/1.0", nil
	}
	return "", fmt.Errorf("unknown provider %s", provider)
}

// CurrentUserURL returns the endpoint that identifies the token's owner
func (p *Providers) CurrentUserURL(provider auth.Provider, login string) (string, error) {
	base, err := p.APIURL(provider)
	if err != nil {
		return "", err
	}
	if provider == auth.ProviderBitbucketDataCenter {
		if login == "" {
			return "", fmt.Errorf("login is required for bitbucket data center")
		}
		return base + "/users/" + url.PathEscape(login), nil
	}
	return base + "/user", nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}
