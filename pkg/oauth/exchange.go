package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/credentials"
)

// Exchanger performs the authorization code flow for one provider
type Exchanger interface {
	Provider() auth.Provider
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Profile, error)
}

type profileFetcher func(ctx context.Context, client *http.Client, apiURL string) (*Profile, error)

// codeExchanger is an oauth2 code exchange followed by provider profile calls
type codeExchanger struct {
	provider auth.Provider
	config   *oauth2.Config
	apiURL   string
	fetch    profileFetcher
}

// NewExchangers builds an exchanger for every provider with a configured
// OAuth app. Bitbucket Data Center uses OAuth1 and has no exchanger.
func NewExchangers(providers *credentials.Providers, baseURL string) (map[auth.Provider]Exchanger, error) {
	fetchers := map[auth.Provider]profileFetcher{
		auth.ProviderGitHub:    fetchGitHubProfile,
		auth.ProviderGitLab:    fetchGitLabProfile,
		auth.ProviderBitbucket: fetchBitbucketProfile,
	}
	apps := map[auth.Provider]credentials.App{
		auth.ProviderGitHub:    providers.GitHub,
		auth.ProviderGitLab:    providers.GitLab,
		auth.ProviderBitbucket: providers.Bitbucket,
	}

	exchangers := make(map[auth.Provider]Exchanger)
	for provider, fetch := range fetchers {
		if !apps[provider].Configured() {
			continue
		}
		cfg, err := providers.OAuth2Config(provider, CallbackURL(baseURL, provider))
		if err != nil {
			return nil, err
		}
		apiURL, err := providers.APIURL(provider)
		if err != nil {
			return nil, err
		}
		exchangers[provider] = &codeExchanger{provider: provider, config: cfg, apiURL: apiURL, fetch: fetch}
	}
	return exchangers, nil
}

// CallbackURL is the redirect URI registered with provider
func CallbackURL(baseURL string, provider auth.Provider) string {
	return fmt.Sprintf("%s/auth/%s/callback", baseURL, provider)
}

func (e *codeExchanger) Provider() auth.Provider {
	return e.provider
}

func (e *codeExchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (e *codeExchanger) Exchange(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	profile, err := e.fetch(ctx, e.config.Client(ctx, token), e.apiURL)
	if err != nil {
		return nil, err
	}
	profile.AccessToken = token.AccessToken
	profile.RefreshToken = token.RefreshToken
	return profile, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("request to %s failed with status %d: %s", url, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

func fetchGitHubProfile(ctx context.Context, client *http.Client, apiURL string) (*Profile, error) {
	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, apiURL+"/user", &user); err != nil {
		return nil, err
	}

	var emails []Email
	if err := getJSON(ctx, client, apiURL+"/user/emails", &emails); err != nil {
		return nil, err
	}
	if len(emails) == 0 && user.Email != "" {
		emails = []Email{{Address: user.Email, Primary: true}}
	}

	return &Profile{
		ID:          strconv.FormatInt(user.ID, 10),
		Username:    user.Login,
		DisplayName: user.Name,
		AvatarURL:   user.AvatarURL,
		Emails:      emails,
	}, nil
}

func fetchGitLabProfile(ctx context.Context, client *http.Client, apiURL string) (*Profile, error) {
	var user struct {
		ID          int64  `json:"id"`
		Username    string `json:"username"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		PublicEmail string `json:"public_email"`
		AvatarURL   string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, apiURL+"/user", &user); err != nil {
		return nil, err
	}

	var emails []Email
	if user.Email != "" {
		emails = append(emails, Email{Address: user.Email, Primary: true})
	}
	if user.PublicEmail != "" && user.PublicEmail != user.Email {
		emails = append(emails, Email{Address: user.PublicEmail})
	}

	return &Profile{
		ID:          strconv.FormatInt(user.ID, 10),
		Username:    user.Username,
		DisplayName: user.Name,
		AvatarURL:   user.AvatarURL,
		Emails:      emails,
	}, nil
}

func fetchBitbucketProfile(ctx context.Context, client *http.Client, apiURL string) (*Profile, error) {
	var user struct {
		UUID        string `json:"uuid"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Links       struct {
			Avatar struct {
				Href string `json:"href"`
			} `json:"avatar"`
		} `json:"links"`
	}
	if err := getJSON(ctx, client, apiURL+"/user", &user); err != nil {
		return nil, err
	}

	var page struct {
		Values []struct {
			Email       string `json:"email"`
			IsPrimary   bool   `json:"is_primary"`
			IsConfirmed bool   `json:"is_confirmed"`
		} `json:"values"`
	}
	if err := getJSON(ctx, client, apiURL+"/user/emails", &page); err != nil {
		return nil, err
	}
	emails := make([]Email, 0, len(page.Values))
	for _, v := range page.Values {
		emails = append(emails, Email{Address: v.Email, Primary: v.IsPrimary, Verified: v.IsConfirmed})
	}

	return &Profile{
		ID:          user.UUID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   user.Links.Avatar.Href,
		Emails:      emails,
	}, nil
}
