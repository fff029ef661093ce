package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/credentials"
)

// providerServer fakes a provider's token endpoint and REST API
func providerServer(t *testing.T, routes map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"live-token","refresh_token":"refresh-token","token_type":"bearer"}`))
	})
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer live-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(body)
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func endpoints(server *httptest.Server, providers ...auth.Provider) map[auth.Provider]oauth2.Endpoint {
	out := make(map[auth.Provider]oauth2.Endpoint)
	for _, p := range providers {
		out[p] = oauth2.Endpoint{AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	}
	return out
}

func TestNewExchangers_OnlyConfiguredProviders(t *testing.T) {
	exchangers, err := NewExchangers(&credentials.Providers{
		GitHub: credentials.App{ClientID: "id", ClientSecret: "secret"},
	}, "https://warden.example.com")
	require.NoError(t, err)
	require.Len(t, exchangers, 1)

	e := exchangers[auth.ProviderGitHub]
	require.NotNil(t, e)
	authURL, err := url.Parse(e.AuthCodeURL("s1"))
	require.NoError(t, err)
	assert.Equal(t, "s1", authURL.Query().Get("state"))
	assert.Equal(t, "https://warden.example.com/auth/github/callback", authURL.Query().Get("redirect_uri"))
}

func TestGitHubExchange(t *testing.T) {
	server := providerServer(t, map[string]interface{}{
		"/user": map[string]interface{}{"id": 583231, "login": "octocat", "name": "The Octocat", "avatar_url": "https://a.example/1"},
		"/user/emails": []map[string]interface{}{
			{"email": "octo@personal.dev", "primary": false, "verified": true},
			{"email": "octocat@example.com", "primary": true, "verified": true},
		},
	})
	exchangers, err := NewExchangers(&credentials.Providers{
		GitHub:       credentials.App{ClientID: "id", ClientSecret: "secret"},
		GitHubAPIURL: server.URL,
		Endpoints:    endpoints(server, auth.ProviderGitHub),
	}, "http://localhost")
	require.NoError(t, err)

	profile, err := exchangers[auth.ProviderGitHub].Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "583231", profile.ID)
	assert.Equal(t, "octocat", profile.Username)
	assert.Equal(t, "live-token", profile.AccessToken)
	assert.Equal(t, "refresh-token", profile.RefreshToken)
	assert.Equal(t, "octocat@example.com", profile.ResolveEmail(auth.ProviderGitHub))

	_, err = exchangers[auth.ProviderGitHub].Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
	_, err = exchangers[auth.ProviderGitHub].Exchange(context.Background(), "")
	assert.Error(t, err)
}

func TestGitLabExchange(t *testing.T) {
	server := providerServer(t, map[string]interface{}{
		"/api/v4/user": map[string]interface{}{"id": 77, "username": "tanuki", "name": "Tanuki", "email": "tanuki@example.com"},
	})
	exchangers, err := NewExchangers(&credentials.Providers{
		GitLab:    credentials.App{ClientID: "id", ClientSecret: "secret"},
		GitLabURL: server.URL,
		Endpoints: endpoints(server, auth.ProviderGitLab),
	}, "http://localhost")
	require.NoError(t, err)

	profile, err := exchangers[auth.ProviderGitLab].Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "77", profile.ID)
	assert.Equal(t, "tanuki@example.com", profile.ResolveEmail(auth.ProviderGitLab))
}

func TestBitbucketExchange(t *testing.T) {
	server := providerServer(t, map[string]interface{}{
		"/user": map[string]interface{}{
			"uuid": "{b1}", "username": "bucket", "display_name": "Bucket",
			"links": map[string]interface{}{"avatar": map[string]interface{}{"href": "https://a.example/b"}},
		},
		"/user/emails": map[string]interface{}{
			"values": []map[string]interface{}{{"email": "bucket@example.com", "is_primary": true, "is_confirmed": true}},
		},
	})
	exchangers, err := NewExchangers(&credentials.Providers{
		Bitbucket:       credentials.App{ClientID: "id", ClientSecret: "secret"},
		BitbucketAPIURL: server.URL,
		Endpoints:       endpoints(server, auth.ProviderBitbucket),
	}, "http://localhost")
	require.NoError(t, err)

	profile, err := exchangers[auth.ProviderBitbucket].Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "{b1}", profile.ID)
	assert.Equal(t, "https://a.example/b", profile.AvatarURL)
	assert.Equal(t, "bucket@example.com", profile.ResolveEmail(auth.ProviderBitbucket))
}
