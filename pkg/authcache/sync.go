package authcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/auth"
)

// RemoteSynchronizer asks an external synchronization service to compute a
// user's allowed accounts.
type RemoteSynchronizer struct {
	url        string
	httpClient *http.Client
}

// NewRemoteSynchronizer creates a synchronizer posting to url
func NewRemoteSynchronizer(url string, timeout time.Duration) *RemoteSynchronizer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RemoteSynchronizer{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type syncRequest struct {
	Provider           auth.Provider `json:"provider"`
	ProviderInternalID string        `json:"providerInternalId"`
	Login              string        `json:"login"`
	AccessToken        string        `json:"accessToken"`
	AccessTokenSecret  string        `json:"accessTokenSecret,omitempty"`
}

// ComputeAllowedAccounts implements Synchronizer
func (s *RemoteSynchronizer) ComputeAllowedAccounts(ctx context.Context, user *auth.RequestUser) (AllowedAccounts, error) {
	acct, _ := user.Account(user.Provider)
	body, err := json.Marshal(syncRequest{
		Provider:           user.Provider,
		ProviderInternalID: user.ProviderInternalID,
		Login:              user.Login(),
		AccessToken:        acct.AccessToken,
		AccessTokenSecret:  acct.AccessTokenSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var accounts AllowedAccounts
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return accounts, nil
}
