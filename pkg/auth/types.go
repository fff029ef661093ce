package auth

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies a git hosting provider
type Provider string

const (
	ProviderGitHub              Provider = "github"
	ProviderGitLab              Provider = "gitlab"
	ProviderBitbucket           Provider = "bitbucket"
	ProviderBitbucketDataCenter Provider = "bitbucket_data_center"
)

// Providers lists every supported provider in projection order.
var Providers = []Provider{
	ProviderGitHub,
	ProviderGitLab,
	ProviderBitbucket,
	ProviderBitbucketDataCenter,
}

// ParseProvider converts a string into a Provider
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider: %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known provider
func (p Provider) Valid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket, ProviderBitbucketDataCenter:
		return true
	}
	return false
}

// TokenExpires reports whether access tokens issued by p expire on a fixed
// cadence and must be refreshed before use.
func (p Provider) TokenExpires() bool {
	return p == ProviderGitLab || p == ProviderBitbucket
}

func (p Provider) String() string {
	return string(p)
}

// FederatedIdentity is one provider-scoped identity obtained from a callback.
// AccessToken is plaintext and only lives for the duration of a request.
type FederatedIdentity struct {
	Provider          Provider  `json:"provider"`
	ExternalID        string    `json:"externalId"`
	Username          string    `json:"username"`
	DisplayName       string    `json:"displayName"`
	Email             string    `json:"email,omitempty"`
	AvatarURL         string    `json:"avatarUrl,omitempty"`
	AccessToken       string    `json:"-"`
	AccessTokenSecret string    `json:"-"` // Bitbucket Data Center (OAuth1) only
	CreatedAt         time.Time `json:"createdAt"`
}

// ProviderAccount is the decrypted per-provider slice of a session
type ProviderAccount struct {
	Nickname          string
	AccessToken       string
	AccessTokenSecret string
}

// UserSnapshot is the user profile embedded in a session credential
type UserSnapshot struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RequestUser is a decoded and decrypted session credential. It is rebuilt on
// every request and never persisted.
type RequestUser struct {
	Provider           Provider
	ProviderInternalID string
	Accounts           map[Provider]ProviderAccount
	ExpiresAt          time.Time
	User               UserSnapshot
}

// Account returns the linked account for p, if the session carries one.
func (u *RequestUser) Account(p Provider) (ProviderAccount, bool) {
	if u == nil || u.Accounts == nil {
		return ProviderAccount{}, false
	}
	acct, ok := u.Accounts[p]
	return acct, ok
}

// Login returns the principal's login on its own provider.
func (u *RequestUser) Login() string {
	if acct, ok := u.Account(u.Provider); ok && acct.Nickname != "" {
		return acct.Nickname
	}
	return u.User.Username
}

// AccessToken returns the principal's plaintext access token.
func (u *RequestUser) AccessToken() string {
	acct, _ := u.Account(u.Provider)
	return acct.AccessToken
}
