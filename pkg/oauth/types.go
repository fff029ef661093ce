package oauth

import (
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Email is one address reported by a provider's email listing
type Email struct {
	Address  string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Profile is the user payload delivered by a provider callback.
//
// GitHub, GitLab and Bitbucket Cloud report addresses through Emails;
// Bitbucket Data Center reports a single EmailAddress.
type Profile struct {
	ID                string
	Username          string
	DisplayName       string
	AvatarURL         string
	Emails            []Email
	EmailAddress      string
	AccessToken       string
	AccessTokenSecret string
	RefreshToken      string
}

// CallbackResult is everything the provider handed back for one callback.
// Err is set when the provider reported a failure or the user cancelled.
type CallbackResult struct {
	Provider auth.Provider
	Profile  *Profile
	Err      error
}

// Login is the outcome of a successful callback
type Login struct {
	Token     string
	ExpiresAt time.Time
	User      *auth.User
	Identity  auth.FederatedIdentity
}

// ResolveEmail returns the address used for domain checks and the stored
// profile. Bitbucket Data Center uses EmailAddress; every other provider uses
// the first primary entry of Emails. Unmarked addresses are never used.
func (p *Profile) ResolveEmail(provider auth.Provider) string {
	if p == nil {
		return ""
	}
	if provider == auth.ProviderBitbucketDataCenter {
		return p.EmailAddress
	}
	for _, e := range p.Emails {
		if e.Primary && e.Address != "" {
			return e.Address
		}
	}
	return ""
}
