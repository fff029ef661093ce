package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Claims is the signed body of a git-identity session. Each provider owns an
// independent, optional set of namespaced fields. Token fields always hold
// TokenCipher ciphertext.
type Claims struct {
	jwt.RegisteredClaims

	Provider           auth.Provider `json:"provider"`
	ProviderInternalID flexString    `json:"providerInternalId"`

	GitHubNickname    string `json:"githubNickname,omitempty"`
	GitHubAccessToken string `json:"githubAccessToken,omitempty"`

	GitLabNickname    string `json:"gitlabNickname,omitempty"`
	GitLabAccessToken string `json:"gitlabAccessToken,omitempty"`

	BitbucketNickname    string `json:"bitbucketNickname,omitempty"`
	BitbucketAccessToken string `json:"bitbucketAccessToken,omitempty"`

	BitbucketDataCenterNickname          string `json:"bitbucketDataCenterNickname,omitempty"`
	BitbucketDataCenterAccessToken       string `json:"bitbucketDataCenterAccessToken,omitempty"`
	BitbucketDataCenterAccessTokenSecret string `json:"bitbucketDataCenterAccessTokenSecret,omitempty"`

	User userClaims `json:"user"`
}

type userClaims struct {
	ID        flexString `json:"id"`
	Username  string     `json:"username"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email,omitempty"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// providerFields points at the claim fields owned by one provider. secret is
// nil for providers without an OAuth1 token secret.
type providerFields struct {
	nickname *string
	token    *string
	secret   *string
}

var projections = map[auth.Provider]func(c *Claims) providerFields{
	auth.ProviderGitHub: func(c *Claims) providerFields {
		return providerFields{nickname: &c.GitHubNickname, token: &c.GitHubAccessToken}
	},
	auth.ProviderGitLab: func(c *Claims) providerFields {
		return providerFields{nickname: &c.GitLabNickname, token: &c.GitLabAccessToken}
	},
	auth.ProviderBitbucket: func(c *Claims) providerFields {
		return providerFields{nickname: &c.BitbucketNickname, token: &c.BitbucketAccessToken}
	},
	auth.ProviderBitbucketDataCenter: func(c *Claims) providerFields {
		return providerFields{
			nickname: &c.BitbucketDataCenterNickname,
			token:    &c.BitbucketDataCenterAccessToken,
			secret:   &c.BitbucketDataCenterAccessTokenSecret,
		}
	},
}

// flexString decodes either a JSON string or a JSON number into a string.
// Numeric provider ids are sometimes emitted unquoted by other signers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
