package oauth

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
	"github.com/platinummonkey/warden/pkg/users/userstest"
)

// inlineSpawner runs tasks synchronously so assertions can follow Complete
type inlineSpawner struct{}

func (inlineSpawner) Go(ctx context.Context, _ string, fn func(context.Context) error) {
	fn(ctx)
}

type recordingRenewer struct {
	mu    sync.Mutex
	users []*auth.RequestUser
	done  chan struct{}
}

func (r *recordingRenewer) Renew(_ context.Context, user *auth.RequestUser) error {
	r.mu.Lock()
	r.users = append(r.users, user)
	r.mu.Unlock()
	if r.done != nil {
		<-r.done
	}
	return nil
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, err error, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type fixture struct {
	handler  *Handler
	users    *userstest.Memory
	cipher   *auth.TokenCipher
	codec    *session.Codec
	renewer  *recordingRenewer
	reporter *recordingReporter
}

func newFixture(t *testing.T, domains ...string) *fixture {
	t.Helper()
	cipher, err := auth.NewTokenCipher(bytes.Repeat([]byte{'k'}, auth.TokenCipherKeySize))
	require.NoError(t, err)
	codec, err := session.NewCodec(session.Config{Secret: []byte("session-secret")}, cipher)
	require.NoError(t, err)

	f := &fixture{
		users:    userstest.NewMemory(),
		cipher:   cipher,
		codec:    codec,
		renewer:  &recordingRenewer{},
		reporter: &recordingReporter{},
	}
	f.handler = NewHandler(f.users, cipher, codec, f.renewer, inlineSpawner{}, Config{
		AllowedEmailDomains: domains,
		Logger:              observability.NewDiscardLogger(),
		Reporter:            f.reporter,
	})
	return f
}

func githubResult() CallbackResult {
	return CallbackResult{
		Provider: auth.ProviderGitHub,
		Profile: &Profile{
			ID:          "583231",
			Username:    "octocat",
			DisplayName: "The Octocat",
			AvatarURL:   "https://avatars.example.com/u/583231",
			Emails: []Email{
				{Address: "octo@personal.dev"},
				{Address: "octocat@example.com", Primary: true, Verified: true},
			},
			AccessToken:  "gho_live",
			RefreshToken: "ghr_refresh",
		},
	}
}

func TestComplete_ProviderError(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		result CallbackResult
	}{
		{"provider error", CallbackResult{Provider: auth.ProviderGitHub, Err: errors.New("access_denied")}},
		{"no profile", CallbackResult{Provider: auth.ProviderGitLab}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Complete(context.Background(), tt.result)
			assert.True(t, auth.HasCode(err, auth.ErrOAuthProvider))
			assert.True(t, auth.IsUserFacing(err))
		})
	}
	assert.Zero(t, f.reporter.count())
	assert.Zero(t, f.users.Len())
}

func TestComplete_NoEmailProvided(t *testing.T) {
	shapes := []CallbackResult{
		{Provider: auth.ProviderGitHub, Profile: &Profile{ID: "1", Username: "a", Emails: []Email{}}},
		{Provider: auth.ProviderGitLab, Profile: &Profile{ID: "2", Username: "b"}},
		{Provider: auth.ProviderBitbucket, Profile: &Profile{ID: "3", Username: "c", Emails: nil}},
		{Provider: auth.ProviderBitbucketDataCenter, Profile: &Profile{ID: "4", Username: "d", Emails: []Email{{Address: "ignored@example.com", Primary: true}}}},
	}
	for _, result := range shapes {
		t.Run(string(result.Provider), func(t *testing.T) {
			f := newFixture(t, "example.com")
			_, err := f.handler.Complete(context.Background(), result)
			assert.True(t, auth.HasCode(err, auth.ErrNoEmailProvided), "got %v", err)
			assert.Zero(t, f.reporter.count())
		})
	}
}

func TestComplete_EmailDomain(t *testing.T) {
	tests := []struct {
		email   string
		allowed bool
	}{
		{"user@example.com", true},
		{"user@other.com", false},
		{"user@Example.com", false},
		{"odd@host@example.com", true},
		{"user@example.com.evil", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			f := newFixture(t, "example.com", "corp.example")
			result := CallbackResult{
				Provider: auth.ProviderBitbucketDataCenter,
				Profile:  &Profile{ID: "42", Username: "jdoe", EmailAddress: tt.email, AccessToken: "t", AccessTokenSecret: "s"},
			}
			login, err := f.handler.Complete(context.Background(), result)
			if tt.allowed {
				require.NoError(t, err)
				assert.NotEmpty(t, login.Token)
				return
			}
			assert.True(t, auth.HasCode(err, auth.ErrEmailDomainNotAllowed), "got %v", err)
			assert.Zero(t, f.reporter.count())
		})
	}
}

func TestComplete_AllowListIgnoresSecondaryEmails(t *testing.T) {
	f := newFixture(t, "example.com")
	result := githubResult()
	result.Profile.Emails = []Email{
		{Address: "octocat@example.com", Verified: true},
		{Address: "octocat@personal.dev", Primary: true, Verified: true},
	}

	_, err := f.handler.Complete(context.Background(), result)
	assert.True(t, auth.HasCode(err, auth.ErrEmailDomainNotAllowed), "got %v", err)

	result.Profile.Emails[1].Primary = false
	_, err = f.handler.Complete(context.Background(), result)
	assert.True(t, auth.HasCode(err, auth.ErrNoEmailProvided), "got %v", err)
}

func TestComplete_NoAllowListAcceptsMissingEmail(t *testing.T) {
	f := newFixture(t)
	result := githubResult()
	result.Profile.Emails = nil

	login, err := f.handler.Complete(context.Background(), result)
	require.NoError(t, err)
	assert.Empty(t, login.User.Email)
}

func TestComplete_CreatesUserAndMintsSession(t *testing.T) {
	f := newFixture(t, "example.com")

	login, err := f.handler.Complete(context.Background(), githubResult())
	require.NoError(t, err)

	stored := f.users.Get(login.User.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "octocat", stored.Login)
	assert.Equal(t, "octocat@example.com", stored.Email)
	assert.Equal(t, stored.CreatedAt, stored.UpdatedAt)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, stored.CreatedAt, *stored.LastLoginAt)

	assert.NotEqual(t, "gho_live", stored.AccessToken)
	plain, err := f.cipher.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "gho_live", plain)
	refresh, err := f.cipher.Decrypt(stored.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "ghr_refresh", refresh)
	assert.Empty(t, stored.AccessTokenSecret)

	user, err := f.codec.Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderGitHub, user.Provider)
	assert.Equal(t, "583231", user.ProviderInternalID)
	assert.Equal(t, "gho_live", user.AccessToken())
	assert.WithinDuration(t, time.Now().Add(session.DefaultLifetime), login.ExpiresAt, time.Minute)

	require.Len(t, f.renewer.users, 1)
	renewed := f.renewer.users[0]
	assert.Equal(t, "octocat", renewed.Login())
	assert.Equal(t, "gho_live", renewed.AccessToken())
	assert.Equal(t, "583231", renewed.ProviderInternalID)
}

func TestComplete_UpdatesExistingUser(t *testing.T) {
	f := newFixture(t)
	first, err := f.handler.Complete(context.Background(), githubResult())
	require.NoError(t, err)
	firstToken := f.users.Get(first.User.ID).AccessToken

	result := githubResult()
	result.Profile.Username = "octocat-renamed"
	result.Profile.AccessToken = "gho_newer"
	second, err := f.handler.Complete(context.Background(), result)
	require.NoError(t, err)

	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, f.users.Len())

	stored := f.users.Get(first.User.ID)
	assert.Equal(t, "octocat-renamed", stored.Login)
	assert.NotEqual(t, firstToken, stored.AccessToken)
	plain, err := f.cipher.Decrypt(stored.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "gho_newer", plain)
}

func TestComplete_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.users.Err = errors.New("connection refused")

	_, err := f.handler.Complete(context.Background(), githubResult())
	assert.True(t, auth.HasCode(err, auth.ErrOAuthInternal))
	assert.False(t, auth.IsUserFacing(err))
	assert.Equal(t, 1, f.reporter.count())
}

func TestComplete_RenewalDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.renewer.done = make(chan struct{})
	tracker := async.NewTracker(observability.NewDiscardLogger(), time.Second)
	f.handler.spawner = tracker

	login, err := f.handler.Complete(context.Background(), githubResult())
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)

	close(f.renewer.done)
	require.NoError(t, tracker.Wait(context.Background()))
	f.renewer.mu.Lock()
	defer f.renewer.mu.Unlock()
	assert.Len(t, f.renewer.users, 1)
}

func TestProfile_ResolveEmail(t *testing.T) {
	p := &Profile{
		Emails:       []Email{{Address: "first@example.com"}, {Address: "primary@example.com", Primary: true}},
		EmailAddress: "dc@example.com",
	}
	assert.Equal(t, "primary@example.com", p.ResolveEmail(auth.ProviderGitHub))
	assert.Equal(t, "dc@example.com", p.ResolveEmail(auth.ProviderBitbucketDataCenter))

	p.Emails[1].Primary = false
	assert.Empty(t, p.ResolveEmail(auth.ProviderGitLab))

	var nilProfile *Profile
	assert.Empty(t, nilProfile.ResolveEmail(auth.ProviderGitHub))
}
