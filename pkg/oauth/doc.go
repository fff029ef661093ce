// Package oauth turns a git provider's OAuth callback into a warden session.
//
// A callback moves through a fixed sequence of states:
//
//	RECEIVED -> EMAIL_CHECKED -> USER_UPSERTED -> CREDENTIAL_MINTED -> CACHE_RENEWAL_TRIGGERED
//
// Any state may end in an error. Provider failures and email policy
// violations are user errors; everything after the email check that fails
// unexpectedly becomes OAUTH_INTERNAL_ERROR and is reported to telemetry.
//
// The core (Handler.Complete) is transport agnostic. Handlers wires it to
// HTTP with per-provider Exchangers that perform the authorization code
// exchange and fetch the user profile.
package oauth
