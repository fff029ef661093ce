// Package auth holds the federated identity model shared by the login flows.
//
// # Overview
//
// A user may sign in through several git hosting providers (GitHub, GitLab,
// Bitbucket Cloud and Bitbucket Data Center). Each callback yields a
// FederatedIdentity; one or more of them are folded into a session credential
// by package session, and decoded back into a RequestUser on every request.
//
// # Key Components
//
// Provider: the closed set of supported git providers
//
//	p, err := auth.ParseProvider("bitbucket_data_center")
//
// TokenCipher: authenticated encryption for provider access tokens
//
//	cipher, _ := auth.NewTokenCipher(secret) // secret must be 32 bytes
//	sealed, _ := cipher.Encrypt("gho_xxx")    // "<hex nonce>:<hex ciphertext>"
//	plain, _ := cipher.Decrypt(sealed)
//
// Errors: every recognized failure is an *auth.Error carrying a stable code.
// User-facing errors map to 4xx responses and are never reported to
// telemetry; everything else is internal.
//
//	if auth.HasCode(err, auth.ErrNoEmailProvided) { ... }
//
// UserStore: the durable record of a git-provider user, keyed by
// (provider, provider internal id). Implemented in package users.
package auth
