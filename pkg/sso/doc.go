// Package sso authenticates enterprise users through SAML 2.0 and links the
// resulting SAML identities to git-provider users.
//
// # Overview
//
// An account owns one or more IdP configurations (ProviderConfig). When the
// IdP posts a SAMLResponse to the assertion consumer service, Flow
//
//  1. resolves and checks the configuration
//  2. validates the assertion signature, validity window and audience
//  3. checks that the subject may sign in to the owning account
//  4. finds or creates the SAMLIdentity for the assertion subject
//  5. validates the linked git user's provider credential, if any
//
// and always issues a SAML-scoped session. A linked identity whose git
// credential no longer works is unlinked, never deleted.
//
// # Usage Example
//
//	flow := sso.NewFlow(sso.NewStorage(db), users, sso.NewGoSAMLValidator(baseURL),
//		credentials.NewClient(providers, 0), cipher, codec, samlCodec, sso.FlowConfig{})
//	sso.NewHandlers(flow, codec, samlCodec, cookies, dashboardURL, logger).RegisterRoutes(router)
//
// # Endpoints
//
//	GET    /auth/saml/{providerConfigId}/login  redirect to the IdP
//	POST   /auth/saml/{providerConfigId}/acs    assertion consumer service
//	GET    /auth/saml/session                   describe the current SAML session
//	POST   /auth/saml/link                      link the SAML identity to the git session
//	DELETE /auth/saml/link                      unlink it
//
// # Related Packages
//
//   - pkg/session: git and SAML session credentials
//   - pkg/credentials: provider token validation and refresh
//
// IdP configurations can be provisioned from a YAML seed with LoadSeed and
// Storage.ApplySeed.
package sso
