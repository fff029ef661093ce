package sso

import (
	"context"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Action is an operation on the SAML resource of an account
type Action string

// ActionRead allows signing in through the account's IdP
const ActionRead Action = "read"

// Subject is whoever is driving the SAML flow: the assertion subject and,
// when the browser also holds one, its git-identity session.
type Subject struct {
	Assertion *Assertion
	GitUser   *auth.RequestUser
}

// PermissionChecker decides whether subject may perform action on the SAML
// resource of account.
type PermissionChecker interface {
	Can(ctx context.Context, subject Subject, action Action, account *Account) (bool, error)
}

// PermissionFunc adapts a function to PermissionChecker
type PermissionFunc func(ctx context.Context, subject Subject, action Action, account *Account) (bool, error)

// Can implements PermissionChecker
func (f PermissionFunc) Can(ctx context.Context, subject Subject, action Action, account *Account) (bool, error) {
	return f(ctx, subject, action, account)
}

// ReadOnlyPolicy lets any subject read the SAML resource of an existing
// account and denies everything else.
type ReadOnlyPolicy struct{}

// Can implements PermissionChecker
func (ReadOnlyPolicy) Can(_ context.Context, _ Subject, action Action, account *Account) (bool, error) {
	return account != nil && action == ActionRead, nil
}
