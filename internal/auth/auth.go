// Package auth holds the credential and membership contracts the delivery
// core consumes at handshake time. Both checks run before any group join;
// a failure means the connection is rejected with no session state left
// behind.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrInvalidToken covers malformed, expired, and forged credentials.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrNotMember reports an authenticated user without a moderator-grade
	// membership in the requested community.
	ErrNotMember = errors.New("auth: not a community moderator")
)

// Verifier maps a bearer credential to a user identity or rejects it.
type Verifier interface {
	Verify(ctx context.Context, credential string) (int64, error)
}

// Authorizer answers the community-membership check run at community
// endpoint join time.
type Authorizer interface {
	IsModerator(ctx context.Context, userID, communityID int64) (bool, error)
}
