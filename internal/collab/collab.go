// Package collab holds the thin adapters to the core's external
// collaborators: the identity store, the block-list store, and the content
// moderator. The core only ever consumes these interfaces; every adapter
// applies the fail-open policy the error-handling rules require.
package collab

import "context"

// Identity is the stable result of authenticating a token.
type Identity struct {
	UserID string
	Tier   string // "free" | "premium" | "pro"
}

// IdentityStore authenticates client tokens into stable user identities.
type IdentityStore interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// BlockStore returns the set of user IDs a given user has blocked. Block
// relations are read-only from the core's perspective and always keyed by
// user ID, never session ID.
type BlockStore interface {
	BlockedBy(ctx context.Context, userID string) (map[string]struct{}, error)
}

// Verdict is a moderation decision for one message.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Moderator screens chat text before relay. An error means the moderator
// was unreachable; callers fail open (allow) and log.
type Moderator interface {
	Check(ctx context.Context, sessionID, text string) (Verdict, error)
}

// NopBlockStore is the fallback when no block-list backend is configured:
// every user has an empty block set.
type NopBlockStore struct{}

// BlockedBy returns an empty set.
func (NopBlockStore) BlockedBy(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

// AllowAllModerator is the fallback when neither a NATS moderator nor the
// local filter is configured; it never vetoes.
type AllowAllModerator struct{}

// Check always allows.
func (AllowAllModerator) Check(context.Context, string, string) (Verdict, error) {
	return Verdict{}, nil
}
