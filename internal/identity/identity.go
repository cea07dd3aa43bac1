// Package identity maps a connection's claimed identity to the key under which
// usage is tracked.
//
// A caller is either registered (the claimed e-mail belongs to a known user)
// or anonymous (no claim, an unknown claim, or a failed lookup). Anonymous
// callers are tracked under an opaque token: either one supplied by the client
// (so a device keeps its counter across connections) or a freshly minted
// UUIDv4.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind distinguishes registered users from anonymous callers.
type Kind int

const (
	// KindAnonymous is a caller without a resolved user account.
	KindAnonymous Kind = iota + 1

	// KindRegistered is a caller resolved to a registered user id.
	KindRegistered
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// ErrInvalid is returned by [Identity.Validate] for the zero value or an
// identity without an id.
var ErrInvalid = errors.New("identity: invalid identity")

// Identity is a resolved tracking key. Exactly one of "registered user id" or
// "anonymous token" is carried, selected by Kind.
type Identity struct {
	Kind Kind
	ID   string
}

// Registered returns a registered identity for userID.
func Registered(userID string) Identity {
	return Identity{Kind: KindRegistered, ID: userID}
}

// Anonymous returns an anonymous identity for token.
func Anonymous(token string) Identity {
	return Identity{Kind: KindAnonymous, ID: token}
}

// NewAnonymous mints a fresh anonymous identity backed by a random UUIDv4.
func NewAnonymous() Identity {
	return Anonymous(uuid.NewString())
}

// ParseAnonymousToken validates a client-supplied anonymous token. Only
// canonical UUIDs are accepted so that clients cannot collide with each other
// by choosing short or guessable tokens.
func ParseAnonymousToken(s string) (Identity, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, false
	}
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return Identity{}, false
	}
	return Anonymous(u.String()), true
}

// IsRegistered reports whether the identity belongs to a registered user.
func (i Identity) IsRegistered() bool { return i.Kind == KindRegistered }

// IsAnonymous reports whether the identity is an anonymous token.
func (i Identity) IsAnonymous() bool { return i.Kind == KindAnonymous }

// Validate returns [ErrInvalid] unless the identity has a known kind and a
// non-empty id.
func (i Identity) Validate() error {
	if (i.Kind != KindRegistered && i.Kind != KindAnonymous) || i.ID == "" {
		return fmt.Errorf("%w: kind=%s id=%q", ErrInvalid, i.Kind, i.ID)
	}
	return nil
}

// Key returns a string that is unique across both kinds, suitable for map
// keys and log attributes.
func (i Identity) Key() string {
	switch i.Kind {
	case KindRegistered:
		return "user:" + i.ID
	case KindAnonymous:
		return "anon:" + i.ID
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (i Identity) String() string { return i.Key() }

// NormalizeEmail trims and lower-cases a claimed e-mail so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
