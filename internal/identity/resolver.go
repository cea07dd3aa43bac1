package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrUserNotFound is returned by a [Directory] when no registered user owns
// the e-mail.
var ErrUserNotFound = errors.New("identity: user not found")

// Directory looks up registered users. The user table is owned by the
// authentication service; this package only reads it.
type Directory interface {
	// LookupUserByEmail returns the user id registered under email, or an
	// error wrapping [ErrUserNotFound].
	LookupUserByEmail(ctx context.Context, email string) (string, error)
}

// Scope selects how long an anonymous identity lives.
type Scope string

const (
	// ScopeConnection keeps one anonymous identity for the whole connection,
	// so a long anonymous stream accrues a single counter row.
	ScopeConnection Scope = "connection"

	// ScopeEvent mints a new anonymous identity for every detected match.
	ScopeEvent Scope = "event"
)

// IsValid reports whether s is a recognised scope.
func (s Scope) IsValid() bool {
	return s == ScopeConnection || s == ScopeEvent
}

const (
	defaultCacheTTL = 5 * time.Minute
	lookupTimeout   = 3 * time.Second
)

// Option is a functional option for [NewResolver].
type Option func(*Resolver)

// WithAnonymousScope sets the anonymous identity scope. Default: [ScopeConnection].
func WithAnonymousScope(s Scope) Option {
	return func(r *Resolver) {
		if s.IsValid() {
			r.scope = s
		}
	}
}

// WithCacheTTL sets how long a successful e-mail lookup is cached. A negative
// value disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// Resolver maps claimed identities to tracking identities.
// It is safe for concurrent use.
type Resolver struct {
	dir      Directory
	scope    Scope
	cacheTTL time.Duration
	cache    *cache.Cache
}

// NewResolver returns a Resolver backed by dir. dir may be nil, in which case
// every caller resolves as anonymous.
func NewResolver(dir Directory, opts ...Option) *Resolver {
	r := &Resolver{
		dir:      dir,
		scope:    ScopeConnection,
		cacheTTL: defaultCacheTTL,
	}
	for _, o := range opts {
		o(r)
	}
	if r.cacheTTL > 0 {
		r.cache = cache.New(r.cacheTTL, 2*r.cacheTTL)
	}
	return r
}

// Scope returns the configured anonymous identity scope.
func (r *Resolver) Scope() Scope { return r.scope }

// Resolve returns the identity for a connection. claimedEmail is the optional
// user_email the client presented; anonymousToken is the optional
// client-supplied anonymous id, used only when the caller does not resolve to
// a registered user.
//
// Resolve never fails: lookup errors are logged and the caller is treated as
// anonymous.
func (r *Resolver) Resolve(ctx context.Context, claimedEmail, anonymousToken string) Identity {
	if email := NormalizeEmail(claimedEmail); email != "" {
		if id, ok := r.lookup(ctx, email); ok {
			return Registered(id)
		}
	}
	if id, ok := ParseAnonymousToken(anonymousToken); ok {
		return id
	}
	return NewAnonymous()
}

// ForMatch returns the identity a single detected match is credited to.
// Registered identities are always stable. Anonymous identities are reused
// under [ScopeConnection] and re-minted under [ScopeEvent].
func (r *Resolver) ForMatch(conn Identity) Identity {
	if conn.IsAnonymous() && r.scope == ScopeEvent {
		return NewAnonymous()
	}
	return conn
}

func (r *Resolver) lookup(ctx context.Context, email string) (string, bool) {
	if r.cache != nil {
		if v, ok := r.cache.Get(email); ok {
			return v.(string), true
		}
	}
	if r.dir == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	id, err := r.dir.LookupUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		slog.Debug("claimed identity is not registered; treating caller as anonymous")
		return "", false
	case err != nil:
		slog.Warn("identity lookup failed; treating caller as anonymous", "err", err)
		return "", false
	case id == "":
		return "", false
	}

	if r.cache != nil {
		r.cache.SetDefault(email, id)
	}
	return id, true
}
