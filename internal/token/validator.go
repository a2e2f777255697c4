package token

import (
	"context"
	"time"

	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
)

// Introspector resolves an opaque token's scopes, expiry, and revocation
// state. The lookup may block (it talks to the upstream instance), so
// implementations must honor context cancellation; the Validator bounds every
// call with its configured timeout.
type Introspector interface {
	Introspect(ctx context.Context, tok string) (*Info, error)
}

// Validator composes the individual token checks into one call:
// format → parse → expiration → revocation, short-circuiting on the first
// failure. An introspection timeout or error denies the request (fail-closed)
// as a revocation, with the underlying fault preserved for logging.
type Validator struct {
	introspector   Introspector
	timeout        time.Duration
	warnWithinDays int
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithIntrospectionTimeout bounds the external revocation lookup. A slow or
// unreachable upstream must not stall the request beyond this budget.
func WithIntrospectionTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.timeout = d }
}

// WithExpiryWarningDays overrides the "expiring soon" threshold.
func WithExpiryWarningDays(days int) ValidatorOption {
	return func(v *Validator) { v.warnWithinDays = days }
}

// NewValidator builds a Validator around the given introspection collaborator.
func NewValidator(introspector Introspector, opts ...ValidatorOption) *Validator {
	v := &Validator{
		introspector:   introspector,
		timeout:        5 * time.Second,
		warnWithinDays: DefaultExpiryWarningDays,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Parse extracts the classification embeddable in the token's format. It does
// not consult the network; scopes and expiry are absent until introspection.
func Parse(tok string) (*Info, error) {
	if tok == "" {
		return nil, gateerr.MalformedToken("token is empty")
	}
	kind := Type(tok)
	if kind == KindUnknown {
		return nil, gateerr.MalformedToken("unrecognized token prefix")
	}
	if !ValidateFormat(tok) {
		return nil, gateerr.MalformedToken("token does not match the expected format")
	}
	return &Info{Kind: kind}, nil
}

// Validate runs the full check chain and returns the resolved Info on
// success. Failures are gateerr values: INVALID_TOKEN for structural
// rejections, MALFORMED_TOKEN for unparseable tokens, EXPIRED_TOKEN and
// REVOKED_TOKEN for the respective states.
func (v *Validator) Validate(ctx context.Context, tok string) (*Info, error) {
	if !ValidateFormat(tok) {
		return nil, gateerr.InvalidToken("token format is not recognized")
	}

	info, err := Parse(tok)
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resolved, err := v.introspector.Introspect(lookupCtx, tok)
	if err != nil {
		// Fail closed. The cause rides along so operators can tell an
		// infrastructure fault apart from a genuine revocation.
		return nil, gateerr.RevokedToken(err)
	}
	info.Scopes = resolved.Scopes
	info.ExpiresAt = resolved.ExpiresAt
	info.Revoked = resolved.Revoked

	if status := CheckExpiration(info, time.Now(), v.warnWithinDays); status.State == ExpiryExpired {
		return nil, gateerr.ExpiredToken()
	}

	if info.Revoked {
		return nil, gateerr.RevokedToken(nil)
	}

	return info, nil
}
