// Package token provides GitLab bearer-token validation for the bridge gate.
// Tokens are opaque credentials classified by prefix (personal access tokens,
// pipeline trigger tokens); scopes, expiry, and revocation state come from the
// upstream instance via the Introspector collaborator. Nothing in this package
// persists a credential: an Info lives for exactly one request.
package token

import (
	"strings"
	"time"
)

// Kind classifies a bearer credential by its self-describing prefix.
type Kind string

const (
	KindPersonal Kind = "personal_access"
	KindProject  Kind = "project"
	KindUnknown  Kind = "unknown"
)

const (
	// PersonalPrefix marks personal access tokens.
	PersonalPrefix = "glpat-"
	// ProjectPrefix marks project-scoped pipeline trigger tokens.
	ProjectPrefix = "glptt-"

	// minRandomLength / maxRandomLength bound the random part after the prefix.
	minRandomLength = 20
	maxRandomLength = 64

	// maskRevealSuffix is how many trailing characters Mask leaves visible.
	maskRevealSuffix = 4
)

// Info is the derived view of a credential for the duration of one request.
// Scopes, ExpiresAt and Revoked are filled by introspection, not parsed from
// the opaque token value.
type Info struct {
	Kind      Kind
	Scopes    []string
	ExpiresAt *time.Time
	Revoked   bool
}

// Type classifies a token without a full parse.
func Type(tok string) Kind {
	switch {
	case strings.HasPrefix(tok, PersonalPrefix):
		return KindPersonal
	case strings.HasPrefix(tok, ProjectPrefix):
		return KindProject
	default:
		return KindUnknown
	}
}

// ValidateFormat performs the structural check only: recognized prefix and a
// random part of acceptable length drawn from the URL-safe alphabet. It never
// contacts the network.
func ValidateFormat(tok string) bool {
	kind := Type(tok)
	if kind == KindUnknown {
		return false
	}

	var random string
	switch kind {
	case KindPersonal:
		random = strings.TrimPrefix(tok, PersonalPrefix)
	case KindProject:
		random = strings.TrimPrefix(tok, ProjectPrefix)
	}

	if len(random) < minRandomLength || len(random) > maxRandomLength {
		return false
	}
	for _, r := range random {
		if !isTokenChar(r) {
			return false
		}
	}
	return true
}

func isTokenChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

// Mask renders a redacted representation safe for logs: the recognized prefix,
// a fixed-width run of mask characters, and at most maskRevealSuffix trailing
// characters. The mask run has constant width so the output never leaks the
// token's length, and the original value cannot be reconstructed from it.
func Mask(tok string) string {
	const maskRun = "****************"

	prefix := ""
	switch Type(tok) {
	case KindPersonal:
		prefix = PersonalPrefix
	case KindProject:
		prefix = ProjectPrefix
	}

	rest := strings.TrimPrefix(tok, prefix)
	if len(rest) <= maskRevealSuffix {
		return prefix + maskRun
	}
	return prefix + maskRun + rest[len(rest)-maskRevealSuffix:]
}

// ExpiryState is the outcome of an expiration check.
type ExpiryState int

const (
	ExpiryValid ExpiryState = iota
	ExpiryExpiringSoon
	ExpiryExpired
)

// ExpiryStatus reports the expiry state and, for ExpiryExpiringSoon, the
// number of whole days remaining.
type ExpiryStatus struct {
	State    ExpiryState
	DaysLeft int
}

// DefaultExpiryWarningDays is the default "expiring soon" threshold.
const DefaultExpiryWarningDays = 7

// CheckExpiration evaluates an Info's expiry against now. The boundary is
// exclusive of validity: a token whose ExpiresAt equals now is already
// expired. Tokens expiring within warnWithinDays days are flagged so callers
// can surface a warning without denying the request.
func CheckExpiration(info *Info, now time.Time, warnWithinDays int) ExpiryStatus {
	if info.ExpiresAt == nil {
		return ExpiryStatus{State: ExpiryValid}
	}
	if !now.Before(*info.ExpiresAt) {
		return ExpiryStatus{State: ExpiryExpired}
	}

	remaining := info.ExpiresAt.Sub(now)
	days := int(remaining / (24 * time.Hour))
	if days <= warnWithinDays {
		return ExpiryStatus{State: ExpiryExpiringSoon, DaysLeft: days}
	}
	return ExpiryStatus{State: ExpiryValid}
}

// DefaultDangerousScopes is the baseline denylist of high-risk scopes. The
// effective list is injectable through config; this is policy, not mechanism.
func DefaultDangerousScopes() []string {
	return []string{"sudo", "admin_mode"}
}

// DangerousScopes returns the granted scopes that appear on the denylist,
// preserving the order they were granted in.
func DangerousScopes(granted, denylist []string) []string {
	if len(granted) == 0 || len(denylist) == 0 {
		return nil
	}
	deny := make(map[string]struct{}, len(denylist))
	for _, s := range denylist {
		deny[s] = struct{}{}
	}

	var flagged []string
	for _, s := range granted {
		if _, ok := deny[s]; ok {
			flagged = append(flagged, s)
		}
	}
	return flagged
}
