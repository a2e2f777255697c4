// chain.go assembles the gate's middleware chains. Ordering is fixed here
// and nowhere else:
//
//	RequestID → Security → Metrics → Recovery → Auth → Permission → RateLimit → Handler
//
// Webhook routes swap Auth/Permission for the webhook gate, since deliveries
// authenticate by shared secret rather than access token. The rate-limit hit
// is the last stage before the handler, so only requests that cleared every
// other check consume budget.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/auth"
	"github.com/gitlab-bridge/gitlab-bridge/internal/ratelimit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/token"
	"github.com/gitlab-bridge/gitlab-bridge/internal/webhook"
)

// Composer holds the shared gate dependencies and produces the per-route
// middleware chains the router installs. All fields are set once at startup.
type Composer struct {
	// Validator authenticates access tokens.
	Validator *token.Validator
	// Limiter is nil when rate limiting is disabled.
	Limiter ratelimit.Limiter
	// WebhookLimiter budgets webhook deliveries separately from API traffic.
	// Falls back to Limiter when nil.
	WebhookLimiter ratelimit.Limiter
	// Recorder receives one audit entry per gate decision.
	Recorder *audit.Recorder
	// DangerousScopes deny mutating operations when granted to a token.
	DangerousScopes []string
	// Webhook selects the delivery checks; consulted only by WebhookChain.
	Webhook webhook.Config
	// SkipRateLimit exempts requests (e.g. health probes) from the limiter.
	SkipRateLimit SkipFunc
	// RateLimitKey overrides the default budget key derivation (ClientKey).
	RateLimitKey KeyFunc
	// RateLimitNoHeaders suppresses X-RateLimit-* response headers.
	RateLimitNoHeaders bool
	// LogAccepted also audits requests that cleared the gate.
	LogAccepted bool
}

// Base returns the middleware every route carries, in order. Install on the
// engine itself so even unmatched requests get headers, metrics, and
// recovery.
func (m *Composer) Base() []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		RequestIDMiddleware(),
		SecurityHeadersMiddleware(APISecurityHeadersConfig()),
		MetricsMiddleware(),
		RecoveryMiddleware(m.Recorder),
	}
	if m.LogAccepted {
		chain = append(chain, AuditAcceptedMiddleware(m.Recorder))
	}
	return chain
}

// API returns the authenticated-route group chain: token validation. The
// per-route stages (permission, rate limit) come from Route.
func (m *Composer) API() []gin.HandlerFunc {
	return []gin.HandlerFunc{AuthMiddleware(m.Validator, m.Recorder)}
}

// Route returns the per-route tail of the chain: the permission gate for the
// declared operation, then the rate-limit hit. A non-nil override replaces
// the default budget for this route.
func (m *Composer) Route(op auth.Operation, override ratelimit.Limiter) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{RequireOperation(op, m.DangerousScopes, m.Recorder)}
	limiter := override
	if limiter == nil {
		limiter = m.Limiter
	}
	if limiter != nil {
		chain = append(chain, RateLimitMiddleware(limiter, RateLimitOptions{
			Key:       m.RateLimitKey,
			Skip:      m.SkipRateLimit,
			Recorder:  m.Recorder,
			NoHeaders: m.RateLimitNoHeaders,
		}))
	}
	return chain
}

// Operation returns the permission gate alone, for callers composing their
// own tail.
func (m *Composer) Operation(op auth.Operation) gin.HandlerFunc {
	return RequireOperation(op, m.DangerousScopes, m.Recorder)
}

// WebhookChain returns the inbound-delivery chain: secret verification, then
// the webhook budget.
func (m *Composer) WebhookChain() []gin.HandlerFunc {
	chain := []gin.HandlerFunc{WebhookGateMiddleware(m.Webhook, m.Recorder)}
	limiter := m.WebhookLimiter
	if limiter == nil {
		limiter = m.Limiter
	}
	if limiter != nil {
		chain = append(chain, RateLimitMiddleware(limiter, RateLimitOptions{
			Key:       m.RateLimitKey,
			Recorder:  m.Recorder,
			NoHeaders: m.RateLimitNoHeaders,
		}))
	}
	return chain
}
