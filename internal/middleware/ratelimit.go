// ratelimit.go provides Gin middleware that enforces per-client sliding-window
// rate limits, returning 429 responses with budget headers when a key is over
// its allowance.
package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
	"github.com/gitlab-bridge/gitlab-bridge/internal/ratelimit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
)

// KeyFunc derives the limiter key for a request.
type KeyFunc func(c *gin.Context) string

// SkipFunc reports whether a request bypasses the limiter entirely. Skipped
// requests consume no allowance and receive no budget headers.
type SkipFunc func(c *gin.Context) bool

// ClientKey is the default KeyFunc: the authenticated actor when present,
// otherwise the client address. Authenticated budgets therefore follow the
// credential across addresses, while anonymous traffic is budgeted per IP.
func ClientKey(c *gin.Context) string {
	if actor := c.GetString(ActorKey); actor != "" {
		return "actor:" + actor
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// IPKey budgets strictly by client address, ignoring the authenticated actor.
// Used when gate.rate_limiting.key_strategy is "ip".
func IPKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// RateLimitOptions tunes RateLimitMiddleware. Zero values select the
// defaults: ClientKey and no skipping.
type RateLimitOptions struct {
	Key      KeyFunc
	Skip     SkipFunc
	Recorder *audit.Recorder
	// NoHeaders suppresses the X-RateLimit-* response headers. Rejections
	// still carry Retry-After.
	NoHeaders bool
}

// RateLimitMiddleware enforces the limiter's budget per derived key.
//
// Admitted responses carry X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset (unix seconds). Rejections additionally carry
// Retry-After and the uniform RATE_LIMIT_EXCEEDED body. Limiter transport
// errors (redis backend) deny the request: an uncountable request is treated
// as over budget, never waved through.
func RateLimitMiddleware(limiter ratelimit.Limiter, opts RateLimitOptions) gin.HandlerFunc {
	keyFn := opts.Key
	if keyFn == nil {
		keyFn = ClientKey
	}

	return func(c *gin.Context) {
		if opts.Skip != nil && opts.Skip(c) {
			c.Next()
			return
		}

		key := keyFn(c)
		info, err := limiter.Hit(c.Request.Context(), key)
		if err != nil {
			slog.Error("rate limiter unavailable, denying request",
				"error", err,
				"request_id", c.GetString(RequestIDKey))
			rejectRateLimited(c, opts.Recorder, gateerr.RateLimitExceeded(1))
			return
		}

		now := time.Now()
		if !opts.NoHeaders {
			c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
		}

		if info.Limited {
			rejectRateLimited(c, opts.Recorder, gateerr.RateLimitExceeded(info.RetryAfterSeconds(now)))
			return
		}

		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, rec *audit.Recorder, ge *gateerr.Error) {
	path := c.FullPath()
	if path == "" {
		path = "<no-route>"
	}
	telemetry.RateLimitRejectionsTotal.WithLabelValues(path).Inc()
	failGate(c, rec, audit.ActionRateLimited, Actor(c), ge)
}
