// Package middleware provides Gin HTTP middleware for the bridge gate:
// authentication, permission checks, webhook verification, rate limiting,
// security headers, and audit logging.
//
// Middleware ordering matters and is enforced by the Composer (chain.go):
//
//	RequestID → Security → Metrics → Auth → Permission → RateLimit → Handler
//
// Request IDs come first so every later log line can carry one. Security
// headers run before anything that can write a response so they appear on
// errors too. Permission checks read the identity auth populated. The
// rate-limit hit comes last, so a rejected credential or denied operation
// never consumes budget and the limiter can key on the authenticated actor.
// A request rejected by any gate produces exactly one audit entry and one
// uniform error body, written by this file.
package middleware

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
)

// abortWithError writes the uniform error body for a gate rejection and
// stops the chain. Every rejection path in this package funnels through
// here so clients see one shape regardless of which check failed.
func abortWithError(c *gin.Context, err error) {
	ge, ok := gateerr.As(err)
	if !ok {
		ge = gateerr.Internal(err)
	}

	body := gin.H{
		"error":   string(ge.Code),
		"message": ge.Message,
	}
	if len(ge.MissingScopes) > 0 {
		body["missingScopes"] = ge.MissingScopes
	}
	if ge.RetryAfter > 0 {
		body["retryAfter"] = ge.RetryAfter
		c.Header("Retry-After", strconv.Itoa(ge.RetryAfter))
	}

	c.AbortWithStatusJSON(ge.Status, body)
}

// failGate records the audit entry for a rejected request and writes the
// error response. The entry is recorded before the response so the audit
// trail is never behind what the client has already seen.
func failGate(c *gin.Context, rec *audit.Recorder, action, actor string, err error) {
	ge, ok := gateerr.As(err)
	if !ok {
		ge = gateerr.Internal(err)
	}

	telemetry.AuditEntriesTotal.WithLabelValues(action).Inc()
	rec.Record(c.Request.Context(), &audit.Entry{
		Action:    action,
		Actor:     actor,
		Resource:  gateResource(c),
		Success:   false,
		Code:      string(ge.Code),
		OriginIP:  c.ClientIP(),
		RequestID: c.GetString(RequestIDKey),
	})

	abortWithError(c, ge)
}

// gateResource names what the request was trying to reach, preferring the
// declared operation over the raw route template.
func gateResource(c *gin.Context) string {
	if op := c.GetString(OperationKey); op != "" {
		return op
	}
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// RecoveryMiddleware converts handler panics into the uniform 500 response
// instead of Gin's default. Panic details go to the log, never the client.
func RecoveryMiddleware(rec *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered in handler",
					"panic", r,
					"path", c.FullPath(),
					"request_id", c.GetString(RequestIDKey))
				failGate(c, rec, audit.ActionInternalError, "", gateerr.Internal(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
