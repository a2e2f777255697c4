// audit.go provides Gin middleware that records requests which passed every
// gate. Rejections are recorded at the point of failure (errors.go), so this
// middleware only covers the success side.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
)

// AuditAcceptedMiddleware records one entry per request that cleared the
// gate, after the handler finishes. Registered only when audit.log_accepted
// is on; rejection auditing is unconditional and happens elsewhere.
func AuditAcceptedMiddleware(rec *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// A 4xx/5xx at this point came from the handler, not the gate; the
		// gate's own rejections abort before reaching here.
		if c.Writer.Status() >= 400 {
			return
		}

		action := audit.ActionTokenAccepted
		if _, isDelivery := c.Get(WebhookEventKey); isDelivery {
			action = audit.ActionWebhookAccepted
		} else if _, gated := c.Get(TokenInfoKey); !gated {
			// Ungated routes (health probes) are not gate decisions.
			return
		}

		telemetry.AuditEntriesTotal.WithLabelValues(action).Inc()
		rec.Record(c.Request.Context(), &audit.Entry{
			Action:    action,
			Actor:     Actor(c),
			Resource:  gateResource(c),
			Success:   true,
			OriginIP:  c.ClientIP(),
			RequestID: c.GetString(RequestIDKey),
		})
	}
}
