// webhook.go provides Gin middleware that verifies inbound GitLab webhook
// deliveries (shared-secret token and/or HMAC body signature) before the
// delivery handler runs.
package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
	"github.com/gitlab-bridge/gitlab-bridge/internal/webhook"
)

// WebhookGateMiddleware verifies a delivery against the configured checks.
// The body is read once here for signature verification and restored so the
// handler can decode it; accepted deliveries get their event and instance
// published in context.
//
// Webhook routes authenticate by shared secret, not by access token, so this
// middleware replaces AuthMiddleware on those chains rather than following it.
func WebhookGateMiddleware(cfg webhook.Config, rec *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			failGate(c, rec, audit.ActionWebhookRejected, c.ClientIP(), gateerr.Internal(err))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		md := webhook.ExtractMetadata(c.Request.Header)

		if err := webhook.ValidateRequest(c.Request.Header, body, cfg); err != nil {
			code := string(gateerr.CodeInternal)
			if ge, ok := gateerr.As(err); ok {
				code = string(ge.Code)
			}
			// The event label must stay a closed set; rejected events may be
			// arbitrary strings.
			event := md.Event
			if !webhook.KnownEvent(event) {
				event = "<unknown>"
			}
			telemetry.WebhookDeliveriesTotal.WithLabelValues(event, code).Inc()
			failGate(c, rec, audit.ActionWebhookRejected, webhookActor(c, md), err)
			return
		}

		telemetry.WebhookDeliveriesTotal.WithLabelValues(md.Event, "accepted").Inc()

		c.Set(WebhookEventKey, md.Event)
		c.Set(WebhookInstanceKey, md.Instance)

		c.Next()
	}
}

// webhookActor identifies a delivery's sender for audit purposes: the
// claimed instance URL when present, else the client address. Never the
// delivery token.
func webhookActor(c *gin.Context, md webhook.Metadata) string {
	if md.Instance != "" {
		return md.Instance
	}
	return c.ClientIP()
}
