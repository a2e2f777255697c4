// auth.go provides Gin middleware that validates GitLab access tokens before
// any handler runs. A rejected token never reaches the upstream instance.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
	"github.com/gitlab-bridge/gitlab-bridge/internal/token"
)

// gin.Context keys populated by the gate middleware.
const (
	// TokenInfoKey holds the *token.Info of the validated credential.
	TokenInfoKey = "token_info"
	// ScopesKey holds the validated token's granted scope strings.
	ScopesKey = "scopes"
	// ActorKey holds the masked token display used for logs and audit.
	ActorKey = "actor"
	// OperationKey holds the operation name declared by the matched route.
	OperationKey = "operation"
	// WebhookEventKey and WebhookInstanceKey hold accepted delivery metadata.
	WebhookEventKey    = "webhook_event"
	WebhookInstanceKey = "webhook_instance"
)

// PrivateTokenHeader is the GitLab-native credential header, accepted as an
// alternative to Authorization: Bearer.
const PrivateTokenHeader = "PRIVATE-TOKEN"

// AuthMiddleware validates the request's access token and populates the
// identity context. The raw token is dropped after validation; only the
// masked display survives into context, logs, and audit entries.
func AuthMiddleware(validator *token.Validator, rec *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := extractToken(c)
		if err != nil {
			telemetry.TokenValidationsTotal.WithLabelValues(string(gateerr.CodeMalformedToken)).Inc()
			failGate(c, rec, audit.ActionTokenRejected, "", err)
			return
		}

		start := time.Now()
		info, err := validator.Validate(c.Request.Context(), raw)
		telemetry.IntrospectionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			code := string(gateerr.CodeInternal)
			if ge, ok := gateerr.As(err); ok {
				code = string(ge.Code)
			}
			telemetry.TokenValidationsTotal.WithLabelValues(code).Inc()
			failGate(c, rec, audit.ActionTokenRejected, token.Mask(raw), err)
			return
		}

		telemetry.TokenValidationsTotal.WithLabelValues("accepted").Inc()

		c.Set(TokenInfoKey, info)
		c.Set(ScopesKey, info.Scopes)
		c.Set(ActorKey, token.Mask(raw))

		c.Next()
	}
}

// extractToken pulls the credential from Authorization: Bearer or the
// PRIVATE-TOKEN header. Absence or a malformed Authorization scheme is a
// MALFORMED_TOKEN rejection; validity is the validator's concern.
func extractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", gateerr.MalformedToken("authorization header must use the Bearer scheme")
		}
		tok := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tok == "" {
			return "", gateerr.MalformedToken("authorization token is empty")
		}
		return tok, nil
	}

	if tok := strings.TrimSpace(c.GetHeader(PrivateTokenHeader)); tok != "" {
		return tok, nil
	}

	return "", gateerr.MalformedToken("missing credentials")
}

// TokenInfo returns the validated token info set by AuthMiddleware, or nil
// when the request has not passed authentication.
func TokenInfo(c *gin.Context) *token.Info {
	v, exists := c.Get(TokenInfoKey)
	if !exists {
		return nil
	}
	info, ok := v.(*token.Info)
	if !ok {
		return nil
	}
	return info
}

// Actor returns the masked credential display for the request, falling back
// to the client address for unauthenticated requests.
func Actor(c *gin.Context) string {
	if actor := c.GetString(ActorKey); actor != "" {
		return actor
	}
	return c.ClientIP()
}
