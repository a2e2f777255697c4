// permission.go provides Gin middleware that checks the validated token's
// scopes against the operation a route declares.
package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/auth"
	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
)

// RequireOperation returns middleware enforcing that the authenticated token
// may perform op. Routes declare their operation exactly once, here; the
// scope requirements live in the permission table, never in handlers.
//
// Must run after AuthMiddleware. A missing identity is an internal error:
// it means the chain was assembled wrong, not that the caller did anything
// recoverable.
func RequireOperation(op auth.Operation, dangerousScopes []string, rec *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(OperationKey, string(op))

		info := TokenInfo(c)
		if info == nil {
			failGate(c, rec, audit.ActionInternalError, Actor(c),
				gateerr.Internal(errMissingIdentity))
			return
		}

		if err := auth.RequirePermission(info, op, dangerousScopes); err != nil {
			code := string(gateerr.CodeInternal)
			if ge, ok := gateerr.As(err); ok {
				code = string(ge.Code)
			}
			telemetry.PermissionDenialsTotal.WithLabelValues(string(op), code).Inc()
			failGate(c, rec, audit.ActionPermissionDenied, Actor(c), err)
			return
		}

		c.Next()
	}
}

// errMissingIdentity signals a chain assembled without AuthMiddleware ahead
// of a permission check.
var errMissingIdentity = errors.New("no token identity in context; permission check requires auth middleware")
