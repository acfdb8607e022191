package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learntrackhq/learntrack/internal/auth"
	"github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

const (
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxSessionKey   = "sessionContext"

	// SessionWarningHeader is set when the session is close to expiry so
	// clients can prompt for re-authentication.
	SessionWarningHeader = "X-Session-Expiring"
)

// Auth enforces bearer-token authentication using the session service.
func Auth(sessions *auth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		session, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		if session.ExpiringSoon {
			c.Header(SessionWarningHeader, session.RemainingTTL.Truncate(time.Second).String())
		}

		// Propagate identity into request context
		c.Set(CtxSessionKey, session)
		c.Set(CtxUserIDKey, session.UserID)
		c.Set(CtxSessionIDKey, session.SessionID)

		c.Next()
	}
}
