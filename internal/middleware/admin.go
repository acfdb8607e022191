package middleware

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/pkg/errors"
	"github.com/learntrackhq/learntrack/pkg/response"
)

// RequireAdmin rejects requests whose authenticated user lacks the admin flag.
// It must run after Auth.
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get(CtxUserIDKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).
			Take(&user, "id = ?", userID).Error; err != nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !user.IsAdmin || !user.IsActive {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
