package middleware

import (
	"crypto/subtle"

	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

const HeaderControlKey = "X-Control-Key"

// ControlKeyMiddleware guards the control API with a shared key.
func ControlKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "control key not configured", nil))
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(HeaderControlKey)), []byte(key)) != 1 {
			c.Error(apperrors.New(apperrors.ErrAuthFailed, "invalid control key", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
