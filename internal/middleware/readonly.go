package middleware

import (
	"net/http"

	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
			c.Abort()
		}
	}
}
