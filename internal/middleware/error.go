package middleware

import (
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last handler error as an AppError body.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := apperrors.Wrap(c.Errors.Last().Err)

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if symbol := c.Param("symbol"); symbol != "" {
			logFields = append(logFields, "symbol", symbol)
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "Control request failed", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		c.JSON(appErr.HTTPStatus, appErr)
	}
}
