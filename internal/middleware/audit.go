package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

// maxAuditBody bounds how much of a request body reaches the message feed.
const maxAuditBody = 512

// ControlAuditMiddleware records every mutating control request in the
// message feed, so manual overrides show up next to trading activity.
func ControlAuditMiddleware(msgs *service.MessageLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.New().String()
		c.Header(HeaderRequestID, reqID)

		if !isMutation(c.Request.Method) {
			c.Next()
			return
		}

		var reqBodyBytes []byte
		if c.Request.Body != nil {
			reqBodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBodyBytes))
		}

		c.Next()

		status := c.Writer.Status()
		if len(c.Errors) > 0 && !c.Writer.Written() {
			// rendered later by ErrorHandler
			status = apperrors.Wrap(c.Errors.Last().Err).HTTPStatus
		}
		msgs.Info(strings.ToUpper(c.Param("symbol")), "control %s %s -> %d in %dms %s [%s]",
			c.Request.Method,
			c.Request.URL.Path,
			status,
			time.Since(start).Milliseconds(),
			redactAuditBody(reqBodyBytes),
			reqID,
		)
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func redactAuditBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	redacted, ok := redactJSON(body)
	if !ok {
		return "[redacted]"
	}
	if len(redacted) > maxAuditBody {
		return string(redacted[:maxAuditBody]) + "..."
	}
	return string(redacted)
}

func redactJSON(body []byte) ([]byte, bool) {
	var data interface{}
	if err := sonic.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	redactValue(&data)
	out, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func redactValue(v *interface{}) {
	switch raw := (*v).(type) {
	case map[string]interface{}:
		for key, val := range raw {
			if isSensitiveKey(key) {
				raw[key] = "***"
				continue
			}
			vv := val
			redactValue(&vv)
			raw[key] = vv
		}
	case []interface{}:
		for i, val := range raw {
			vv := val
			redactValue(&vv)
			raw[i] = vv
		}
	}
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "api_key",
		"apikey",
		"api_secret",
		"apisecret",
		"secret",
		"signature",
		"control_key",
		"password":
		return true
	default:
		return false
	}
}
