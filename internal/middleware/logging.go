package middleware

import (
	"bytes"
	"io"
	"lingua-chat-go/pkg/log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// 这些路径的请求体含有密码或 token，不写入日志。
var redactedPaths = []string{"/users/register", "/users/login", "/auth/refreshToken"}

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func redacted(path string) bool {
	for _, p := range redactedPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// RequestLogger 记录请求与响应。WebSocket 升级请求只记录请求行。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		if c.IsWebsocket() {
			c.Next()
			log.Infow("WebSocket Request Log", "path", path, "clientIP", c.ClientIP(), "latency", time.Since(startTime).String())
			return
		}

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		reqLog, respLog := string(requestBody), blw.body.String()
		if redacted(path) {
			reqLog, respLog = "[redacted]", "[redacted]"
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"requestBody", reqLog,
			"responseBody", respLog,
		)
	}
}
