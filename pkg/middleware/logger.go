package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID はリクエストを追跡するためのIDヘッダー。
// Gatewayで採番し、内部サービスへそのまま伝播する。
const HeaderRequestID = "X-Request-Id"

// RequestLogger はリクエストごとのロガーをコンテキストに設定し、
// 処理完了時にステータスと所要時間を記録するGinミドルウェアを返す。
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
			c.Request.Header.Set(HeaderRequestID, reqID)
		}
		c.Header(HeaderRequestID, reqID)

		l := logger.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote", c.ClientIP()).
			Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		// ヘルスチェックの成功は記録しない
		if c.Request.URL.Path == "/health" && status < 400 {
			return
		}
		ev := l.Info()
		if status >= 500 {
			ev = l.Error()
		}
		if a, ok := Principal(c); ok && a.SubjectEmail != "" {
			ev = ev.Str("email", a.SubjectEmail)
		}
		ev.Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request.handled")
	}
}
