package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig はGatewayのクロスオリジン設定。
type CORSConfig struct {
	// AllowedOrigins は資格情報付きのアクセスを許可するオリジン。完全一致で比較する。
	AllowedOrigins []string
	// MaxAge はプリフライト結果のキャッシュ期間。0の場合は24時間。
	MaxAge time.Duration
}

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	corsAllowedHeaders = []string{"Authorization", "Content-Type", HeaderRequestID}
	corsExposedHeaders = []string{HeaderRequestID, "Retry-After"}
)

// CORS は許可したオリジンからのクロスオリジンリクエストを受け付けるGinミドルウェアを返す。
// リフレッシュトークンをCookieで受け渡すため、許可したオリジンには資格情報の送信も許可する。
// 許可していないオリジンからのプリフライトは403で拒否する。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	methods := strings.Join(corsAllowedMethods, ", ")
	headers := strings.Join(corsAllowedHeaders, ", ")
	exposed := strings.Join(corsExposedHeaders, ", ")
	maxAgeSeconds := strconv.Itoa(int(maxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Writer.Header().Add("Vary", "Origin")
		_, ok := allowed[origin]
		if ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Expose-Headers", exposed)
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if origin != "" && !ok && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		if ok {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAgeSeconds)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
