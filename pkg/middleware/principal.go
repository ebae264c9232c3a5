package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/trust"
)

// principalKey はGinコンテキストに認証済みの主体を格納するキー。
const principalKey = "middleware.principal"

// Principal はGinコンテキストから認証済みの主体を取得する。
// EdgeAuth または GatewayTrust が事前に適用されている必要がある。
func Principal(c *gin.Context) (*trust.Assertion, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	a, ok := v.(*trust.Assertion)
	return a, ok && a != nil
}

// UserID はGinコンテキストから認証済みユーザーのIDを取得する。
// 主体が無い場合は空文字列を返す。
func UserID(c *gin.Context) string {
	if a, ok := Principal(c); ok {
		return a.SubjectID
	}
	return ""
}

// contextLogger はリクエストコンテキストのロガーを返す。
// RequestLogger が適用されていない場合はfallbackを使用する。
func contextLogger(c *gin.Context, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request.Context()); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &fallback
}
