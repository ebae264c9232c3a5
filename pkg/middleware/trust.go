package middleware

import (
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/policy"
	"github.com/nao1215/jobhunter/pkg/trust"
)

// TrustConfig は内部サービスの入口で信頼アサーションとロールを検証するミドルウェアの設定。
type TrustConfig struct {
	// Verifier は信頼アサーションの検証器。
	Verifier trust.TrustVerifier
	// Policies はルートごとのロール要件。nilの場合はロール検証を行わない。
	Policies *policy.Table
	// Enabled がfalseの場合は署名検証を省略し、ヘッダーの識別情報をそのまま使う。
	Enabled bool
	// ExemptSafeMethods がtrueの場合、ポリシーの無いルートへの参照系リクエストは署名検証を省略する。
	ExemptSafeMethods bool
	// SkipPaths は検証を一切行わないパス（ヘルスチェック等）。
	SkipPaths []string
	// Logger はコンテキストにロガーが無い場合に使用する。
	Logger zerolog.Logger
	// Metrics は判定結果の記録先。nilの場合は記録しない。
	Metrics *metrics.Metrics
}

// GatewayTrust はGatewayが付与した信頼アサーションを検証し、ルートのロール要件を
// 適用するGinミドルウェアを返す。
//
// ポリシーは登録済みのルートパターン（c.FullPath）で参照し、ルート単位の
// ポリシーが無ければグループ単位のポリシーを使う。どちらも無ければ制限なし。
func GatewayTrust(cfg TrustConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		logger := contextLogger(c, cfg.Logger)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		var (
			p         policy.Policy
			hasPolicy bool
		)
		if cfg.Policies != nil {
			p, hasPolicy = cfg.Policies.Lookup(c.Request.Method, route)
			hasPolicy = hasPolicy && !p.IsEmpty()
		}

		var assertion *trust.Assertion
		if !cfg.Enabled || (cfg.ExemptSafeMethods && !hasPolicy && policy.IsSafeMethod(c.Request.Method)) {
			a := trust.IdentityFromHeader(c.Request.Header)
			assertion = &a
			cfg.Metrics.TrustDecision(metrics.OutcomeSkipped)
		} else {
			verified, err := cfg.Verifier.Verify(c.Request.Header)
			if err != nil {
				logTrustFailure(logger, c, err)
				if apperror.KindOf(err) == apperror.KindMalformedRequest {
					cfg.Metrics.TrustDecision(metrics.OutcomeMalformed)
				} else {
					cfg.Metrics.TrustDecision(metrics.OutcomeTrustViolation)
				}
				apperror.Respond(c, err)
				return
			}
			assertion = verified
		}

		if hasPolicy {
			if len(assertion.Roles) == 0 {
				cfg.Metrics.TrustDecision(metrics.OutcomeForbidden)
				apperror.Respond(c, apperror.New(apperror.KindAuthorizationFailure, "authentication required", nil))
				return
			}
			if !p.Allows(assertion.Roles) {
				logger.Info().
					Str("email", assertion.SubjectEmail).
					Strs("roles", assertion.Roles).
					Strs("required", p.Roles).
					Bool("match_all", p.MatchAll).
					Msg("trust.access_denied")
				cfg.Metrics.TrustDecision(metrics.OutcomeForbidden)
				apperror.Respond(c, apperror.New(apperror.KindAuthorizationFailure,
					"access denied; required roles: "+strings.Join(p.Roles, ", "), nil))
				return
			}
		}

		c.Set(principalKey, assertion)
		cfg.Metrics.TrustDecision(metrics.OutcomeAllowed)
		c.Next()
	}
}

// logTrustFailure は信頼アサーションの検証失敗を記録する。
// 欠落・失効・偽造はバイパスの試行とみなしてセキュリティアラートとして扱う。
func logTrustFailure(logger *zerolog.Logger, c *gin.Context, err error) {
	ev := logger.Warn()
	if apperror.KindOf(err) == apperror.KindTrustViolation {
		ev = ev.Str("alert", "security")
	}
	ev.Err(err).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("remote", c.ClientIP()).
		Str("claimed_email", c.GetHeader(trust.HeaderUserEmail)).
		Msg("trust.rejected")
}

// Handle はルートとそのロール要件をまとめて登録する。
// 空のポリシーを渡した場合はルートのみ登録し、グループのポリシーが適用される。
func Handle(g *gin.RouterGroup, table *policy.Table, method, relativePath string, p policy.Policy, handlers ...gin.HandlerFunc) {
	full := g.BasePath()
	if relativePath != "" {
		full = path.Join(full, relativePath)
	}
	if !p.IsEmpty() {
		table.SetRoute(method, full, p)
	}
	g.Handle(method, relativePath, handlers...)
}

// Restrict はグループ全体にロール要件を設定する。
func Restrict(g *gin.RouterGroup, table *policy.Table, p policy.Policy) {
	table.SetGroup(g.BasePath(), p)
}
