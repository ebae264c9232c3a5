package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/token"
	"github.com/nao1215/jobhunter/pkg/trust"
)

// RevocationChecker はアクセストークンが失効済みかを判定する。
// ledger.Ledger が実装する。
type RevocationChecker interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// EdgeConfig はGatewayの認証ミドルウェアの設定。
type EdgeConfig struct {
	// Codec はアクセストークンの検証に使用する。
	Codec *token.Codec
	// Revocations はブラックリストの参照先。
	Revocations RevocationChecker
	// Secret は信頼アサーションの署名に使用する共有シークレット。
	Secret string
	// Logger はコンテキストにロガーが無い場合に使用する。
	Logger zerolog.Logger
	// Metrics は判定結果の記録先。nilの場合は記録しない。
	Metrics *metrics.Metrics
	// Now は現在時刻を返す。nilの場合は time.Now を使用する。
	Now func() time.Time
}

// EdgeAuth はBearerトークンを検証し、信頼アサーションに置き換えるGinミドルウェアを返す。
//
// 検証に成功した場合、Authorizationヘッダーを取り除き、X-User-* と
// X-Gateway-* ヘッダーを設定して後続（プロキシ）へ渡す。ブラックリストの
// 参照に失敗した場合は401で拒否する。
func EdgeAuth(cfg EdgeConfig) gin.HandlerFunc {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		logger := contextLogger(c, cfg.Logger)

		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			cfg.Metrics.EdgeDecision(metrics.OutcomeAnonymous)
			apperror.Respond(c, apperror.New(apperror.KindAuthenticationFailure,
				"missing or malformed authorization header", nil))
			return
		}

		claims, err := cfg.Codec.ParseAccess(raw)
		if err != nil {
			logger.Debug().Err(err).Msg("edge.invalid_token")
			cfg.Metrics.EdgeDecision(metrics.OutcomeInvalidToken)
			apperror.Respond(c, apperror.New(apperror.KindAuthenticationFailure, "invalid or expired token", err))
			return
		}

		revoked, err := cfg.Revocations.IsBlacklisted(c.Request.Context(), raw)
		if err != nil {
			logger.Error().Err(err).Str("email", claims.Email()).Msg("edge.revocation_lookup_failed")
			cfg.Metrics.EdgeDecision(metrics.OutcomeLedgerError)
			apperror.Respond(c, apperror.New(apperror.KindAuthenticationFailure, "unable to verify token", err))
			return
		}
		if revoked {
			logger.Warn().Str("email", claims.Email()).Str("jti", claims.ID).Msg("edge.token_revoked")
			cfg.Metrics.EdgeDecision(metrics.OutcomeRevoked)
			apperror.Respond(c, apperror.New(apperror.KindTokenRevoked, "token has been revoked; please login again", nil))
			return
		}

		assertion := trust.Mint(cfg.Secret, claims.User.ID, claims.Email(), claims.Permissions, now())
		c.Request.Header.Del("Authorization")
		trust.Strip(c.Request.Header)
		assertion.Apply(c.Request.Header)
		c.Set(principalKey, &assertion)

		cfg.Metrics.EdgeDecision(metrics.OutcomeAllowed)
		c.Next()
	}
}

// StripTrustHeaders はクライアントが送信した信頼アサーションヘッダーを取り除くGinミドルウェアを返す。
// Gatewayの全ルートに適用する。
func StripTrustHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		trust.Strip(c.Request.Header)
		c.Next()
	}
}

// BearerToken は "Bearer <token>" 形式のヘッダー値からトークンを取り出す。
func BearerToken(header string) (string, bool) {
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}
