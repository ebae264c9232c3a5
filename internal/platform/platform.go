// Package platform は各サービスのエントリポイントが共通で行う初期化をまとめる。
//
// 設定の読み込み、ロガーとメトリクスの生成、キーバリューストアの選択、
// 信頼アサーション検証の設定をここで一度だけ組み立てる。
package platform

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/config"
	"github.com/nao1215/jobhunter/pkg/kvstore"
	"github.com/nao1215/jobhunter/pkg/ledger"
	"github.com/nao1215/jobhunter/pkg/logging"
	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/token"
	"github.com/nao1215/jobhunter/pkg/trust"
)

// Runtime は1つのサービスプロセスが共有する構成要素。
type Runtime struct {
	// Service はサービス名。ログとメトリクスのラベルに使う。
	Service string
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Init は設定を読み込み、グローバルロガーとメトリクスを初期化する。
func Init(service string) (*Runtime, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	return New(service, cfg, logging.Init(cfg.LogLevel, cfg.LogFormat, service)), nil
}

// New は読み込み済みの設定からRuntimeを生成する。
func New(service string, cfg *config.Config, logger zerolog.Logger) *Runtime {
	if cfg.UsesDevSecrets() {
		logger.Warn().Msg("開発用のデフォルトシークレットが使われています。本番環境では JWT_SECRET と GATEWAY_SIGNATURE_SECRET を設定してください")
	}
	if !cfg.GatewaySignatureEnabled {
		logger.Warn().Msg("Gateway署名の検証が無効です")
	}
	return &Runtime{
		Service: service,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(service),
	}
}

// OpenKVStore は設定されたバックエンドのキーバリューストアを返す。
// 返却する関数で接続を閉じる。
func (r *Runtime) OpenKVStore(ctx context.Context) (kvstore.Store, func() error, error) {
	switch r.Config.KVBackend {
	case config.KVBackendMemory:
		r.Logger.Warn().Msg("インメモリのキーバリューストアを使用します。台帳はプロセス間で共有されません")
		return kvstore.NewMemory(nil), func() error { return nil }, nil
	case config.KVBackendRedis:
		store, err := kvstore.NewRedis(ctx, kvstore.RedisOptions{
			Addr:     r.Config.RedisAddr,
			Password: r.Config.RedisPassword,
			DB:       r.Config.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		r.Logger.Info().Str("addr", r.Config.RedisAddr).Msg("Redisに接続しました")
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("未対応のキーバリューストア: %q", r.Config.KVBackend)
	}
}

// Ledger はリフレッシュトークン台帳とブラックリストを生成する。
func (r *Runtime) Ledger(store kvstore.Store) *ledger.Ledger {
	return ledger.New(store, r.Config.RefreshTokenTTL, r.Config.LedgerTimeout)
}

// Codec はアクセス・リフレッシュトークンのコーデックを生成する。
func (r *Runtime) Codec() (*token.Codec, error) {
	return token.NewCodec([]byte(r.Config.JWTSecret), r.Config.AccessTokenTTL, r.Config.RefreshTokenTTL)
}

// Trust は内部サービスの入口で使う信頼アサーション検証の設定を返す。
func (r *Runtime) Trust() middleware.TrustConfig {
	return middleware.TrustConfig{
		Verifier:  trust.NewVerifier(r.Config.GatewaySecret, r.Config.GatewayTolerance, nil),
		Enabled:   r.Config.GatewaySignatureEnabled,
		SkipPaths: []string{"/health", "/metrics"},
		Logger:    r.Logger,
		Metrics:   r.Metrics,
	}
}

// Edge はGatewayで使うアクセストークン検証の設定を返す。
func (r *Runtime) Edge(codec *token.Codec, revocations middleware.RevocationChecker) middleware.EdgeConfig {
	return middleware.EdgeConfig{
		Codec:       codec,
		Revocations: revocations,
		Secret:      r.Config.GatewaySecret,
		Logger:      r.Logger,
		Metrics:     r.Metrics,
	}
}

// AllowedOrigins はCORSで許可するオリジンを返す。
// FRONTEND_URL はカンマ区切りで複数指定できる。
func (r *Runtime) AllowedOrigins() []string {
	return config.SplitList(r.Config.FrontendURL)
}

// AuthRateLimit はGatewayの資格情報発行経路に適用する要求数制限の設定を返す。
func (r *Runtime) AuthRateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		PerSecond: r.Config.AuthRateLimit,
		Burst:     r.Config.AuthRateBurst,
		Logger:    r.Logger,
	}
}
