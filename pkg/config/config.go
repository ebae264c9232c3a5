// Package config は各サービス共通の設定値を環境変数から読み込む。
//
// すべてのキーにデフォルト値を持たせ、起動時に一度だけLoadを呼び出す。
// 共有シークレットは設定から一度だけ取得し、各コンポーネントに注入する。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 設定キー。環境変数名と一致する。
const (
	KeyPort                    = "PORT"
	KeyLogLevel                = "LOG_LEVEL"
	KeyLogFormat               = "LOG_FORMAT"
	KeyJWTSecret               = "JWT_SECRET"
	KeyAccessTokenTTL          = "ACCESS_TOKEN_TTL"
	KeyRefreshTokenTTL         = "REFRESH_TOKEN_TTL"
	KeyGatewaySignatureSecret  = "GATEWAY_SIGNATURE_SECRET"
	KeyGatewaySignatureEnabled = "GATEWAY_SIGNATURE_ENABLED"
	KeyGatewayTolerance        = "GATEWAY_TIMESTAMP_TOLERANCE"
	KeyCookieSecure            = "COOKIE_SECURE"
	KeyKVBackend               = "KV_BACKEND"
	KeyRedisAddr               = "REDIS_ADDR"
	KeyRedisPassword           = "REDIS_PASSWORD"
	KeyRedisDB                 = "REDIS_DB"
	KeyLedgerTimeout           = "LEDGER_TIMEOUT"
	KeyDatabasePath            = "DATABASE_PATH"
	KeyFrontendURL             = "FRONTEND_URL"
	KeyIdentityURL             = "IDENTITY_URL"
	KeyCompanyURL              = "COMPANY_URL"
	KeyJobURL                  = "JOB_URL"
	KeyResumeURL               = "RESUME_URL"
	KeyNotificationURL         = "NOTIFICATION_URL"
	KeyAuthRateLimit           = "AUTH_RATE_LIMIT"
	KeyAuthRateBurst           = "AUTH_RATE_BURST"
	KeyTrustedProxies          = "TRUSTED_PROXIES"
	KeyAdminEmail              = "ADMIN_EMAIL"
	KeyAdminPassword           = "ADMIN_PASSWORD"
)

// 開発用のデフォルトシークレット。本番環境では必ず上書きすること。
const (
	devJWTSecret       = "dev-secret-key"
	devGatewaySecret   = "dev-gateway-signature-secret"
	KVBackendRedis     = "redis"
	KVBackendMemory    = "memory"
	defaultLogLevel    = "info"
	defaultLogFormat   = "json"
	defaultRedisAddr   = "localhost:6379"
	defaultFrontendURL = "http://localhost:3000"
)

// Config は全サービス共通の設定値。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// LogLevel はログ出力レベル（debug, info, warn, error）。
	LogLevel string
	// LogFormat はログ形式（json, console）。
	LogFormat string

	// JWTSecret はアクセス・リフレッシュトークンの署名シークレット。
	JWTSecret string
	// AccessTokenTTL はアクセストークンの有効期間。
	AccessTokenTTL time.Duration
	// RefreshTokenTTL はリフレッシュトークンの有効期間。
	RefreshTokenTTL time.Duration

	// GatewaySecret はGateway署名の共有シークレット。
	GatewaySecret string
	// GatewaySignatureEnabled がfalseの場合、内部サービスは署名検証を省略する（ローカル開発用）。
	GatewaySignatureEnabled bool
	// GatewayTolerance はGatewayタイムスタンプの許容誤差。
	GatewayTolerance time.Duration

	// CookieSecure はリフレッシュトークンCookieにSecure属性を付けるか。
	CookieSecure bool

	// KVBackend はキーバリューストアの種類（redis, memory）。
	KVBackend string
	// RedisAddr はRedisの接続先。
	RedisAddr string
	// RedisPassword はRedisの認証パスワード。
	RedisPassword string
	// RedisDB はRedisのデータベース番号。
	RedisDB int
	// LedgerTimeout は台帳操作1回あたりのタイムアウト。
	LedgerTimeout time.Duration

	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string

	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string
	// Services は内部サービスのベースURL。
	Services ServiceURLs

	// AuthRateLimit はGatewayの資格情報発行経路でクライアントIPごとに許す1秒あたりの要求数。0で無制限。
	AuthRateLimit float64
	// AuthRateBurst は資格情報発行経路で一度に受け付ける要求数。
	AuthRateBurst int
	// TrustedProxies はX-Forwarded-Forを信頼する手前のプロキシ。空の場合は接続元アドレスを使う。
	TrustedProxies []string

	// AdminEmail が空でない場合、認証サービスは起動時に管理者アカウントを用意する。
	AdminEmail string
	// AdminPassword は初期管理者アカウントのパスワード。
	AdminPassword string
}

// ServiceURLs は内部サービスのベースURL。
type ServiceURLs struct {
	Identity     string
	Company      string
	Job          string
	Resume       string
	Notification string
}

// Load は環境変数から設定を読み込む。
// serviceNameはデフォルトのポートとデータベースパスの決定に使用する。
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Port:                    v.GetString(KeyPort),
		LogLevel:                v.GetString(KeyLogLevel),
		LogFormat:               v.GetString(KeyLogFormat),
		JWTSecret:               v.GetString(KeyJWTSecret),
		AccessTokenTTL:          v.GetDuration(KeyAccessTokenTTL),
		RefreshTokenTTL:         v.GetDuration(KeyRefreshTokenTTL),
		GatewaySecret:           v.GetString(KeyGatewaySignatureSecret),
		GatewaySignatureEnabled: v.GetBool(KeyGatewaySignatureEnabled),
		GatewayTolerance:        v.GetDuration(KeyGatewayTolerance),
		CookieSecure:            v.GetBool(KeyCookieSecure),
		KVBackend:               strings.ToLower(v.GetString(KeyKVBackend)),
		RedisAddr:               v.GetString(KeyRedisAddr),
		RedisPassword:           v.GetString(KeyRedisPassword),
		RedisDB:                 v.GetInt(KeyRedisDB),
		LedgerTimeout:           v.GetDuration(KeyLedgerTimeout),
		DatabasePath:            v.GetString(KeyDatabasePath),
		FrontendURL:             v.GetString(KeyFrontendURL),
		Services: ServiceURLs{
			Identity:     v.GetString(KeyIdentityURL),
			Company:      v.GetString(KeyCompanyURL),
			Job:          v.GetString(KeyJobURL),
			Resume:       v.GetString(KeyResumeURL),
			Notification: v.GetString(KeyNotificationURL),
		},
		AuthRateLimit:  v.GetFloat64(KeyAuthRateLimit),
		AuthRateBurst:  v.GetInt(KeyAuthRateBurst),
		TrustedProxies: SplitList(v.GetString(KeyTrustedProxies)),
		AdminEmail:     v.GetString(KeyAdminEmail),
		AdminPassword:  v.GetString(KeyAdminPassword),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultPorts はサービスごとのデフォルトポート。
var defaultPorts = map[string]string{
	"gateway":      "8080",
	"identity":     "8081",
	"company":      "8082",
	"job":          "8083",
	"resume":       "8084",
	"notification": "8085",
}

func setDefaults(v *viper.Viper, serviceName string) {
	port, ok := defaultPorts[serviceName]
	if !ok {
		port = "8080"
	}
	v.SetDefault(KeyPort, port)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyLogFormat, defaultLogFormat)
	v.SetDefault(KeyJWTSecret, devJWTSecret)
	v.SetDefault(KeyAccessTokenTTL, 15*time.Minute)
	v.SetDefault(KeyRefreshTokenTTL, 7*24*time.Hour)
	v.SetDefault(KeyGatewaySignatureSecret, devGatewaySecret)
	v.SetDefault(KeyGatewaySignatureEnabled, true)
	v.SetDefault(KeyGatewayTolerance, 60*time.Second)
	v.SetDefault(KeyCookieSecure, true)
	v.SetDefault(KeyKVBackend, KVBackendRedis)
	v.SetDefault(KeyRedisAddr, defaultRedisAddr)
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyLedgerTimeout, 2*time.Second)
	v.SetDefault(KeyDatabasePath, fmt.Sprintf("/data/%s.db", serviceName))
	v.SetDefault(KeyFrontendURL, defaultFrontendURL)
	v.SetDefault(KeyIdentityURL, "http://localhost:"+defaultPorts["identity"])
	v.SetDefault(KeyCompanyURL, "http://localhost:"+defaultPorts["company"])
	v.SetDefault(KeyJobURL, "http://localhost:"+defaultPorts["job"])
	v.SetDefault(KeyResumeURL, "http://localhost:"+defaultPorts["resume"])
	v.SetDefault(KeyNotificationURL, "http://localhost:"+defaultPorts["notification"])
	v.SetDefault(KeyAuthRateLimit, 10)
	v.SetDefault(KeyAuthRateBurst, 20)
	v.SetDefault(KeyTrustedProxies, "")
	v.SetDefault(KeyAdminEmail, "")
	v.SetDefault(KeyAdminPassword, "")
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("%s が空です", KeyJWTSecret))
	}
	if c.GatewaySecret == "" {
		errs = append(errs, fmt.Errorf("%s が空です", KeyGatewaySignatureSecret))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s は正の値である必要があります", KeyAccessTokenTTL))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s は正の値である必要があります", KeyRefreshTokenTTL))
	}
	if c.GatewayTolerance <= 0 {
		errs = append(errs, fmt.Errorf("%s は正の値である必要があります", KeyGatewayTolerance))
	}
	if c.KVBackend != KVBackendRedis && c.KVBackend != KVBackendMemory {
		errs = append(errs, fmt.Errorf("%s は %q または %q である必要があります: %q",
			KeyKVBackend, KVBackendRedis, KVBackendMemory, c.KVBackend))
	}
	if c.AuthRateLimit < 0 || c.AuthRateBurst < 0 {
		errs = append(errs, fmt.Errorf("%s と %s は0以上である必要があります", KeyAuthRateLimit, KeyAuthRateBurst))
	}
	if c.AdminEmail != "" && len(c.AdminPassword) < 8 {
		errs = append(errs, fmt.Errorf("%s は8文字以上である必要があります", KeyAdminPassword))
	}
	return errors.Join(errs...)
}

// SplitList はカンマ区切りの値を空要素を除いて分解する。
func SplitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UsesDevSecrets は開発用のデフォルトシークレットが使われているかを返す。
func (c *Config) UsesDevSecrets() bool {
	return c.JWTSecret == devJWTSecret || c.GatewaySecret == devGatewaySecret
}
