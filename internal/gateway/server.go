package gateway

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/config"
	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/middleware"
)

// DefaultUpstreamTimeout は内部サービスへの転送1回あたりのタイムアウト。
const DefaultUpstreamTimeout = 30 * time.Second

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// client は内部サービスへの転送に使うHTTPクライアント。
	client *http.Client
	// services は内部サービスのURL。
	services config.ServiceURLs
}

// Config はGatewayの構成要素。
type Config struct {
	Port string
	// Services は転送先の内部サービスのベースURL。
	Services config.ServiceURLs
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// Edge はアクセストークンの検証と信頼アサーションの生成の設定。
	Edge    middleware.EdgeConfig
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Client は転送に使うHTTPクライアント。nilの場合はデフォルトのタイムアウトで生成する。
	Client *http.Client
	// AuthRateLimit はログイン・登録・リフレッシュに適用するクライアントIPごとの要求数制限。
	AuthRateLimit middleware.RateLimitConfig
	// TrustedProxies はX-Forwarded-Forを信頼する手前のプロキシ。空の場合は接続元アドレスを使う。
	TrustedProxies []string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg Config) (*Server, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}
	router.Use(middleware.RequestLogger(cfg.Logger))
	router.Use(middleware.Recovery())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Instrument())
	}
	router.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))
	// 信頼アサーションはGatewayだけが生成する
	router.Use(middleware.StripTrustHeaders())

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultUpstreamTimeout}
	}

	s := &Server{
		router:   router,
		port:     cfg.Port,
		client:   client,
		services: cfg.Services,
	}
	s.setupRoutes(cfg)
	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(cfg Config) {
	edgeCfg := cfg.Edge
	if edgeCfg.Metrics == nil {
		edgeCfg.Metrics = cfg.Metrics
	}
	edge := middleware.EdgeAuth(edgeCfg)
	identity := s.proxyTo(s.services.Identity)
	limit := middleware.RateLimit(cfg.AuthRateLimit)

	// 資格情報の発行経路は認証しない
	auth := s.router.Group("/api/v1/auth")
	{
		auth.POST("/login", limit, identity)
		auth.POST("/register", limit, identity)
		auth.GET("/refresh", limit, identity)
		auth.POST("/refresh", limit, identity)
		auth.POST("/logout", identity)
		auth.GET("/account", edge, identity)
	}

	api := s.router.Group("/api/v1")
	api.Use(edge)
	{
		s.forward(api, "/companies", s.services.Company)
		s.forward(api, "/jobs", s.services.Job)
		s.forward(api, "/skills", s.services.Job)
		s.forward(api, "/resumes", s.services.Resume)
		s.forward(api, "/subscribers", s.services.Notification)
		s.forward(api, "/notifications", s.services.Notification)
	}

	if cfg.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// forward はprefix配下のすべてのメソッドとパスをbaseURLへ転送する。
func (s *Server) forward(g *gin.RouterGroup, prefix, baseURL string) {
	h := s.proxyTo(baseURL)
	g.Any(prefix, h)
	g.Any(prefix+"/*path", h)
}

// proxyTo はリクエストのパスとクエリをそのままbaseURLへ転送するハンドラを返す。
func (s *Server) proxyTo(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		url := strings.TrimSuffix(baseURL, "/") + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			url += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, url)
	}
}

// hopHeaders は転送してはならないホップバイホップヘッダー。
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeader はホップバイホップヘッダーを除いてsrcの値でdstを置き換える。
// Vary はGatewayのCORSが付けた値を残したまま追記する。
func copyHeader(dst, src http.Header) {
	skip := make(map[string]struct{}, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = struct{}{}
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			skip[http.CanonicalHeaderKey(strings.TrimSpace(name))] = struct{}{}
		}
	}
	for k, vs := range src {
		if _, ok := skip[http.CanonicalHeaderKey(k)]; ok {
			continue
		}
		if http.CanonicalHeaderKey(k) == "Vary" {
			mergeVary(dst, vs)
			continue
		}
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// mergeVary はdstに無いVaryの値だけを追加する。
func mergeVary(dst http.Header, vs []string) {
	seen := make(map[string]struct{})
	for _, v := range dst.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			seen[http.CanonicalHeaderKey(strings.TrimSpace(name))] = struct{}{}
		}
	}
	for _, v := range vs {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			key := http.CanonicalHeaderKey(name)
			if _, ok := seen[key]; ok || name == "" {
				continue
			}
			seen[key] = struct{}{}
			dst.Add("Vary", name)
		}
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// 認証済みのリクエストではEdgeAuthが差し替えたヘッダーがそのまま転送される。
func (s *Server) doProxy(c *gin.Context, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("url", url).Msg("gateway.proxy_request_failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	req.ContentLength = c.Request.ContentLength
	copyHeader(req.Header, c.Request.Header)
	if ip, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("url", url).Msg("gateway.upstream_unavailable")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream service unavailable"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Set-Cookieを含むレスポンスヘッダーをそのまま返す
	copyHeader(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("url", url).Msg("gateway.response_copy_failed")
	}
}
