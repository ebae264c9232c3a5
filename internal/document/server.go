package document

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
)

// RouteFunc は /api/v1 グループにサービス固有のルートとポリシーを登録する。
type RouteFunc func(api *gin.RouterGroup, policies *policy.Table)

// ServerConfig は内部サービスのHTTPサーバーの構成要素。
type ServerConfig struct {
	// Name はヘルスチェックで返すサービス名。
	Name    string
	Port    string
	Trust   middleware.TrustConfig
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Server はGatewayの背後で動作する内部サービスのHTTPサーバー。
type Server struct {
	router   *gin.Engine
	port     string
	policies *policy.Table
}

// NewServer は内部サービスのHTTPサーバーを生成する。
// /api/v1 配下はすべて信頼アサーションの検証とポリシー判定を通過する。
func NewServer(cfg ServerConfig, routes ...RouteFunc) *Server {
	router := gin.New()
	router.Use(middleware.RequestLogger(cfg.Logger))
	router.Use(middleware.Recovery())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Instrument())
	}

	s := &Server{
		router:   router,
		port:     cfg.Port,
		policies: policy.NewTable(),
	}

	trustCfg := cfg.Trust
	trustCfg.Policies = s.policies
	if trustCfg.Metrics == nil {
		trustCfg.Metrics = cfg.Metrics
	}
	api := router.Group("/api/v1")
	api.Use(middleware.GatewayTrust(trustCfg))
	for _, r := range routes {
		r(api, s.policies)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Name})
	})
	return s
}

// Policies はルート登録時に構築したポリシーテーブルを返す。
func (s *Server) Policies() *policy.Table {
	return s.policies
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}
