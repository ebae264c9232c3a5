package identity

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
)

// RefreshCookieName はリフレッシュトークンを格納するCookie名。
const RefreshCookieName = "refresh_token"

// Server は認証サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// service はトークンの発行・失効を行う。
	service *Service
	// cookieSecure はリフレッシュトークンCookieにSecure属性を付けるか。
	cookieSecure bool
	// policies はルートごとのロール要件。
	policies *policy.Table
}

// ServerConfig は認証サービスの構成要素。
type ServerConfig struct {
	Port         string
	Service      *Service
	Trust        middleware.TrustConfig
	CookieSecure bool
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// NewServer は新しい認証サーバーを生成する。
func NewServer(cfg ServerConfig) *Server {
	router := gin.New()
	router.Use(middleware.RequestLogger(cfg.Logger))
	router.Use(middleware.Recovery())
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Instrument())
	}

	s := &Server{
		router:       router,
		port:         cfg.Port,
		service:      cfg.Service,
		cookieSecure: cfg.CookieSecure,
		policies:     policy.NewTable(),
	}
	s.setupRoutes(cfg)
	return s
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
func (s *Server) setupRoutes(cfg ServerConfig) {
	// トークン発行系はGatewayが認証せずに転送する
	auth := s.router.Group("/api/v1/auth")
	{
		auth.POST("/login", s.handleLogin())
		auth.POST("/register", s.handleRegister())
		auth.GET("/refresh", s.handleRefresh())
		auth.POST("/refresh", s.handleRefresh())
		auth.POST("/logout", s.handleLogout())
	}

	trustCfg := cfg.Trust
	trustCfg.Policies = s.policies
	account := s.router.Group("/api/v1/auth/account")
	account.Use(middleware.GatewayTrust(trustCfg))
	middleware.Restrict(account, s.policies, policy.AnyOf(RoleUser, RoleHR, RoleAdmin))
	middleware.Handle(account, s.policies, http.MethodGet, "", policy.Policy{}, s.handleAccount())

	if cfg.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "identity"})
	})
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

// authResponse はトークン発行時のレスポンス。
// リフレッシュトークンはボディに含めずCookieでのみ返す。
type authResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        UserSummary `json:"user"`
}

// handleLogin はログインを処理するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperror.Respond(c, apperror.New(apperror.KindMalformedRequest, "email and password are required", err))
			return
		}

		sess, err := s.service.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.respondSession(c, http.StatusOK, sess)
	}
}

// handleRegister はユーザー登録を処理するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperror.Respond(c, apperror.New(apperror.KindMalformedRequest, "email and password are required", err))
			return
		}

		sess, err := s.service.Register(c.Request.Context(), RegisterInput(req))
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.respondSession(c, http.StatusCreated, sess)
	}
}

// handleRefresh はCookieのリフレッシュトークンでトークンを再発行するハンドラを返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(RefreshCookieName)
		if err != nil || raw == "" {
			apperror.Respond(c, apperror.New(apperror.KindAuthenticationFailure, "refresh token is missing", err))
			return
		}

		sess, err := s.service.Refresh(c.Request.Context(), raw)
		if err != nil {
			if apperror.KindOf(err) == apperror.KindAuthenticationFailure {
				s.clearRefreshCookie(c)
			}
			s.respondError(c, err)
			return
		}
		s.respondSession(c, http.StatusOK, sess)
	}
}

// handleLogout はログアウトを処理するハンドラを返す。
// トークンが無効でもCookieは必ず削除し、204を返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		access, _ := middleware.BearerToken(c.GetHeader("Authorization"))
		refresh, _ := c.Cookie(RefreshCookieName)

		if email := s.service.SubjectEmail(access, refresh); email != "" {
			s.service.Logout(c.Request.Context(), access, email)
		}
		s.clearRefreshCookie(c)
		c.Status(http.StatusNoContent)
	}
}

// handleAccount は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := middleware.Principal(c)
		if !ok || principal.SubjectEmail == "" {
			apperror.Respond(c, apperror.New(apperror.KindAuthorizationFailure, "authentication required", nil))
			return
		}

		user, err := s.service.Account(c.Request.Context(), principal.SubjectEmail)
		if errors.Is(err, ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":  user,
			"roles": principal.Roles,
			"admin": principal.HasRole(RoleAdmin),
		})
	}
}

// respondSession はアクセストークンをボディに、リフレッシュトークンをCookieに設定して返す。
func (s *Server) respondSession(c *gin.Context, status int, sess *Session) {
	maxAge := int(sess.RefreshToken.ExpiresAt.Sub(sess.RefreshToken.IssuedAt).Seconds())
	s.setRefreshCookie(c, sess.RefreshToken.Token, maxAge)
	c.JSON(status, authResponse{
		AccessToken: sess.AccessToken.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(sess.AccessToken.ExpiresAt.Sub(sess.AccessToken.IssuedAt).Seconds()),
		ExpiresAt:   sess.AccessToken.ExpiresAt,
		User:        sess.User,
	})
}

func (s *Server) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(RefreshCookieName, value, maxAge, "/", "", s.cookieSecure, true)
}

// clearRefreshCookie はMax-Age=0のCookieでリフレッシュトークンを削除する。
func (s *Server) clearRefreshCookie(c *gin.Context) {
	s.setRefreshCookie(c, "", -1)
}

// respondError は分類済みのエラーをそのまま返し、分類外のエラーは記録して500を返す。
func (s *Server) respondError(c *gin.Context, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("identity.internal_error")
	}
	apperror.Respond(c, err)
}
