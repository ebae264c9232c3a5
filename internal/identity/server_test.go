package identity

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/trust"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// serverSecret はテスト用のGateway署名シークレット。
const serverSecret = "identity-server-gateway-secret"

// setupTestServer はテスト用の認証サーバーを構築する。
func setupTestServer(t *testing.T) (*fixture, http.Handler) {
	t.Helper()

	f := newFixture(t)
	s := NewServer(ServerConfig{
		Port:    "0",
		Service: f.service,
		Trust: middleware.TrustConfig{
			Verifier: trust.NewVerifier(serverSecret, time.Minute, f.clock.Now),
			Enabled:  true,
			Logger:   zerolog.Nop(),
		},
		CookieSecure: true,
		Logger:       zerolog.Nop(),
	})
	return f, s.Handler()
}

// doJSON はJSONボディ付きのリクエストを実行する。
func doJSON(h http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// refreshCookie はレスポンスからリフレッシュトークンCookieを取り出す。
func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range w.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	t.Fatalf("%s Cookieが設定されていない: %v", RefreshCookieName, w.Header().Values("Set-Cookie"))
	return nil
}

func decodeAuth(t *testing.T, w *httptest.ResponseRecorder) authResponse {
	t.Helper()

	var resp authResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	return resp
}

// TestAuthEndpoints は認証エンドポイントを検証する。
func TestAuthEndpoints(t *testing.T) {
	t.Parallel()

	register := func(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
		t.Helper()
		w := doJSON(h, http.MethodPost, "/api/v1/auth/register",
			gin.H{"email": "a@x.com", "password": testPassword, "name": "Alice"})
		if w.Code != http.StatusCreated {
			t.Fatalf("登録のステータスコード = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
		}
		return w
	}

	t.Run("登録で201とアクセストークンとCookieが返ること", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		w := register(t, h)

		resp := decodeAuth(t, w)
		if resp.AccessToken == "" || resp.TokenType != "Bearer" {
			t.Errorf("レスポンス = %+v", resp)
		}
		if resp.ExpiresIn != int64((15 * time.Minute).Seconds()) {
			t.Errorf("expires_in = %d, want %d", resp.ExpiresIn, int64((15 * time.Minute).Seconds()))
		}
		if strings.Contains(w.Body.String(), "refresh") {
			t.Errorf("ボディにリフレッシュトークンが含まれている: %s", w.Body.String())
		}

		c := refreshCookie(t, w)
		if !c.HttpOnly || !c.Secure || c.Path != "/" {
			t.Errorf("Cookie属性 = HttpOnly:%v Secure:%v Path:%q", c.HttpOnly, c.Secure, c.Path)
		}
		if c.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
			t.Errorf("Max-Age = %d, want %d", c.MaxAge, int((7 * 24 * time.Hour).Seconds()))
		}
	})

	t.Run("同じメールアドレスでの登録は409になること", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		register(t, h)
		w := doJSON(h, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "a@x.com", "password": testPassword})

		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("ログインの成否", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		register(t, h)

		w := doJSON(h, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@x.com", "password": testPassword})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		refreshCookie(t, w)

		w = doJSON(h, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@x.com", "password": "wrong-password"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("誤ったパスワードのステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}

		w = doJSON(h, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "a@x.com"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("パスワード無しのステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("Cookieでトークンを再発行でき古いCookieは使えなくなること", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		old := refreshCookie(t, register(t, h))

		w := doJSON(h, http.MethodPost, "/api/v1/auth/refresh", nil, old)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		rotated := refreshCookie(t, w)
		if rotated.Value == old.Value {
			t.Error("Cookieが更新されていない")
		}

		w = doJSON(h, http.MethodGet, "/api/v1/auth/refresh", nil, old)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("古いCookieのステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if c := refreshCookie(t, w); c.MaxAge >= 0 {
			t.Errorf("拒否時にCookieが削除されていない: Max-Age = %d", c.MaxAge)
		}
	})

	t.Run("Cookieが無い再発行は401になること", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		w := doJSON(h, http.MethodPost, "/api/v1/auth/refresh", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("ログアウトでトークンが失効しCookieが削除されること", func(t *testing.T) {
		t.Parallel()

		f, h := setupTestServer(t)
		w := register(t, h)
		access := decodeAuth(t, w).AccessToken
		cookie := refreshCookie(t, w)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		req.AddCookie(cookie)
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		if c := refreshCookie(t, w); c.MaxAge >= 0 || c.Value != "" {
			t.Errorf("Cookie = %+v, want Max-Age=0", c)
		}
		if !strings.Contains(w.Header().Get("Set-Cookie"), "Max-Age=0") {
			t.Errorf("Set-Cookie = %q, want Max-Age=0", w.Header().Get("Set-Cookie"))
		}
		if revoked, _ := f.ledger.IsBlacklisted(t.Context(), access); !revoked {
			t.Error("アクセストークンがブラックリストに登録されていない")
		}
		w = doJSON(h, http.MethodPost, "/api/v1/auth/refresh", nil, cookie)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ログアウト後の再発行のステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("トークン無しのログアウトでもCookieは削除されること", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		w := doJSON(h, http.MethodPost, "/api/v1/auth/logout", nil)

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
		refreshCookie(t, w)
	})
}

// TestAccountEndpoint はGatewayを経由したアカウント参照を検証する。
func TestAccountEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("署名付きのリクエストでユーザー情報が返ること", func(t *testing.T) {
		t.Parallel()

		f, h := setupTestServer(t)
		sess := f.register(t, "a@x.com")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account", nil)
		trust.Mint(serverSecret, sess.User.ID, "a@x.com", []string{RoleUser}, f.clock.Now()).Apply(req.Header)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
		}
		var body struct {
			User  UserSummary `json:"user"`
			Admin bool        `json:"admin"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body.User.Email != "a@x.com" || body.Admin {
			t.Errorf("レスポンス = %+v", body)
		}
	})

	t.Run("直接アクセスは403になること", func(t *testing.T) {
		t.Parallel()

		_, h := setupTestServer(t)
		w := doJSON(h, http.MethodGet, "/api/v1/auth/account", nil)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("ロールが無い場合は403になること", func(t *testing.T) {
		t.Parallel()

		f, h := setupTestServer(t)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/account", nil)
		trust.Mint(serverSecret, "1", "a@x.com", nil, f.clock.Now()).Apply(req.Header)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}
