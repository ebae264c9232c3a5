package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TestRecovery はRecoveryミドルウェアを検証する。
func TestRecovery(t *testing.T) {
	t.Parallel()

	newRouter := func(logger zerolog.Logger) *gin.Engine {
		router := gin.New()
		router.Use(RequestLogger(logger), Recovery())
		router.GET("/panic", func(_ *gin.Context) {
			panic("テスト用パニック")
		})
		router.POST("/panic-error", func(_ *gin.Context) {
			panic(http.ErrAbortHandler)
		})
		router.GET("/ok", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	t.Run("パニックが発生した場合500と汎用メッセージが返ること", func(t *testing.T) {
		t.Parallel()

		router := newRouter(zerolog.Nop())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if body["error"] != "internal server error" {
			t.Errorf("error = %q, want %q", body["error"], "internal server error")
		}
	})

	t.Run("error型のパニック値でも500が返ること", func(t *testing.T) {
		t.Parallel()

		router := newRouter(zerolog.Nop())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/panic-error", nil))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})

	t.Run("パニックがリクエストのロガーに記録されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		router := newRouter(zerolog.New(&buf))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		out := buf.String()
		if !strings.Contains(out, "panic.recovered") {
			t.Errorf("ログにパニックが記録されていない: %s", out)
		}
		if !strings.Contains(out, "テスト用パニック") {
			t.Errorf("ログにパニック値が含まれていない: %s", out)
		}
	})

	t.Run("パニック後もサーバーが次のリクエストを処理できること", func(t *testing.T) {
		t.Parallel()

		router := newRouter(zerolog.Nop())
		w1 := httptest.NewRecorder()
		router.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/panic", nil))
		if w1.Code != http.StatusInternalServerError {
			t.Errorf("1回目のステータスコード = %d, want %d", w1.Code, http.StatusInternalServerError)
		}

		w2 := httptest.NewRecorder()
		router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if w2.Code != http.StatusOK {
			t.Errorf("2回目のステータスコード = %d, want %d", w2.Code, http.StatusOK)
		}
	})
}
