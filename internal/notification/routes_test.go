package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/internal/job"
	"github.com/nao1215/jobhunter/pkg/event"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
	"github.com/nao1215/jobhunter/pkg/trust"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const notificationSecret = "notification-gateway-secret"

// setupTestServer はテスト用の通知サーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (http.Handler, *Queries) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	store, err := document.NewStore(db, nil)
	if err != nil {
		t.Fatalf("NewStore()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	queries, err := NewQueries(context.Background(), db, nil)
	if err != nil {
		t.Fatalf("NewQueries()でエラーが発生: %v", err)
	}

	h := document.NewServer(document.ServerConfig{
		Name: "notification",
		Trust: middleware.TrustConfig{
			Verifier:          trust.NewVerifier(notificationSecret, time.Minute, nil),
			Enabled:           true,
			ExemptSafeMethods: true,
			Logger:            zerolog.Nop(),
		},
		Logger: zerolog.Nop(),
	}, NewServer(store, queries).Routes()).Handler()
	return h, queries
}

// request はリクエストを生成する。userIDが空の場合は署名しない。
func request(method, target, body, userID string, roles ...string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		trust.Mint(notificationSecret, userID, userID+"@example.com", roles, time.Now()).Apply(req.Header)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func subscribe(t *testing.T, h http.Handler, userID string, skills ...string) document.Document {
	t.Helper()

	body, _ := json.Marshal(map[string]any{"email": userID + "@example.com", "skills": skills})
	w := serve(h, request(http.MethodPost, "/api/v1/subscribers", string(body), userID, policy.RoleUser))
	if w.Code != http.StatusCreated {
		t.Fatalf("購読のステータス = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var d document.Document
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗: %v", err)
	}
	return d
}

// TestSubscribers は購読者APIを検証する。
func TestSubscribers(t *testing.T) {
	t.Parallel()

	t.Run("購読者の参照は署名なしでも応答すること", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		d := subscribe(t, h, "u-1", "go")

		w := serve(h, request(http.MethodGet, "/api/v1/subscribers/"+d.ID, "", ""))
		if w.Code != http.StatusOK {
			t.Errorf("ステータス = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
	})

	t.Run("署名のない購読登録は403になること", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		w := serve(h, request(http.MethodPost, "/api/v1/subscribers", `{"email":"x@example.com"}`, ""))
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("自分の購読のみ一覧に含まれること", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		subscribe(t, h, "u-1", "go")
		subscribe(t, h, "u-2", "rust")

		w := serve(h, request(http.MethodGet, "/api/v1/subscribers/mine", "", "u-1", policy.RoleUser))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":1`) {
			t.Errorf("一覧 = %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("他人の購読は削除できないこと", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		d := subscribe(t, h, "u-1", "go")

		if w := serve(h, request(http.MethodDelete, "/api/v1/subscribers/"+d.ID, "", "u-2", policy.RoleUser)); w.Code != http.StatusForbidden {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestJobPosted は求人作成の連絡による通知の生成を検証する。
func TestJobPosted(t *testing.T) {
	t.Parallel()

	send := func(h http.Handler, ev *event.Event, roles ...string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(ev)
		return serve(h, request(http.MethodPost, job.PostedPath, string(body), "hr-1", roles...))
	}
	post := func(h http.Handler, p job.Posted, roles ...string) *httptest.ResponseRecorder {
		ev, _ := event.New(p.JobID, event.AggregateTypeJob, event.TypeJobPosted, p)
		return send(h, ev, roles...)
	}

	t.Run("スキルが一致する購読者にのみ通知されること", func(t *testing.T) {
		t.Parallel()

		h, queries := setupTestServer(t)
		subscribe(t, h, "u-go", "go", "sql")
		subscribe(t, h, "u-rust", "rust")
		subscribe(t, h, "u-go", "go")

		w := post(h, job.Posted{JobID: "job-1", Title: "Backend", Skills: []string{"go"}}, policy.RoleHR)
		if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"notified":1`) {
			t.Fatalf("連絡 = %d %s", w.Code, w.Body.String())
		}

		ctx := context.Background()
		got, err := queries.ListNotificationsByUserID(ctx, "u-go")
		if err != nil {
			t.Fatalf("ListNotificationsByUserID()でエラーが発生: %v", err)
		}
		if len(got) != 1 || !strings.Contains(got[0].Title, "Backend") {
			t.Errorf("u-goの通知 = %+v", got)
		}
		if got, _ := queries.ListNotificationsByUserID(ctx, "u-rust"); len(got) != 0 {
			t.Errorf("u-rustに通知された: %+v", got)
		}
	})

	t.Run("一般ユーザーからの連絡は拒否されること", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		if w := post(h, job.Posted{JobID: "job-1"}, policy.RoleUser); w.Code != http.StatusForbidden {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("JobPosted以外のイベントは400になり通知されないこと", func(t *testing.T) {
		t.Parallel()

		h, queries := setupTestServer(t)
		subscribe(t, h, "u-go", "go")
		ev, err := event.New("job-1", event.AggregateTypeJob, "JobDeleted", job.Posted{JobID: "job-1", Skills: []string{"go"}})
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}
		if w := send(h, ev, policy.RoleHR); w.Code != http.StatusBadRequest {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got, _ := queries.ListNotificationsByUserID(context.Background(), "u-go"); len(got) != 0 {
			t.Errorf("通知が作成された: %+v", got)
		}
	})

	t.Run("イベントに包まれていない本文は400になること", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		body := `{"job_id":"job-1","title":"Backend","skills":["go"]}`
		if w := serve(h, request(http.MethodPost, job.PostedPath, body, "hr-1", policy.RoleHR)); w.Code != http.StatusBadRequest {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("job_idがない連絡は400になること", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		if w := post(h, job.Posted{Title: "x"}, policy.RoleHR); w.Code != http.StatusBadRequest {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestNotifications は通知一覧と既読管理を検証する。
func TestNotifications(t *testing.T) {
	t.Parallel()

	seed := func(t *testing.T, q *Queries, userID string) *Notification {
		t.Helper()
		n, err := q.CreateNotification(context.Background(), CreateParams{UserID: userID, Title: "t", Message: "m"})
		if err != nil {
			t.Fatalf("CreateNotification()でエラーが発生: %v", err)
		}
		return n
	}

	t.Run("一覧の参照系でも署名が必要なこと", func(t *testing.T) {
		t.Parallel()

		h, _ := setupTestServer(t)
		if w := serve(h, request(http.MethodGet, "/api/v1/notifications", "", "")); w.Code != http.StatusForbidden {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("既読にすると未読一覧から消えること", func(t *testing.T) {
		t.Parallel()

		h, q := setupTestServer(t)
		n := seed(t, q, "u-1")
		seed(t, q, "u-1")

		w := serve(h, request(http.MethodPut, "/api/v1/notifications/"+n.ID+"/read", "", "u-1", policy.RoleUser))
		if w.Code != http.StatusOK {
			t.Fatalf("既読のステータス = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}

		w = serve(h, request(http.MethodGet, "/api/v1/notifications/unread", "", "u-1", policy.RoleUser))
		var unread []Notification
		if err := json.Unmarshal(w.Body.Bytes(), &unread); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}
		if len(unread) != 1 || unread[0].ID == n.ID {
			t.Errorf("未読一覧 = %+v", unread)
		}
	})

	t.Run("他人宛ての通知は既読にできないこと", func(t *testing.T) {
		t.Parallel()

		h, q := setupTestServer(t)
		n := seed(t, q, "u-1")

		if w := serve(h, request(http.MethodPut, "/api/v1/notifications/"+n.ID+"/read", "", "u-2", policy.RoleUser)); w.Code != http.StatusForbidden {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("すべて既読にすると更新件数を返すこと", func(t *testing.T) {
		t.Parallel()

		h, q := setupTestServer(t)
		seed(t, q, "u-1")
		seed(t, q, "u-1")
		seed(t, q, "u-2")

		w := serve(h, request(http.MethodPut, "/api/v1/notifications/read-all", "", "u-1", policy.RoleUser))
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"updated":2`) {
			t.Errorf("すべて既読 = %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("管理者は内部APIで通知を送信できること", func(t *testing.T) {
		t.Parallel()

		h, q := setupTestServer(t)
		body := `{"user_id":"u-3","title":"メンテナンス","message":"明日停止します"}`
		if w := serve(h, request(http.MethodPost, "/api/v1/internal/send", body, "admin-1", policy.RoleUser)); w.Code != http.StatusForbidden {
			t.Errorf("ROLE_USER: ステータス = %d, want %d", w.Code, http.StatusForbidden)
		}
		if w := serve(h, request(http.MethodPost, "/api/v1/internal/send", body, "admin-1", policy.RoleAdmin)); w.Code != http.StatusCreated {
			t.Fatalf("ROLE_ADMIN: ステータス = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
		}
		got, err := q.ListUnreadNotifications(context.Background(), "u-3")
		if err != nil || len(got) != 1 {
			t.Errorf("u-3の未読 = %+v, err = %v", got, err)
		}
	})
}
