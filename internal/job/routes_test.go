package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/pkg/event"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
	"github.com/nao1215/jobhunter/pkg/trust"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const jobSecret = "job-gateway-secret"

// recordingNotifier は受け取った連絡を記録するNotifier。
type recordingNotifier struct {
	mu     sync.Mutex
	posted []Posted
	err    error
}

func (r *recordingNotifier) JobPosted(_ context.Context, p Posted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posted = append(r.posted, p)
	return r.err
}

func setupJobServer(t *testing.T, notifier Notifier) http.Handler {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	db.SetMaxOpenConns(1)
	store, err := document.NewStore(db, nil)
	if err != nil {
		t.Fatalf("NewStore()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return document.NewServer(document.ServerConfig{
		Name: "job",
		Trust: middleware.TrustConfig{
			Verifier: trust.NewVerifier(jobSecret, time.Minute, nil),
			Enabled:  true,
			Logger:   zerolog.Nop(),
		},
		Logger: zerolog.Nop(),
	}, Routes(store, notifier)).Handler()
}

func do(h http.Handler, method, target, body string, roles ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderRequestID, "req-job-1")
	trust.Mint(jobSecret, "hr-1", "hr@example.com", roles, time.Now()).Apply(req.Header)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// TestRoutes は求人・スキルAPIのロール要件を検証する。
func TestRoutes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		method string
		target string
		body   string
		roles  []string
		want   int
	}{
		{"HRは求人を作成できること", http.MethodPost, "/api/v1/jobs", `{"title":"Go engineer"}`, []string{policy.RoleHR}, http.StatusCreated},
		{"一般ユーザーは求人を作成できないこと", http.MethodPost, "/api/v1/jobs", `{"title":"Go engineer"}`, []string{policy.RoleUser}, http.StatusForbidden},
		{"一般ユーザーも求人一覧を参照できること", http.MethodGet, "/api/v1/jobs", "", []string{policy.RoleUser}, http.StatusOK},
		{"HRはスキルを作成できないこと", http.MethodPost, "/api/v1/skills", `{"name":"Go"}`, []string{policy.RoleHR}, http.StatusForbidden},
		{"管理者はスキルを作成できること", http.MethodPost, "/api/v1/skills", `{"name":"Go"}`, []string{policy.RoleAdmin}, http.StatusCreated},
		{"ロールなしでもスキル一覧を参照できること", http.MethodGet, "/api/v1/skills", "", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := setupJobServer(t, nil)
			w := do(h, tc.method, tc.target, tc.body, tc.roles...)
			if w.Code != tc.want {
				t.Errorf("ステータス = %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

// TestAnnounce は求人作成時の連絡を検証する。
func TestAnnounce(t *testing.T) {
	t.Parallel()

	t.Run("求人作成時にスキルを含めて連絡されること", func(t *testing.T) {
		t.Parallel()

		n := &recordingNotifier{}
		h := setupJobServer(t, n)
		w := do(h, http.MethodPost, "/api/v1/jobs", `{"title":"Go engineer","skills":["go","k8s"]}`, policy.RoleHR)
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータス = %d, want %d", w.Code, http.StatusCreated)
		}
		var d document.Document
		if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
			t.Fatalf("レスポンスボディのパースに失敗: %v", err)
		}

		want := []Posted{{JobID: d.ID, Title: "Go engineer", Skills: []string{"go", "k8s"}}}
		if diff := cmp.Diff(want, n.posted); diff != "" {
			t.Errorf("連絡内容 mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("連絡に失敗しても求人は作成されること", func(t *testing.T) {
		t.Parallel()

		h := setupJobServer(t, &recordingNotifier{err: errors.New("notification down")})
		if w := do(h, http.MethodPost, "/api/v1/jobs", `{"title":"Go engineer"}`, policy.RoleHR); w.Code != http.StatusCreated {
			t.Errorf("ステータス = %d, want %d", w.Code, http.StatusCreated)
		}
	})

	t.Run("HTTP経由の連絡では信頼アサーションとリクエストIDが引き継がれること", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			received       http.Header
			posted         Posted
			eventAggregate string
		)
		notification := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			if r.URL.Path != PostedPath {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			received = r.Header.Clone()
			var ev event.Event
			if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			p, err := event.Expect[Posted](&ev, event.TypeJobPosted)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			posted = *p
			eventAggregate = ev.AggregateID
			w.WriteHeader(http.StatusAccepted)
		}))
		t.Cleanup(notification.Close)

		h := setupJobServer(t, NewNotificationClient(notification.URL))
		if w := do(h, http.MethodPost, "/api/v1/jobs", `{"title":"SRE"}`, policy.RoleHR); w.Code != http.StatusCreated {
			t.Fatalf("ステータス = %d, want %d", w.Code, http.StatusCreated)
		}

		mu.Lock()
		defer mu.Unlock()
		if posted.Title != "SRE" {
			t.Errorf("Title = %q, want %q", posted.Title, "SRE")
		}
		if posted.JobID == "" || eventAggregate != posted.JobID {
			t.Errorf("AggregateID = %q, JobID = %q", eventAggregate, posted.JobID)
		}
		if got := received.Get(middleware.HeaderRequestID); got != "req-job-1" {
			t.Errorf("%s = %q, want %q", middleware.HeaderRequestID, got, "req-job-1")
		}
		a, err := trust.NewVerifier(jobSecret, time.Minute, nil).Verify(received)
		if err != nil {
			t.Fatalf("引き継いだアサーションの検証に失敗: %v", err)
		}
		if a.SubjectID != "hr-1" || !a.HasRole(policy.RoleHR) {
			t.Errorf("引き継いだアサーション = %+v", a)
		}
	})
}
