// Package job は求人とスキルを管理するサービスのルートを提供する。
//
// 求人が作成されると、スキルが一致する購読者へ知らせるため
// 通知サービスへ作成者の信頼アサーションを引き継いで連絡する。
package job

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/pkg/event"
	"github.com/nao1215/jobhunter/pkg/httpclient"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
)

// コレクション名。
const (
	JobCollection   = "jobs"
	SkillCollection = "skills"
)

// PostedPath は求人作成を通知サービスへ知らせるエンドポイント。
// リクエスト本文は Posted をデータに持つ event.Event。
const PostedPath = "/api/v1/internal/job-posted"

// Posted は作成された求人の概要。
type Posted struct {
	JobID  string   `json:"job_id"`
	Title  string   `json:"title"`
	Skills []string `json:"skills"`
}

// Notifier は求人の作成を通知サービスへ伝える。
type Notifier interface {
	JobPosted(ctx context.Context, p Posted) error
}

// NotificationClient はHTTPで通知サービスを呼び出すNotifier実装。
type NotificationClient struct {
	client *httpclient.Client
}

var _ Notifier = (*NotificationClient)(nil)

// NewNotificationClient は通知サービスのベースURLを指定してクライアントを生成する。
func NewNotificationClient(baseURL string, opts ...httpclient.Option) *NotificationClient {
	return &NotificationClient{client: httpclient.New(baseURL, opts...)}
}

// JobPosted は求人の作成を JobPosted イベントに包んで通知サービスへ送信する。
func (n *NotificationClient) JobPosted(ctx context.Context, p Posted) error {
	ev, err := event.New(p.JobID, event.AggregateTypeJob, event.TypeJobPosted, p)
	if err != nil {
		return err
	}
	return n.client.PostJSON(ctx, PostedPath, ev, nil)
}

// Routes は求人・スキルAPIのルートとポリシーを登録する関数を返す。
// notifierがnilの場合は作成時の連絡を行わない。
func Routes(store *document.Store, notifier Notifier) document.RouteFunc {
	jobs := document.NewHandlers(store, JobCollection,
		document.WithRequiredFields("title"),
		document.WithCreateHook(announce(notifier)),
	)
	skills := document.NewHandlers(store, SkillCollection, document.WithRequiredFields("name"))

	recruiters := policy.AnyOf(policy.RoleHR, policy.RoleAdmin)
	admins := policy.AnyOf(policy.RoleAdmin)

	return func(api *gin.RouterGroup, policies *policy.Table) {
		j := api.Group("/jobs")
		j.GET("", jobs.List())
		j.GET("/:id", jobs.Get())
		middleware.Handle(j, policies, http.MethodPost, "", recruiters, jobs.Create())
		middleware.Handle(j, policies, http.MethodPut, "/:id", recruiters, jobs.Update())
		middleware.Handle(j, policies, http.MethodDelete, "/:id", recruiters, jobs.Delete())

		s := api.Group("/skills")
		s.GET("", skills.List())
		s.GET("/:id", skills.Get())
		middleware.Handle(s, policies, http.MethodPost, "", admins, skills.Create())
		middleware.Handle(s, policies, http.MethodPut, "/:id", admins, skills.Update())
		middleware.Handle(s, policies, http.MethodDelete, "/:id", admins, skills.Delete())
	}
}

// announce は求人作成後に通知サービスへ連絡するフックを返す。
// 連絡に失敗しても求人の作成は成功として扱う。
func announce(notifier Notifier) func(c *gin.Context, d *document.Document) {
	return func(c *gin.Context, d *document.Document) {
		if notifier == nil {
			return
		}
		var body struct {
			Title  string   `json:"title"`
			Skills []string `json:"skills"`
		}
		_ = json.Unmarshal(d.Body, &body)

		ctx := c.Request.Context()
		if p, ok := middleware.Principal(c); ok {
			ctx = httpclient.WithAssertion(ctx, p)
		}
		ctx = httpclient.WithRequestID(ctx, c.GetHeader(middleware.HeaderRequestID))

		err := notifier.JobPosted(ctx, Posted{JobID: d.ID, Title: body.Title, Skills: body.Skills})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", d.ID).Msg("job.notify_failed")
		}
	}
}
