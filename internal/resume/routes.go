// Package resume は求人への応募書類（履歴書）を管理するサービスのルートを提供する。
//
// すべての操作にロールを要求する。応募者は自分の履歴書のみを扱え、
// HRと管理者は全件の一覧と任意の履歴書の操作ができる。
package resume

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
)

// Collection は履歴書ドキュメントのコレクション名。
const Collection = "resumes"

// Routes は履歴書APIのルートとポリシーを登録する関数を返す。
func Routes(store *document.Store) document.RouteFunc {
	h := document.NewHandlers(store, Collection,
		document.WithRequiredFields("job_id"),
		document.WithOwnership(policy.RoleHR, policy.RoleAdmin),
		document.WithPrivateReads(),
	)

	return func(api *gin.RouterGroup, policies *policy.Table) {
		resumes := api.Group("/resumes")
		middleware.Restrict(resumes, policies, policy.AnyOf(policy.RoleUser, policy.RoleHR, policy.RoleAdmin))

		middleware.Handle(resumes, policies, http.MethodGet, "", policy.AnyOf(policy.RoleHR, policy.RoleAdmin), h.List())
		resumes.GET("/mine", h.ListMine())
		resumes.GET("/:id", h.Get())
		resumes.POST("", h.Create())
		resumes.PUT("/:id", h.Update())
		resumes.DELETE("/:id", h.Delete())
	}
}
