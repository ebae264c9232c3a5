// Package company は企業情報を管理するサービスのルートを提供する。
//
// 参照はGateway経由の全ユーザーに公開し、作成・更新はHRと管理者、
// 削除は管理者のみに許可する。
package company

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
)

// Collection は企業ドキュメントのコレクション名。
const Collection = "companies"

// Routes は企業APIのルートとポリシーを登録する関数を返す。
func Routes(store *document.Store) document.RouteFunc {
	h := document.NewHandlers(store, Collection, document.WithRequiredFields("name"))
	editors := policy.AnyOf(policy.RoleHR, policy.RoleAdmin)

	return func(api *gin.RouterGroup, policies *policy.Table) {
		companies := api.Group("/companies")
		companies.GET("", h.List())
		companies.GET("/:id", h.Get())
		middleware.Handle(companies, policies, http.MethodPost, "", editors, h.Create())
		middleware.Handle(companies, policies, http.MethodPut, "/:id", editors, h.Update())
		middleware.Handle(companies, policies, http.MethodDelete, "/:id", policy.AnyOf(policy.RoleAdmin), h.Delete())
	}
}
