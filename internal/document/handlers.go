package document

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/middleware"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// maxLimit は一覧取得で指定できる件数の上限。
const maxLimit = 200

// Handlers は1つのコレクションに対するCRUDハンドラ群。
type Handlers struct {
	store      *Store
	collection string
	// required は作成・更新時に必須のフィールド名。
	required []string
	// ownership がtrueの場合、更新・削除を作成者に限定する。
	ownership bool
	// privateReads がtrueの場合、個別取得も作成者に限定する。
	privateReads bool
	// bypassRoles は作成者以外でも操作できるロール。
	bypassRoles []string
	// onCreate は作成成功後に呼ばれるフック。
	onCreate func(c *gin.Context, d *Document)
}

// HandlerOption はHandlersの振る舞いを変更する。
type HandlerOption func(*Handlers)

// WithRequiredFields は作成・更新時に必須のフィールドを指定する。
func WithRequiredFields(fields ...string) HandlerOption {
	return func(h *Handlers) {
		h.required = fields
	}
}

// WithOwnership は個別ドキュメントの操作を作成者に限定する。
// bypassRolesのいずれかを持つユーザーは作成者以外でも操作できる。
func WithOwnership(bypassRoles ...string) HandlerOption {
	return func(h *Handlers) {
		h.ownership = true
		h.bypassRoles = bypassRoles
	}
}

// WithPrivateReads は個別取得もWithOwnershipと同じ条件に限定する。
func WithPrivateReads() HandlerOption {
	return func(h *Handlers) {
		h.privateReads = true
	}
}

// WithCreateHook は作成成功後に呼ばれる処理を登録する。
// フックの失敗はレスポンスに影響させないこと。
func WithCreateHook(fn func(c *gin.Context, d *Document)) HandlerOption {
	return func(h *Handlers) {
		h.onCreate = fn
	}
}

// NewHandlers はコレクションのハンドラ群を生成する。
func NewHandlers(store *Store, collection string, opts ...HandlerOption) *Handlers {
	h := &Handlers{store: store, collection: collection}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// List はドキュメント一覧を返すハンドラを返す。
// クエリパラメータ limit, offset, owner に対応する。
func (h *Handlers) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := parseFilter(c)
		if err != nil {
			apperror.Respond(c, err)
			return
		}
		h.respondList(c, f)
	}
}

// ListMine は認証済みユーザーが作成したドキュメントの一覧を返すハンドラを返す。
func (h *Handlers) ListMine() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := middleware.UserID(c)
		if owner == "" {
			apperror.Respond(c, apperror.New(apperror.KindAuthorizationFailure, "authentication required", nil))
			return
		}
		f, err := parseFilter(c)
		if err != nil {
			apperror.Respond(c, err)
			return
		}
		f.OwnerID = owner
		h.respondList(c, f)
	}
}

func (h *Handlers) respondList(c *gin.Context, f Filter) {
	docs, err := h.store.List(c.Request.Context(), h.collection, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": docs, "count": len(docs)})
}

// Get はドキュメントを1件返すハンドラを返す。
func (h *Handlers) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := h.load(c, h.privateReads)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// Create はドキュメントを作成するハンドラを返す。
// 作成者はGatewayが付与したユーザーIDになる。
func (h *Handlers) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := h.readBody(c)
		if err != nil {
			apperror.Respond(c, err)
			return
		}
		d, err := h.store.Create(c.Request.Context(), h.collection, middleware.UserID(c), body)
		if err != nil {
			respondError(c, err)
			return
		}
		zerolog.Ctx(c.Request.Context()).Info().
			Str("collection", h.collection).
			Str("id", d.ID).
			Msg("document.created")
		if h.onCreate != nil {
			h.onCreate(c, d)
		}
		c.JSON(http.StatusCreated, d)
	}
}

// Update はドキュメント本体を置き換えるハンドラを返す。
func (h *Handlers) Update() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.load(c, true); !ok {
			return
		}
		body, err := h.readBody(c)
		if err != nil {
			apperror.Respond(c, err)
			return
		}
		d, err := h.store.Update(c.Request.Context(), h.collection, c.Param("id"), body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// Delete はドキュメントを削除するハンドラを返す。
func (h *Handlers) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.load(c, true); !ok {
			return
		}
		if err := h.store.Delete(c.Request.Context(), h.collection, c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		zerolog.Ctx(c.Request.Context()).Info().
			Str("collection", h.collection).
			Str("id", c.Param("id")).
			Msg("document.deleted")
		c.Status(http.StatusNoContent)
	}
}

// load はパスパラメータidのドキュメントを取得し、checkOwnerがtrueなら作成者の確認を行う。
// 失敗した場合はレスポンスを書き込んでfalseを返す。
func (h *Handlers) load(c *gin.Context, checkOwner bool) (*Document, bool) {
	d, err := h.store.Get(c.Request.Context(), h.collection, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if checkOwner && !h.canAccess(c, d) {
		apperror.Respond(c, apperror.New(apperror.KindAuthorizationFailure, "access denied; not the owner", nil))
		return nil, false
	}
	return d, true
}

func (h *Handlers) canAccess(c *gin.Context, d *Document) bool {
	if !h.ownership {
		return true
	}
	p, ok := middleware.Principal(c)
	if !ok {
		return false
	}
	if p.SubjectID != "" && p.SubjectID == d.OwnerID {
		return true
	}
	for _, r := range h.bypassRoles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}

// readBody はリクエストボディを読み込み、JSONオブジェクトであることと必須フィールドを検証する。
func (h *Handlers) readBody(c *gin.Context) (json.RawMessage, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, apperror.New(apperror.KindMalformedRequest, "request body is too large or unreadable", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, apperror.New(apperror.KindMalformedRequest, "request body must be a JSON object", err)
	}
	for _, name := range h.required {
		v, ok := fields[name]
		if !ok || string(v) == "null" || string(v) == `""` {
			return nil, apperror.New(apperror.KindMalformedRequest, name+" is required", nil)
		}
	}
	return json.RawMessage(raw), nil
}

func parseFilter(c *gin.Context) (Filter, error) {
	var f Filter
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			return f, apperror.New(apperror.KindMalformedRequest, "limit must be between 1 and 200", err)
		}
		f.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, apperror.New(apperror.KindMalformedRequest, "offset must be a non-negative integer", err)
		}
		f.Offset = n
	}
	f.OwnerID = c.Query("owner")
	return f, nil
}

// respondError はストアのエラーをHTTPレスポンスに変換する。
func respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if apperror.KindOf(err) == apperror.KindInternal {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("document.internal_error")
	}
	apperror.Respond(c, err)
}
