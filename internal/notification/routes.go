package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/internal/job"
	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/event"
	"github.com/nao1215/jobhunter/pkg/middleware"
	"github.com/nao1215/jobhunter/pkg/policy"
)

// SubscriberCollection は購読者ドキュメントのコレクション名。
const SubscriberCollection = "subscribers"

// subscriberPage は購読者を走査する際の1ページの件数。
const subscriberPage = 200

// Server は通知サービスのハンドラ群。
type Server struct {
	store   *document.Store
	queries *Queries
}

// NewServer は通知サービスのハンドラ群を生成する。
func NewServer(store *document.Store, queries *Queries) *Server {
	return &Server{store: store, queries: queries}
}

// Routes は購読者・通知APIのルートとポリシーを登録する関数を返す。
func (s *Server) Routes() document.RouteFunc {
	subscribers := document.NewHandlers(s.store, SubscriberCollection,
		document.WithRequiredFields("email"),
		document.WithOwnership(policy.RoleAdmin),
	)
	members := policy.AnyOf(policy.RoleUser, policy.RoleHR, policy.RoleAdmin)

	return func(api *gin.RouterGroup, policies *policy.Table) {
		sub := api.Group("/subscribers")
		middleware.Handle(sub, policies, http.MethodGet, "/mine", members, subscribers.ListMine())
		sub.GET("/:id", subscribers.Get())
		middleware.Handle(sub, policies, http.MethodPost, "", members, subscribers.Create())
		middleware.Handle(sub, policies, http.MethodPut, "/:id", members, subscribers.Update())
		middleware.Handle(sub, policies, http.MethodDelete, "/:id", members, subscribers.Delete())

		notifications := api.Group("/notifications")
		middleware.Restrict(notifications, policies, members)
		notifications.GET("", s.handleList())
		notifications.GET("/unread", s.handleListUnread())
		notifications.PUT("/:id/read", s.handleMarkAsRead())
		notifications.PUT("/read-all", s.handleMarkAllAsRead())

		// サービス間の内部API
		internal := api.Group("/internal")
		middleware.Handle(internal, policies, http.MethodPost, "/send", policy.AnyOf(policy.RoleAdmin), s.handleSend())
		middleware.Handle(internal, policies, http.MethodPost, strings.TrimPrefix(job.PostedPath, "/api/v1/internal"),
			policy.AnyOf(policy.RoleHR, policy.RoleAdmin), s.handleJobPosted())
	}
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.queries.ListNotificationsByUserID(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := s.queries.ListUnreadNotifications(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 他のユーザー宛ての通知は操作できない。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.queries.GetNotificationByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if n.UserID != middleware.UserID(c) {
			apperror.Respond(c, apperror.New(apperror.KindAuthorizationFailure, "access denied; not the recipient", nil))
			return
		}
		if err := s.queries.MarkAsRead(c.Request.Context(), n.ID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": n.ID, "is_read": true})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		updated, err := s.queries.MarkAllAsRead(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Title   string `json:"title" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// handleSend は指定したユーザーへ通知を作成するハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperror.Respond(c, apperror.New(apperror.KindMalformedRequest, "user_id, title and message are required", err))
			return
		}
		n, err := s.queries.CreateNotification(c.Request.Context(), CreateParams(req))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// subscriberBody は購読者ドキュメントの本体のうち通知に使う項目。
type subscriberBody struct {
	Email  string   `json:"email"`
	Skills []string `json:"skills"`
}

// handleJobPosted は求人作成の連絡を受け、スキルが一致する購読者へ通知するハンドラ。
func (s *Server) handleJobPosted() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev event.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			apperror.Respond(c, apperror.New(apperror.KindMalformedRequest, "malformed event", err))
			return
		}
		p, err := event.Expect[job.Posted](&ev, event.TypeJobPosted)
		if errors.Is(err, event.ErrUnexpectedType) {
			apperror.Respond(c, apperror.New(apperror.KindMalformedRequest, "unexpected event type", err))
			return
		}
		if err != nil || p.JobID == "" {
			apperror.Respond(c, apperror.New(apperror.KindMalformedRequest, "job_id is required", err))
			return
		}

		recipients, err := s.matchSubscribers(c, p.Skills)
		if err != nil {
			respondError(c, err)
			return
		}
		for _, userID := range recipients {
			_, err := s.queries.CreateNotification(c.Request.Context(), CreateParams{
				UserID:  userID,
				Title:   "新しい求人: " + p.Title,
				Message: fmt.Sprintf("興味のあるスキルに一致する求人が掲載されました (job_id=%s)", p.JobID),
			})
			if err != nil {
				respondError(c, err)
				return
			}
		}
		zerolog.Ctx(c.Request.Context()).Info().
			Str("event_id", ev.ID).
			Str("job_id", p.JobID).
			Int("recipients", len(recipients)).
			Msg("notification.job_posted")
		c.JSON(http.StatusAccepted, gin.H{"notified": len(recipients)})
	}
}

// matchSubscribers はskillsのいずれかを購読している購読者のユーザーIDを重複なく返す。
func (s *Server) matchSubscribers(c *gin.Context, skills []string) ([]string, error) {
	if len(skills) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(skills))
	for _, sk := range skills {
		wanted[sk] = struct{}{}
	}

	seen := make(map[string]struct{})
	var recipients []string
	for offset := 0; ; offset += subscriberPage {
		docs, err := s.store.List(c.Request.Context(), SubscriberCollection,
			document.Filter{Limit: subscriberPage, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if _, dup := seen[d.OwnerID]; dup || d.OwnerID == "" {
				continue
			}
			var body subscriberBody
			if err := json.Unmarshal(d.Body, &body); err != nil {
				continue
			}
			for _, sk := range body.Skills {
				if _, ok := wanted[sk]; ok {
					seen[d.OwnerID] = struct{}{}
					recipients = append(recipients, d.OwnerID)
					break
				}
			}
		}
		if len(docs) < subscriberPage {
			return recipients, nil
		}
	}
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotificationNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if apperror.KindOf(err) == apperror.KindInternal {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("notification.internal_error")
	}
	apperror.Respond(c, err)
}
