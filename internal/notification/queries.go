package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/jobhunter/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotificationNotFound は指定した通知が存在しないことを表す。
var ErrNotificationNotFound = errors.New("notification not found")

// Notification は1件の通知。
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateParams は通知作成の入力。
type CreateParams struct {
	UserID  string
	Title   string
	Message string
}

// Queries は通知テーブルへのクエリを実行する。
type Queries struct {
	db  *sql.DB
	now func() time.Time
}

// NewQueries はマイグレーションを適用してQueriesを生成する。
// nowにnilを渡した場合は time.Now を使用する。
func NewQueries(ctx context.Context, db *sql.DB, now func() time.Time) (*Queries, error) {
	if err := migration.RunContext(ctx, db, migrationsFS, "migrations", migration.WithScope("notification")); err != nil {
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Queries{db: db, now: now}, nil
}

// CreateNotification は通知を作成する。
func (q *Queries) CreateNotification(ctx context.Context, p CreateParams) (*Notification, error) {
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Title:     p.Title,
		Message:   p.Message,
		CreatedAt: q.now().UTC().Truncate(time.Millisecond),
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, is_read, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return n, nil
}

// GetNotificationByID は通知を1件取得する。
func (q *Queries) GetNotificationByID(ctx context.Context, id string) (*Notification, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, message, is_read, created_at FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}

// ListNotificationsByUserID はユーザーの通知を新しい順に取得する。
func (q *Queries) ListNotificationsByUserID(ctx context.Context, userID string) ([]Notification, error) {
	return q.list(ctx,
		`SELECT id, user_id, title, message, is_read, created_at FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id`,
		userID)
}

// ListUnreadNotifications はユーザーの未読通知を新しい順に取得する。
func (q *Queries) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	return q.list(ctx,
		`SELECT id, user_id, title, message, is_read, created_at FROM notifications WHERE user_id = ? AND is_read = 0 ORDER BY created_at DESC, id`,
		userID)
}

// MarkAsRead は通知を既読にする。
func (q *Queries) MarkAsRead(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead はユーザーの全通知を既読にし、更新件数を返す。
func (q *Queries) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return res.RowsAffected()
}

func (q *Queries) list(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗: %w", err)
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(r rowScanner) (*Notification, error) {
	var (
		n       Notification
		isRead  int
		created int64
	)
	if err := r.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &isRead, &created); err != nil {
		return nil, err
	}
	n.IsRead = isRead != 0
	n.CreatedAt = time.UnixMilli(created).UTC()
	return &n, nil
}
