package document

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/jobhunter/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound は指定したドキュメントが存在しないことを表す。
var ErrNotFound = errors.New("document not found")

// defaultLimit は一覧取得の件数上限のデフォルト値。
const defaultLimit = 50

// Document はコレクションに属するJSONドキュメント。
type Document struct {
	// ID はドキュメントの一意識別子。
	ID string `json:"id"`
	// Collection は所属するコレクション名。
	Collection string `json:"-"`
	// OwnerID は作成したユーザーのID。
	OwnerID string `json:"owner_id"`
	// Body はドキュメント本体のJSONオブジェクト。
	Body json.RawMessage `json:"body"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter は一覧取得の条件。
type Filter struct {
	// OwnerID が空でない場合は作成者で絞り込む。
	OwnerID string
	// Limit は取得件数の上限。0以下の場合はデフォルト値を使う。
	Limit int
	// Offset は読み飛ばす件数。
	Offset int
}

// Store はSQLiteに保存するドキュメントストア。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	s, err := NewStore(db, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore は接続済みのデータベースにマイグレーションを適用してStoreを生成する。
// nowにnilを渡した場合は time.Now を使用する。
func NewStore(db *sql.DB, now func() time.Time) (*Store, error) {
	if err := migration.Run(db, migrationsFS, "migrations", migration.WithScope("document")); err != nil {
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// DB はデータベース接続を返す。サービス固有のテーブルを追加する場合に使う。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Create はドキュメントを作成する。
func (s *Store) Create(ctx context.Context, collection, ownerID string, body json.RawMessage) (*Document, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	d := &Document{
		ID:         uuid.NewString(),
		Collection: collection,
		OwnerID:    ownerID,
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, owner_id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Collection, d.OwnerID, string(d.Body), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの作成に失敗: %w", err)
	}
	return d, nil
}

// Get はドキュメントを取得する。
func (s *Store) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection, owner_id, body, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	return d, nil
}

// List はコレクションのドキュメントを作成日時の新しい順に取得する。
func (s *Store) List(ctx context.Context, collection string, f Filter) ([]Document, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	query := `SELECT id, collection, owner_id, body, created_at, updated_at FROM documents WHERE collection = ?`
	args := []any{collection}
	if f.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ドキュメントの読み取りに失敗: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// Update はドキュメント本体を置き換える。
func (s *Store) Update(ctx context.Context, collection, id string, body json.RawMessage) (*Document, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(body), now.UnixMilli(), collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの更新に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("更新件数の取得に失敗: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, collection, id)
}

// Delete はドキュメントを削除する。
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*Document, error) {
	var (
		d                Document
		body             string
		created, updated int64
	)
	if err := r.Scan(&d.ID, &d.Collection, &d.OwnerID, &body, &created, &updated); err != nil {
		return nil, err
	}
	d.Body = json.RawMessage(body)
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	return &d, nil
}
