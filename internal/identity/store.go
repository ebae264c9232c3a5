package identity

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/jobhunter/pkg/migration"
	"github.com/nao1215/jobhunter/pkg/policy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ロール名。
const (
	RoleAdmin = policy.RoleAdmin
	RoleHR    = policy.RoleHR
	RoleUser  = policy.RoleUser
)

var (
	// ErrCredentialNotFound は該当する資格情報が存在しないことを表す。
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrEmailTaken はメールアドレスが登録済みであることを表す。
	ErrEmailTaken = errors.New("email already registered")
)

// Credential は認証に使用するユーザーの資格情報。
type Credential struct {
	// ID はユーザーの一意識別子。
	ID string
	// Email はログインに使用するメールアドレス。
	Email string
	// Name は表示名。
	Name string
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string
	// Role はユーザーのロール名。
	Role string
	// Permissions はロールに紐づく権限名。
	Permissions []string
}

// Authorities はロール名と権限名を平坦化したリストを返す。
// アクセストークンと信頼アサーションのロールとしてそのまま使用する。
func (c *Credential) Authorities() []string {
	out := make([]string, 0, 1+len(c.Permissions))
	if c.Role != "" {
		out = append(out, c.Role)
	}
	return append(out, c.Permissions...)
}

// NewCredential は資格情報の登録内容。
type NewCredential struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
}

// CredentialStore は資格情報の参照と登録を行う。
type CredentialStore interface {
	// FindByEmail はメールアドレスで資格情報を検索する。存在しない場合は ErrCredentialNotFound を返す。
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	// Create は資格情報を登録する。メールアドレスが重複する場合は ErrEmailTaken を返す。
	Create(ctx context.Context, in NewCredential) (*Credential, error)
	// UpdateRole はユーザーのロールを変更する。
	UpdateRole(ctx context.Context, email, role string) error
}

// SQLiteStore はSQLiteに保存するCredentialStore実装。
type SQLiteStore struct {
	db *sql.DB
}

var _ CredentialStore = (*SQLiteStore)(nil)

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore は接続済みのデータベースにマイグレーションを適用してSQLiteStoreを生成する。
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := migration.Run(db, migrationsFS, "migrations", migration.WithScope("identity")); err != nil {
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// normalizeEmail はメールアドレスを比較用に正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail はメールアドレスで資格情報を検索する。
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	c := &Credential{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, role FROM users WHERE email = ?`,
		normalizeEmail(email),
	).Scan(&c.ID, &c.Email, &c.Name, &c.PasswordHash, &c.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}

	perms, err := s.permissions(ctx, c.Role)
	if err != nil {
		return nil, err
	}
	c.Permissions = perms
	return c, nil
}

// permissions はロールに紐づく権限名を取得する。
func (s *SQLiteStore) permissions(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role = ? ORDER BY permission`, role)
	if err != nil {
		return nil, fmt.Errorf("権限の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("権限の読み取りに失敗: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Create は資格情報を登録する。
func (s *SQLiteStore) Create(ctx context.Context, in NewCredential) (*Credential, error) {
	role := in.Role
	if role == "" {
		role = RoleUser
	}
	c := &Credential{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(in.Email),
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: in.PasswordHash,
		Role:         role,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Email, c.Name, c.PasswordHash, c.Role,
	)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}

	perms, err := s.permissions(ctx, c.Role)
	if err != nil {
		return nil, err
	}
	c.Permissions = perms
	return c, nil
}

// UpdateRole はユーザーのロールを変更する。
func (s *SQLiteStore) UpdateRole(ctx context.Context, email, role string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = datetime('now') WHERE email = ?`,
		role, normalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("ロールの更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// isUniqueViolation は一意制約違反のエラーかを返す。
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
