package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/ledger"
	"github.com/nao1215/jobhunter/pkg/metrics"
	"github.com/nao1215/jobhunter/pkg/token"
)

// minPasswordLength は登録時に要求するパスワードの最小長。
const minPasswordLength = 8

// クライアント向けのエラーメッセージ。識別子とパスワードのどちらが誤りかは区別しない。
const (
	msgBadCredentials  = "invalid email or password"
	msgBadRefreshToken = "invalid or expired refresh token"
)

// Session はログイン・リフレッシュ・登録の結果。
type Session struct {
	// AccessToken はリクエスト認証に使う短命トークン。
	AccessToken token.Issued
	// RefreshToken はトークン再発行に使う長命トークン。
	RefreshToken token.Issued
	// User はユーザーの概要。
	User UserSummary
}

// UserSummary はクライアントに返すユーザーの概要。
type UserSummary struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func summarize(c *Credential) UserSummary {
	perms := c.Permissions
	if perms == nil {
		perms = []string{}
	}
	return UserSummary{ID: c.ID, Email: c.Email, Name: c.Name, Role: c.Role, Permissions: perms}
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Service はトークンの発行・再発行・失効を行う。
//
// 状態遷移: 未認証 → ログイン済み → {リフレッシュ済み ↻ | ログアウト}。
// リフレッシュトークンはユーザーごとに1つだけ有効で、再発行のたびに
// 台帳のエントリを置き換える（同時実行時は後勝ち）。
type Service struct {
	store    CredentialStore
	codec    *token.Codec
	ledger   *ledger.Ledger
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	hashCost int
	// dummyHash は存在しないユーザーでも同じ時間をかけて照合するためのハッシュ。
	dummyHash []byte
}

// ServiceOption はServiceの生成オプション。
type ServiceOption func(*Service)

// WithLogger はロガーを設定する。
func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithHashCost はbcryptのコストを設定する。テストでは bcrypt.MinCost を使う。
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) { s.hashCost = cost }
}

// NewService は新しいServiceを生成する。
func NewService(store CredentialStore, codec *token.Codec, l *ledger.Ledger, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		store:    store,
		codec:    codec,
		ledger:   l,
		logger:   zerolog.Nop(),
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("jobhunter-dummy-password"), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Login はメールアドレスとパスワードを検証し、トークンを発行する。
// 未登録のメールアドレスと誤ったパスワードは同じエラーになる。
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	cred, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrCredentialNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.logger.Info().Str("email", email).Msg("identity.login_failed")
		return nil, apperror.New(apperror.KindAuthenticationFailure, msgBadCredentials, err)
	}
	if err != nil {
		return nil, fmt.Errorf("資格情報の取得に失敗: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		s.logger.Info().Str("email", email).Msg("identity.login_failed")
		return nil, apperror.New(apperror.KindAuthenticationFailure, msgBadCredentials, err)
	}

	sess, err := s.issue(ctx, cred)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("email", cred.Email).Msg("identity.login")
	return sess, nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンの組を発行する。
// 台帳に記録された現在のトークンと一致しない場合（再ログインで置き換えられた場合を含む）は拒否する。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.codec.ParseRefresh(refreshToken)
	if err != nil {
		return nil, apperror.New(apperror.KindAuthenticationFailure, msgBadRefreshToken, err)
	}
	email := claims.Email()

	ok, err := s.ledger.ValidateRefresh(ctx, email, refreshToken)
	s.metrics.LedgerOperation("validate_refresh", err)
	if err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("identity.refresh_ledger_unavailable")
		return nil, apperror.New(apperror.KindAuthenticationFailure, msgBadRefreshToken, err)
	}
	if !ok {
		s.logger.Warn().Str("email", email).Str("jti", claims.ID).Msg("identity.refresh_superseded")
		return nil, apperror.New(apperror.KindAuthenticationFailure, msgBadRefreshToken, nil)
	}

	err = s.ledger.DeleteRefresh(ctx, email)
	s.metrics.LedgerOperation("delete_refresh", err)
	if err != nil {
		// 直後のSaveRefreshで上書きされるため処理は継続する
		s.logger.Warn().Err(err).Str("email", email).Msg("identity.refresh_delete_failed")
	}

	cred, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, apperror.New(apperror.KindAuthenticationFailure, msgBadRefreshToken, err)
	}
	if err != nil {
		return nil, fmt.Errorf("資格情報の取得に失敗: %w", err)
	}

	sess, err := s.issue(ctx, cred)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("email", email).Msg("identity.refresh")
	return sess, nil
}

// Logout はアクセストークンを残り有効期間だけブラックリストに登録し、
// リフレッシュトークン台帳のエントリを削除する。失敗は記録するのみでエラーは返さない。
func (s *Service) Logout(ctx context.Context, accessToken, email string) {
	if accessToken != "" {
		if claims, err := s.codec.ParseAccess(accessToken); err == nil {
			if email == "" {
				email = claims.Email()
			}
			err := s.ledger.Blacklist(ctx, accessToken, email, claims.Remaining(s.now()))
			s.metrics.LedgerOperation("blacklist", err)
			if err != nil {
				s.logger.Error().Err(err).Str("email", email).Msg("identity.blacklist_failed")
			}
		}
	}
	if email == "" {
		return
	}
	err := s.ledger.DeleteRefresh(ctx, email)
	s.metrics.LedgerOperation("delete_refresh", err)
	if err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("identity.refresh_delete_failed")
	}
	s.logger.Info().Str("email", email).Msg("identity.logout")
}

// SubjectEmail はログアウト対象のメールアドレスを解決する。
// アクセストークン、リフレッシュトークンの順に検証に成功したものを使い、どちらも無効なら空文字列を返す。
func (s *Service) SubjectEmail(accessToken, refreshToken string) string {
	if accessToken != "" {
		if claims, err := s.codec.ParseAccess(accessToken); err == nil {
			return claims.Email()
		}
	}
	if refreshToken != "" {
		if claims, err := s.codec.ParseRefresh(refreshToken); err == nil {
			return claims.Email()
		}
	}
	return ""
}

// Register は一般ユーザーとして登録し、そのままログインした状態のセッションを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := validateRegistration(in); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	cred, err := s.store.Create(ctx, NewCredential{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: string(hash),
		Role:         RoleUser,
	})
	if errors.Is(err, ErrEmailTaken) {
		return nil, apperror.New(apperror.KindConflict, "email already registered", err)
	}
	if err != nil {
		return nil, err
	}

	sess, err := s.issue(ctx, cred)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("email", cred.Email).Msg("identity.registered")
	return sess, nil
}

// EnsureAdmin は管理者ユーザーが存在しなければ作成し、存在すればロールを管理者にする。
// 起動時の初期化に使用する。
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	_, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		return s.store.UpdateRole(ctx, email, RoleAdmin)
	}
	if !errors.Is(err, ErrCredentialNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	_, err = s.store.Create(ctx, NewCredential{Email: email, Name: "admin", PasswordHash: string(hash), Role: RoleAdmin})
	return err
}

// Account はメールアドレスに対応するユーザーの概要を返す。
func (s *Service) Account(ctx context.Context, email string) (*UserSummary, error) {
	cred, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	u := summarize(cred)
	return &u, nil
}

// issue はトークンの組を発行し、リフレッシュトークンを台帳に記録する。
func (s *Service) issue(ctx context.Context, cred *Credential) (*Session, error) {
	subject := token.Subject{
		ID:          cred.ID,
		Email:       cred.Email,
		Name:        cred.Name,
		Permissions: cred.Authorities(),
	}
	access, err := s.codec.IssueAccess(subject)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}

	err = s.ledger.SaveRefresh(ctx, cred.Email, refresh.Token)
	s.metrics.LedgerOperation("save_refresh", err)
	if err != nil {
		return nil, fmt.Errorf("リフレッシュトークンの記録に失敗: %w", err)
	}
	return &Session{AccessToken: access, RefreshToken: refresh, User: summarize(cred)}, nil
}

func validateRegistration(in RegisterInput) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil || addr.Address != strings.TrimSpace(in.Email) {
		return apperror.New(apperror.KindMalformedRequest, "invalid email address", err)
	}
	if len(in.Password) < minPasswordLength {
		return apperror.New(apperror.KindMalformedRequest,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength), nil)
	}
	return nil
}
