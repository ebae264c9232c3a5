// Package token はアクセストークンとリフレッシュトークンの発行と検証を提供する。
//
// トークンはHS256で署名したJWTであり、状態を持たない。失効の管理は
// ledgerパッケージが担当する。検証の失敗は原因にかかわらず ErrInvalidToken
// のみを返し、期限切れ・改ざん・形式不正を呼び出し側で区別させない。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken はトークンが検証に失敗したことを表す。
var ErrInvalidToken = errors.New("invalid token")

// Type はトークンの種類を表す。
type Type string

const (
	// TypeAccess はリクエストごとの認証に使う短命トークン。
	TypeAccess Type = "access"
	// TypeRefresh はトークン再発行に使う長命トークン。
	TypeRefresh Type = "refresh"
)

// defaultIssuer はトークンのissクレームに設定する発行者名。
const defaultIssuer = "jobhunter-identity"

// User はトークンに埋め込む最小限のユーザー情報。
type User struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。
	Name string `json:"name,omitempty"`
}

// Claims はトークンのクレーム（ペイロード）を表す。
// subクレームにはメールアドレスを格納する。
type Claims struct {
	jwt.RegisteredClaims
	// User はユーザー情報。
	User User `json:"user"`
	// Permissions はロール名と権限名を平坦化したリスト。アクセストークンのみ。
	Permissions []string `json:"permission,omitempty"`
	// TokenType はトークンの種類。
	TokenType Type `json:"token_type"`
}

// Email はトークンの主体のメールアドレスを返す。
func (c *Claims) Email() string {
	return c.Subject
}

// Remaining はnow時点でのトークンの残り有効期間を返す。期限切れの場合は0以下になる。
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

// Subject はトークンを発行する対象のユーザー。
type Subject struct {
	// ID はユーザーの一意識別子。
	ID string
	// Email はユーザーのメールアドレス。
	Email string
	// Name はユーザーの表示名。
	Name string
	// Permissions はアクセストークンに埋め込む権限名のリスト。
	Permissions []string
}

// Issued は発行済みトークンとその有効期間を表す。
type Issued struct {
	// Token は署名済みのトークン文字列。
	Token string
	// IssuedAt は発行日時。
	IssuedAt time.Time
	// ExpiresAt は有効期限。
	ExpiresAt time.Time
}

// Codec はトークンの発行と検証を行う。
// 設定値以外の状態を持たないため、複数のgoroutineから同時に使用できる。
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// Option はCodecの生成オプション。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithIssuer は発行者名を差し替える。
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// NewCodec は新しいCodecを生成する。
func NewCodec(secret []byte, accessTTL, refreshTTL time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("トークン署名用のシークレットが設定されていません")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("トークンの有効期間が不正です: access=%s, refresh=%s", accessTTL, refreshTTL)
	}
	c := &Codec{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     defaultIssuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL はアクセストークンの有効期間を返す。
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL はリフレッシュトークンの有効期間を返す。
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess はユーザー情報と権限を埋め込んだアクセストークンを発行する。
func (c *Codec) IssueAccess(s Subject) (Issued, error) {
	perms := make([]string, 0, len(s.Permissions))
	perms = append(perms, s.Permissions...)
	return c.issue(s, TypeAccess, perms, c.accessTTL)
}

// IssueRefresh は最小限のユーザー情報のみを埋め込んだリフレッシュトークンを発行する。
func (c *Codec) IssueRefresh(s Subject) (Issued, error) {
	return c.issue(s, TypeRefresh, nil, c.refreshTTL)
}

func (c *Codec) issue(s Subject, typ Type, perms []string, ttl time.Duration) (Issued, error) {
	now := c.now().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   s.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		User:        User{ID: s.ID, Email: s.Email, Name: s.Name},
		Permissions: perms,
		TokenType:   typ,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return Issued{Token: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// Parse はトークンの署名・形式・有効期限を検証し、クレームを返す。
// 発行日時は検証しないため、発行側の時計が進んでいても拒否しない。
// 失敗した場合は原因にかかわらず ErrInvalidToken を返す。
func (c *Codec) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAccess はアクセストークンとして検証する。リフレッシュトークンは拒否する。
func (c *Codec) ParseAccess(raw string) (*Claims, error) {
	return c.parseTyped(raw, TypeAccess)
}

// ParseRefresh はリフレッシュトークンとして検証する。アクセストークンは拒否する。
func (c *Codec) ParseRefresh(raw string) (*Claims, error) {
	return c.parseTyped(raw, TypeRefresh)
}

func (c *Codec) parseTyped(raw string, want Type) (*Claims, error) {
	claims, err := c.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
