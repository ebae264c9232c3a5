// Package trust はGatewayが生成し内部サービスが検証する信頼アサーションを提供する。
//
// Gatewayはアクセストークンを検証した後、元のBearerトークンを取り除き、
// ユーザー識別子・ロール・タイムスタンプ・署名をヘッダーとして内部サービスへ転送する。
// 内部サービスは共有シークレットのみで署名と鮮度を検証する（状態を持たない）。
package trust

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/jobhunter/pkg/apperror"
	"github.com/nao1215/jobhunter/pkg/signature"
)

// 信頼アサーションを伝播するHTTPヘッダー。
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRoles = "X-User-Roles"
	HeaderSignature = "X-Gateway-Signature"
	HeaderTimestamp = "X-Gateway-Timestamp"
)

// Headers は信頼アサーションを構成するヘッダーの一覧。
// Gatewayはクライアントから届いたこれらのヘッダーを必ず除去する。
var Headers = []string{HeaderUserID, HeaderUserEmail, HeaderUserRoles, HeaderSignature, HeaderTimestamp}

// DefaultTolerance はタイムスタンプの許容誤差のデフォルト値。
const DefaultTolerance = 60 * time.Second

// Assertion はGatewayが1リクエストごとに生成する信頼アサーション。永続化はしない。
type Assertion struct {
	// SubjectID はユーザーの一意識別子。
	SubjectID string
	// SubjectEmail はユーザーのメールアドレス。
	SubjectEmail string
	// Roles はユーザーのロール・権限名。
	Roles []string
	// Timestamp はアサーションの生成時刻。
	Timestamp time.Time
	// Signature はSubjectID・SubjectEmail・Timestampに対する署名。
	Signature string
}

// Mint は署名済みの信頼アサーションを生成する。
func Mint(secret, subjectID, email string, roles []string, now time.Time) Assertion {
	ts := now.UnixMilli()
	return Assertion{
		SubjectID:    subjectID,
		SubjectEmail: email,
		Roles:        roles,
		Timestamp:    time.UnixMilli(ts),
		Signature:    signature.Sign(signature.Data(subjectID, email, ts), secret),
	}
}

// Apply はアサーションをヘッダーに書き込む。既存の値は置き換える。
func (a Assertion) Apply(h http.Header) {
	h.Set(HeaderUserID, a.SubjectID)
	h.Set(HeaderUserEmail, a.SubjectEmail)
	h.Set(HeaderUserRoles, strings.Join(a.Roles, ","))
	h.Set(HeaderSignature, a.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(a.Timestamp.UnixMilli(), 10))
}

// HasRole はアサーションが指定したロールを持つかを返す。
func (a Assertion) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Strip はヘッダーから信頼アサーション関連の値をすべて取り除く。
func Strip(h http.Header) {
	for _, k := range Headers {
		h.Del(k)
	}
}

// ParseRoles はカンマ区切りのロールヘッダーを分解する。空要素は除外する。
func ParseRoles(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

// IdentityFromHeader は署名を検証せずにヘッダーから識別情報を読み出す。
// 署名検証が無効化されている環境でのみ使用する。
func IdentityFromHeader(h http.Header) Assertion {
	return Assertion{
		SubjectID:    h.Get(HeaderUserID),
		SubjectEmail: h.Get(HeaderUserEmail),
		Roles:        ParseRoles(h.Get(HeaderUserRoles)),
	}
}

// TrustVerifier は内部サービスの入口で信頼アサーションを検証する。
type TrustVerifier interface {
	// Verify はヘッダーの信頼アサーションを検証し、成功した場合はその内容を返す。
	// 失敗した場合は apperror の TrustViolation または MalformedRequest を返す。
	Verify(h http.Header) (*Assertion, error)
}

// Verifier は共有シークレットとタイムスタンプ許容誤差で検証するTrustVerifier実装。
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

var _ TrustVerifier = (*Verifier)(nil)

// NewVerifier は新しいVerifierを生成する。
// シークレットは起動時に一度だけ設定から渡す。nowにnilを渡した場合は time.Now を使用する。
func NewVerifier(secret string, tolerance time.Duration, now func() time.Time) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: now}
}

// Verify はヘッダーの信頼アサーションを検証する。
func (v *Verifier) Verify(h http.Header) (*Assertion, error) {
	sig := h.Get(HeaderSignature)
	tsRaw := h.Get(HeaderTimestamp)
	if sig == "" || tsRaw == "" {
		return nil, apperror.New(apperror.KindTrustViolation,
			"direct access not allowed; must go through gateway", nil)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, apperror.New(apperror.KindMalformedRequest, "malformed gateway timestamp", err)
	}

	skew := v.now().Sub(time.UnixMilli(ts))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return nil, apperror.New(apperror.KindTrustViolation, "request expired", nil)
	}

	id := h.Get(HeaderUserID)
	email := h.Get(HeaderUserEmail)
	if !signature.Verify(signature.Data(id, email, ts), sig, v.secret) {
		return nil, apperror.New(apperror.KindTrustViolation, "invalid gateway signature", nil)
	}

	return &Assertion{
		SubjectID:    id,
		SubjectEmail: email,
		Roles:        ParseRoles(h.Get(HeaderUserRoles)),
		Timestamp:    time.UnixMilli(ts),
		Signature:    sig,
	}, nil
}
