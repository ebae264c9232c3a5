// Package apperror は認証・認可プロトコルのエラー分類とHTTPステータスへの対応付けを提供する。
//
// 内部のパースや暗号処理のエラーはクライアントに直接返さず、
// 必ずこのパッケージの分類に変換してから応答する。
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind はエラーの分類を表す。
type Kind int

const (
	// KindInternal は分類外の内部エラー。クライアントには汎用メッセージのみ返す。
	KindInternal Kind = iota
	// KindAuthenticationFailure は資格情報やトークンが無効であることを表す。
	KindAuthenticationFailure
	// KindTokenRevoked はブラックリスト登録済みのアクセストークンであることを表す。
	KindTokenRevoked
	// KindTrustViolation はGatewayの信頼アサーションが欠落・失効・偽造されていることを表す。
	KindTrustViolation
	// KindAuthorizationFailure は本人確認は済んだがロールが不足していることを表す。
	KindAuthorizationFailure
	// KindMalformedRequest はタイムスタンプ等が解釈できないリクエストであることを表す。
	KindMalformedRequest
	// KindConflict は一意制約に反する登録要求であることを表す。
	KindConflict
	// KindRateLimited は同一クライアントからの要求が多すぎることを表す。
	KindRateLimited
)

// String は分類名を返す。ログ出力に使用する。
func (k Kind) String() string {
	switch k {
	case KindAuthenticationFailure:
		return "AuthenticationFailure"
	case KindTokenRevoked:
		return "TokenRevoked"
	case KindTrustViolation:
		return "TrustViolation"
	case KindAuthorizationFailure:
		return "AuthorizationFailure"
	case KindMalformedRequest:
		return "MalformedRequest"
	case KindConflict:
		return "Conflict"
	case KindRateLimited:
		return "RateLimited"
	default:
		return "Internal"
	}
}

// Status は分類に対応するHTTPステータスコードを返す。
func (k Kind) Status() int {
	switch k {
	case KindAuthenticationFailure, KindTokenRevoked:
		return http.StatusUnauthorized
	case KindTrustViolation, KindAuthorizationFailure:
		return http.StatusForbidden
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error は分類・クライアント向けメッセージ・原因エラーを保持する。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Message はクライアントに返すメッセージ。
	Message string
	// Err は原因となった内部エラー。クライアントには返さない。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is は同じ分類のエラーであれば一致とみなす。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// 分類ごとの比較用センチネル。errors.Is(err, apperror.ErrTrustViolation) のように使う。
var (
	ErrAuthenticationFailure = &Error{Kind: KindAuthenticationFailure}
	ErrTokenRevoked          = &Error{Kind: KindTokenRevoked}
	ErrTrustViolation        = &Error{Kind: KindTrustViolation}
	ErrAuthorizationFailure  = &Error{Kind: KindAuthorizationFailure}
	ErrMalformedRequest      = &Error{Kind: KindMalformedRequest}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
)

// New は指定した分類のエラーを生成する。
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf はerrの分類を返す。分類されていないエラーはKindInternalになる。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status はerrに対応するHTTPステータスコードを返す。
func Status(err error) int {
	return KindOf(err).Status()
}

// Message はクライアントに返してよいメッセージを返す。
// 分類されていないエラーの詳細は決して含めない。
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// Respond はerrを分類に従ったステータスとJSONボディでクライアントに返し、処理を中断する。
func Respond(c *gin.Context, err error) {
	c.AbortWithStatusJSON(Status(err), gin.H{"error": Message(err)})
}
