// Package kvstore はTTL付きキーバリューストアの抽象と実装を提供する。
//
// リフレッシュトークン台帳とアクセストークンのブラックリストはこの抽象の上に
// 構築されるため、バックエンド（Redis / インメモリ）を差し替えてもプロトコルには
// 影響しない。すべての操作は単一キーに対するアトミックな操作である。
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はキーが存在しないことを表す。
var ErrNotFound = errors.New("kvstore: key not found")

// Store はTTL付きキーバリューストアの操作を表す。
type Store interface {
	// Get はキーに対応する値を返す。キーが存在しない場合は ErrNotFound を返す。
	Get(ctx context.Context, key string) (string, error)
	// SetWithTTL はキーに値を設定し、ttl経過後に自動削除されるようにする。既存の値は上書きする。
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete はキーを削除する。キーが存在しなくてもエラーにはしない。
	Delete(ctx context.Context, key string) error
	// Exists はキーが存在するかを返す。
	Exists(ctx context.Context, key string) (bool, error)
	// TTL はキーの残り有効期間を返す。キーが存在しない場合は ErrNotFound を返す。
	TTL(ctx context.Context, key string) (time.Duration, error)
}
