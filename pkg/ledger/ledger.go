// Package ledger はリフレッシュトークン台帳とアクセストークンのブラックリストを提供する。
//
// どちらもTTL付きキーバリューストア上の独立したキー系列として表現する。
//
//	refresh_token:{email}          → 現在有効なリフレッシュトークン（TTL = リフレッシュ有効期間）
//	blacklist_token:{accessToken}  → 所有者のメールアドレス（TTL = ログアウト時点の残り有効期間）
//
// 同一ユーザーに対する同時ログイン・同時リフレッシュは同じキーを競合して
// 後勝ちになる。分散ロックは使用しない。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/jobhunter/pkg/kvstore"
)

const (
	// refreshKeyPrefix はリフレッシュトークン台帳のキー接頭辞。
	refreshKeyPrefix = "refresh_token:"
	// blacklistKeyPrefix はブラックリストのキー接頭辞。
	blacklistKeyPrefix = "blacklist_token:"
	// DefaultTimeout はストア操作1回あたりのデフォルトのタイムアウト。
	DefaultTimeout = 2 * time.Second
)

// Ledger はリフレッシュトークン台帳とブラックリストの操作を提供する。
type Ledger struct {
	store      kvstore.Store
	refreshTTL time.Duration
	timeout    time.Duration
}

// New は新しいLedgerを生成する。
// refreshTTLはリフレッシュトークン台帳エントリの有効期間、timeoutはストア操作1回あたりの上限。
func New(store kvstore.Store, refreshTTL, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ledger{store: store, refreshTTL: refreshTTL, timeout: timeout}
}

// RefreshKey はリフレッシュトークン台帳のキーを返す。
func RefreshKey(email string) string {
	return refreshKeyPrefix + email
}

// BlacklistKey はブラックリストのキーを返す。
func BlacklistKey(token string) string {
	return blacklistKeyPrefix + token
}

// SaveRefresh はユーザーの現在のリフレッシュトークンを保存する。既存のエントリは上書きする。
func (l *Ledger) SaveRefresh(ctx context.Context, email, token string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.SetWithTTL(ctx, RefreshKey(email), token, l.refreshTTL); err != nil {
		return fmt.Errorf("リフレッシュトークンの保存に失敗: %w", err)
	}
	return nil
}

// GetRefresh はユーザーの現在のリフレッシュトークンを返す。存在しない場合はfalseを返す。
func (l *Ledger) GetRefresh(ctx context.Context, email string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	v, err := l.store.Get(ctx, RefreshKey(email))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("リフレッシュトークンの取得に失敗: %w", err)
	}
	return v, true, nil
}

// DeleteRefresh はユーザーのリフレッシュトークンを削除する。
func (l *Ledger) DeleteRefresh(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.Delete(ctx, RefreshKey(email)); err != nil {
		return fmt.Errorf("リフレッシュトークンの削除に失敗: %w", err)
	}
	return nil
}

// ValidateRefresh はtokenが台帳上の現在のリフレッシュトークンと完全一致するかを返す。
func (l *Ledger) ValidateRefresh(ctx context.Context, email, token string) (bool, error) {
	stored, ok, err := l.GetRefresh(ctx, email)
	if err != nil {
		return false, err
	}
	return ok && stored == token, nil
}

// Blacklist はアクセストークンを残り有効期間だけブラックリストに登録する。
// remainingが0以下の場合は何もしない。
func (l *Ledger) Blacklist(ctx context.Context, token, ownerEmail string, remaining time.Duration) error {
	if remaining <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.store.SetWithTTL(ctx, BlacklistKey(token), ownerEmail, remaining); err != nil {
		return fmt.Errorf("アクセストークンのブラックリスト登録に失敗: %w", err)
	}
	return nil
}

// IsBlacklisted はアクセストークンがブラックリストに登録されているかを返す。
// ストアにアクセスできない場合はエラーを返す。呼び出し側は拒否として扱うこと。
func (l *Ledger) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := l.store.Exists(ctx, BlacklistKey(token))
	if err != nil {
		return false, fmt.Errorf("ブラックリストの確認に失敗: %w", err)
	}
	return ok, nil
}
