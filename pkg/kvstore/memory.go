package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryEntry はインメモリストアの1エントリ。
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory はプロセス内のマップをバックエンドとするStore実装。
// 開発環境とテストで使用する。期限切れのエントリは参照時に削除する。
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory は空のインメモリストアを生成する。
// nowにnilを渡した場合は time.Now を使用する。
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// lookup は期限切れを考慮してエントリを取得する。呼び出し側でロックを保持すること。
func (m *Memory) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get はキーに対応する値を返す。
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// SetWithTTL はキーに値をTTL付きで設定する。
func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("TTLは正の値である必要があります: %s", ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Delete はキーを削除する。
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Exists はキーが存在するかを返す。
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	return ok, nil
}

// TTL はキーの残り有効期間を返す。
func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	return e.expiresAt.Sub(m.now()), nil
}
