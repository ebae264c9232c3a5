package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis はRedisをバックエンドとするStore実装。
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// RedisOptions はRedis接続設定。
type RedisOptions struct {
	// Addr は "host:port" 形式の接続先。
	Addr string
	// Password は認証パスワード。
	Password string
	// DB は使用するデータベース番号。
	DB int
}

// NewRedis はRedisに接続し、疎通を確認したStoreを返す。
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient は既存のクライアントからStoreを生成する。
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Close は接続を閉じる。
func (r *Redis) Close() error {
	return r.client.Close()
}

// Get はキーに対応する値を返す。
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("GET %s に失敗: %w", key, err)
	}
	return v, nil
}

// SetWithTTL はキーに値をTTL付きで設定する。
func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("TTLは正の値である必要があります: %s", ttl)
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("SET %s に失敗: %w", key, err)
	}
	return nil
}

// Delete はキーを削除する。
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("DEL %s に失敗: %w", key, err)
	}
	return nil
}

// Exists はキーが存在するかを返す。
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("EXISTS %s に失敗: %w", key, err)
	}
	return n > 0, nil
}

// TTL はキーの残り有効期間を返す。
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("TTL %s に失敗: %w", key, err)
	}
	// -2: キーが存在しない, -1: 有効期限なし
	if d == -2 {
		return 0, ErrNotFound
	}
	return d, nil
}
