package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nao1215/jobhunter/pkg/apperror"
)

// RateLimitConfig はクライアントIPごとのトークンバケットの設定。
type RateLimitConfig struct {
	// PerSecond は1秒あたりに補充される要求数。0以下の場合は制限しない。
	PerSecond float64
	// Burst は一度に受け付ける要求数の上限。
	Burst int
	// IdleTTL はこの期間アクセスの無いクライアントのバケットを破棄する。
	IdleTTL time.Duration
	// Logger はコンテキストにロガーが無い場合に使用する。
	Logger zerolog.Logger
	// Now は現在時刻を返す。nilの場合は time.Now を使用する。
	Now func() time.Time
}

type rateBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit はクライアントIPごとに要求数を制限するGinミドルウェアを返す。
// 上限を超えた要求は429で拒否し、Retry-After に次に受け付け可能になるまでの秒数を設定する。
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.PerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var (
		mu        sync.Mutex
		buckets   = make(map[string]*rateBucket)
		lastSweep time.Time
	)

	return func(c *gin.Context) {
		t := now()
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}

		mu.Lock()
		if t.Sub(lastSweep) > cfg.IdleTTL {
			for k, b := range buckets {
				if t.Sub(b.lastSeen) > cfg.IdleTTL {
					delete(buckets, k)
				}
			}
			lastSweep = t
		}
		b, ok := buckets[ip]
		if !ok {
			b = &rateBucket{limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)}
			buckets[ip] = b
		}
		b.lastSeen = t
		r := b.limiter.ReserveN(t, 1)
		delay := r.DelayFrom(t)
		if delay > 0 {
			r.CancelAt(t)
		}
		mu.Unlock()

		if delay > 0 {
			contextLogger(c, cfg.Logger).Warn().Str("client_ip", ip).Str("path", c.Request.URL.Path).Msg("ratelimit.rejected")
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			apperror.Respond(c, apperror.New(apperror.KindRateLimited, "too many requests", nil))
			return
		}
		c.Next()
	}
}
