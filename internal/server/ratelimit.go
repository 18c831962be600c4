package server

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/errors"
	"github.com/tokmz/qichat/pkg/logger"
)

// ErrRateLimited 发布过于频繁
var ErrRateLimited = errors.New(4203, 429, "server: too many requests", nil)

// RateLimitConfig 发布接口限流配置，按发送者限流，无发送者时按客户端 IP
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	BucketExpiry      time.Duration `mapstructure:"bucket_expiry"`
}

// DefaultRateLimitConfig 默认限流配置
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled:           false,
		RequestsPerSecond: 20,
		Burst:             40,
		CleanupInterval:   10 * time.Minute,
		BucketExpiry:      30 * time.Minute,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// limiter 令牌桶集合，每个 key 一个桶
type limiter struct {
	rate   float64
	burst  float64
	expiry time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		rate:    cfg.RequestsPerSecond,
		burst:   float64(cfg.Burst),
		expiry:  cfg.BucketExpiry,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

func (l *limiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, lastRefill: now}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = min(l.burst, b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate)
	b.lastRefill = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// cleanup 删除长时间未使用的桶
func (l *limiter) cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		expired := now.Sub(b.lastRefill) > l.expiry
		b.mu.Unlock()
		if expired {
			delete(l.buckets, key)
		}
	}
}

// runCleanup 定期清理，直到 ctx 取消
func (l *limiter) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func rateLimit(l *limiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(UserHeader)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.allow(key) {
			log.WarnContext(c.Request.Context(), "rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
			)
			fail(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
