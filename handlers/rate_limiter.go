package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"campus-election-backend/auth"
	"campus-election-backend/cache"
	"campus-election-backend/config"
	"campus-election-backend/errs"
)

// RateLimiterStats summarizes limiter decisions since start.
type RateLimiterStats struct {
	Backend          string                 `json:"backend"`
	TotalRequests    int64                  `json:"total_requests"`
	AllowedRequests  int64                  `json:"allowed_requests"`
	RejectedRequests int64                  `json:"rejected_requests"`
	Config           config.RateLimitConfig `json:"config"`
}

// RateLimiter throttles requests globally and per caller. With Redis the
// buckets are shared by every replica; without it, or when Redis fails,
// in-process token buckets take over.
type RateLimiter struct {
	cfg    config.RateLimitConfig
	client cache.RedisClient
	shared *cache.UserRateLimiter

	global *rate.Limiter
	mu     sync.Mutex
	users  map[string]*rate.Limiter

	total    atomic.Int64
	allowed  atomic.Int64
	rejected atomic.Int64
	logger   *zap.Logger
}

// NewRateLimiter builds a limiter. client may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, client cache.RedisClient, logger *zap.Logger) *RateLimiter {
	if cfg.GlobalRate <= 0 {
		cfg.GlobalRate = 100
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = cfg.GlobalRate * 2
	}
	if cfg.UserRate <= 0 {
		cfg.UserRate = 10
	}
	if cfg.UserBurst <= 0 {
		cfg.UserBurst = cfg.UserRate * 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &RateLimiter{
		cfg:    cfg,
		client: client,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		users:  make(map[string]*rate.Limiter),
		logger: logger,
	}
	if client != nil {
		l.shared = cache.NewUserRateLimiter(client, "api", cfg.GlobalRate, cfg.GlobalBurst, cfg.UserRate, cfg.UserBurst)
	}
	return l
}

func (l *RateLimiter) localUser(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.users[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.UserRate), l.cfg.UserBurst)
		l.users[key] = lim
	}
	return lim
}

// callerKey identifies the caller by user id, or by address when anonymous.
func callerKey(c *gin.Context) string {
	if p := auth.PrincipalFrom(c); p.Authenticated() {
		return "user:" + p.UserID
	}
	return "ip:" + c.ClientIP()
}

func (l *RateLimiter) allow(c *gin.Context, key string) (bool, time.Duration) {
	if l.shared != nil {
		d, err := l.shared.AllowUser(c.Request.Context(), key)
		if err == nil {
			return d.Allowed, d.RetryAfter
		}
		l.logger.Warn("shared rate limit unavailable, using local buckets", zap.Error(err))
	}
	return l.global.Allow() && l.localUser(key).Allow(), 0
}

// reject answers 429, with Retry-After when the wait is known.
func reject(c *gin.Context, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "too many requests, please retry later",
		"kind":  errs.KindState,
	})
}

// Middleware applies the global and per-caller buckets when enabled. It
// must run after auth.Authenticate.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.cfg.Enabled {
			c.Next()
			return
		}
		l.total.Add(1)
		if ok, wait := l.allow(c, callerKey(c)); !ok {
			l.rejected.Add(1)
			reject(c, wait)
			return
		}
		l.allowed.Add(1)
		c.Next()
	}
}

// Window caps each caller at limit requests in any window on the routes it
// guards. It needs Redis and lets everything through without it.
func (l *RateLimiter) Window(name string, window time.Duration, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.cfg.Enabled || l.client == nil {
			c.Next()
			return
		}
		w := cache.NewSlidingWindowRateLimiter(l.client, name+":"+callerKey(c), window, limit)
		d, err := w.Allow(c.Request.Context())
		if err != nil {
			l.logger.Warn("sliding window check failed", zap.String("window", name), zap.Error(err))
			c.Next()
			return
		}
		if !d.Allowed {
			l.rejected.Add(1)
			reject(c, d.RetryAfter)
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) Stats() RateLimiterStats {
	backend := "local"
	if l.shared != nil {
		backend = "redis"
	}
	return RateLimiterStats{
		Backend:          backend,
		TotalRequests:    l.total.Load(),
		AllowedRequests:  l.allowed.Load(),
		RejectedRequests: l.rejected.Load(),
		Config:           l.cfg,
	}
}

// StatsHandler serves Stats for admins.
func (l *RateLimiter) StatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, l.Stats())
}
