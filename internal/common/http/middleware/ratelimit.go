package middleware

import (
	"context"
	"fmt"
	"time"

	"codeassess/internal/common/cache"
	pkgerrors "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"
	"codeassess/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitPolicy caps requests per window. Zero disables a dimension.
type RateLimitPolicy struct {
	Window     time.Duration `yaml:"window"`
	SessionMax int           `yaml:"sessionMax"`
	IPMax      int           `yaml:"ipMax"`
}

// Enabled reports whether any dimension is limited.
func (p RateLimitPolicy) Enabled() bool {
	return p.SessionMax > 0 || p.IPMax > 0
}

// RateLimiter enforces fixed-window limits on a shared counter store.
type RateLimiter struct {
	cache   cache.Cache
	window  time.Duration
	timeout time.Duration
}

func NewRateLimiter(c cache.Cache, window, timeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &RateLimiter{cache: c, window: window, timeout: timeout}
}

// Allow counts one hit on key and fails with TooManyRequests past max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if window <= 0 {
		window = l.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// a key that lost its ttl would otherwise block forever
		if count == 1 {
			_ = l.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware limits one route per session and per client ip.
// Cache failures let the request through.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !policy.Enabled() {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		if policy.IPMax > 0 {
			key := cache.Key("ratelimit", "ip", c.ClientIP(), routeKey)
			if abortOnLimit(c, limiter.Allow(ctx, key, policy.IPMax, policy.Window)) {
				return
			}
		}
		if sessionID := c.Param("id"); policy.SessionMax > 0 && sessionID != "" {
			key := cache.Key("ratelimit", "session", sessionID, routeKey)
			if abortOnLimit(c, limiter.Allow(ctx, key, policy.SessionMax, policy.Window)) {
				return
			}
		}
		c.Next()
	}
}

func abortOnLimit(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	if !pkgerrors.Is(err, pkgerrors.TooManyRequests) {
		logger.Warn(c.Request.Context(), "rate limit skipped", zap.Error(err))
		return false
	}
	response.AbortWithError(c, err)
	return true
}
