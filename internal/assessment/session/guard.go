package session

import (
	"context"
	"strconv"
	"time"

	"codeassess/internal/common/cache"
	appErr "codeassess/pkg/errors"
	"codeassess/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	processingMarker = "processing"
	submittedMarker  = "submitted"

	defaultGuardTTL     = 10 * time.Minute
	defaultSubmittedTTL = 24 * time.Hour
)

// GuardStatus is the result of claiming the submit slot of a session.
type GuardStatus int

const (
	GuardAcquired GuardStatus = iota
	GuardInFlight
	GuardDone
)

// SubmitGuard makes the final submission at-most-once across processes.
type SubmitGuard interface {
	Acquire(ctx context.Context, sessionID string) (GuardStatus, error)
	Complete(ctx context.Context, sessionID string)
	Release(ctx context.Context, sessionID string)
}

// RedisSubmitGuard claims the submit slot with SetNX.
type RedisSubmitGuard struct {
	cache        cache.Cache
	ttl          time.Duration
	submittedTTL time.Duration
	timeout      time.Duration
}

// NewRedisSubmitGuard creates a guard. ttl bounds how long a crashed submit blocks retries.
func NewRedisSubmitGuard(c cache.Cache, ttl, timeout time.Duration) *RedisSubmitGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisSubmitGuard{cache: c, ttl: ttl, submittedTTL: defaultSubmittedTTL, timeout: timeout}
}

func submitKey(sessionID string) string {
	return cache.Key("submit", sessionID)
}

func (g *RedisSubmitGuard) Acquire(ctx context.Context, sessionID string) (GuardStatus, error) {
	key := submitKey(sessionID)
	ctxCache := withTimeout(ctx, g.timeout)
	defer ctxCache.cancel()

	ok, err := g.cache.SetNX(ctxCache.ctx, key, processingMarker, g.ttl)
	if err != nil {
		return GuardAcquired, appErr.Wrapf(err, appErr.CacheError, "acquire submit guard failed")
	}
	if ok {
		return GuardAcquired, nil
	}
	existing, err := g.cache.Get(ctxCache.ctx, key)
	if err != nil {
		return GuardAcquired, appErr.Wrapf(err, appErr.CacheError, "read submit guard failed")
	}
	if existing == submittedMarker {
		return GuardDone, nil
	}
	return GuardInFlight, nil
}

func (g *RedisSubmitGuard) Complete(ctx context.Context, sessionID string) {
	ctxCache := withTimeout(ctx, g.timeout)
	defer ctxCache.cancel()
	if err := g.cache.Set(ctxCache.ctx, submitKey(sessionID), submittedMarker, cache.JitterTTL(g.submittedTTL)); err != nil {
		logger.Warn(ctx, "mark submit guard failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (g *RedisSubmitGuard) Release(ctx context.Context, sessionID string) {
	ctxCache := withTimeout(ctx, g.timeout)
	defer ctxCache.cancel()
	if err := g.cache.Del(ctxCache.ctx, submitKey(sessionID)); err != nil {
		logger.Warn(ctx, "release submit guard failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// PasteLedger keeps the paste count of a session across reloads.
type PasteLedger interface {
	Count(ctx context.Context, sessionID string) (int, error)
	Incr(ctx context.Context, sessionID string) (int, error)
}

// RedisPasteLedger stores paste counts as Redis counters.
type RedisPasteLedger struct {
	cache   cache.Cache
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisPasteLedger(c cache.Cache, ttl, timeout time.Duration) *RedisPasteLedger {
	if ttl <= 0 {
		ttl = defaultSubmittedTTL
	}
	return &RedisPasteLedger{cache: c, ttl: ttl, timeout: timeout}
}

func pasteKey(sessionID string) string {
	return cache.Key("paste", sessionID)
}

func (l *RedisPasteLedger) Count(ctx context.Context, sessionID string) (int, error) {
	ctxCache := withTimeout(ctx, l.timeout)
	defer ctxCache.cancel()
	raw, err := l.cache.Get(ctxCache.ctx, pasteKey(sessionID))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "read paste count failed")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "paste count %q is not a number", raw)
	}
	return n, nil
}

func (l *RedisPasteLedger) Incr(ctx context.Context, sessionID string) (int, error) {
	ctxCache := withTimeout(ctx, l.timeout)
	defer ctxCache.cancel()
	key := pasteKey(sessionID)
	n, err := l.cache.Incr(ctxCache.ctx, key)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "increment paste count failed")
	}
	if n == 1 {
		if err := l.cache.Expire(ctxCache.ctx, key, cache.JitterTTL(l.ttl)); err != nil {
			logger.Warn(ctx, "set paste count ttl failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return int(n), nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
