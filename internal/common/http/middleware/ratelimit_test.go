package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeassess/internal/common/cache"
	"codeassess/internal/common/http/middleware"
	"codeassess/internal/testutil"
	pkgerrors "codeassess/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newLimitedRouter(t *testing.T, policy middleware.RateLimitPolicy) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	testutil.AssertNil(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	limiter := middleware.NewRateLimiter(rc, time.Minute, time.Second)
	r := gin.New()
	r.POST("/sessions/:id/run", middleware.RateLimitMiddleware(limiter, "execute", policy), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, mr
}

func hit(r *gin.Engine, id string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/run", nil))
	return w
}

func TestRateLimitPerSession(t *testing.T) {
	r, mr := newLimitedRouter(t, middleware.RateLimitPolicy{SessionMax: 2})

	testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)
	testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)

	w := hit(r, "s-1")
	testutil.AssertEqual(t, w.Code, http.StatusTooManyRequests)
	var body struct {
		Code      pkgerrors.ErrorCode `json:"code"`
		Retryable bool                `json:"retryable"`
	}
	testutil.MustUnmarshalJSON(t, w.Body.Bytes(), &body)
	testutil.AssertEqual(t, body.Code, pkgerrors.TooManyRequests)
	testutil.AssertTrue(t, body.Retryable, "rate limited calls are retryable")

	testutil.AssertEqual(t, hit(r, "s-2").Code, http.StatusNoContent)

	mr.FastForward(time.Minute + time.Second)
	testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)
}

func TestRateLimitPerIP(t *testing.T) {
	r, _ := newLimitedRouter(t, middleware.RateLimitPolicy{IPMax: 1})

	testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)
	testutil.AssertEqual(t, hit(r, "s-2").Code, http.StatusTooManyRequests)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r, mr := newLimitedRouter(t, middleware.RateLimitPolicy{SessionMax: 1})
	mr.Close()

	testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)
	testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/sessions/:id/run", middleware.RateLimitMiddleware(nil, "execute", middleware.RateLimitPolicy{SessionMax: 1}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	for i := 0; i < 3; i++ {
		testutil.AssertEqual(t, hit(r, "s-1").Code, http.StatusNoContent)
	}
}
