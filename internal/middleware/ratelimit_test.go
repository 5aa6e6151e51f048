package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	t.Run("should allow a burst of twice the rate", func(t *testing.T) {
		limiter := NewRateLimiter(2)
		now := time.Now()
		limiter.now = func() time.Time { return now }

		for i := 0; i < 4; i++ {
			assert.True(t, limiter.Allow("10.0.0.1"), "request %d", i)
		}
		assert.False(t, limiter.Allow("10.0.0.1"))
		assert.True(t, limiter.Allow("10.0.0.2"))
	})

	t.Run("should refill over time", func(t *testing.T) {
		limiter := NewRateLimiter(1)
		now := time.Now()
		limiter.now = func() time.Time { return now }

		assert.True(t, limiter.Allow("k"))
		assert.True(t, limiter.Allow("k"))
		assert.False(t, limiter.Allow("k"))

		now = now.Add(time.Second)
		assert.True(t, limiter.Allow("k"))
	})

	t.Run("should be safe for concurrent use", func(t *testing.T) {
		limiter := NewRateLimiter(50)
		now := time.Now()
		limiter.now = func() time.Time { return now }

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, allowed)
	})

	t.Run("should drop idle buckets", func(t *testing.T) {
		limiter := NewRateLimiter(1)
		now := time.Now()
		limiter.now = func() time.Time { return now }

		limiter.Allow("old")
		now = now.Add(2 * time.Hour)
		limiter.Allow("new")

		limiter.CleanupOldBuckets()
		assert.Equal(t, 1, limiter.Len())
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1)

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
