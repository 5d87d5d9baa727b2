package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Run("requests under the limit pass", func(t *testing.T) {
		limiter := NewRateLimiter(3, time.Minute)
		for i := 0; i < 3; i++ {
			if allowed, _ := limiter.Allow("client"); !allowed {
				t.Fatalf("Request %d should have been allowed", i+1)
			}
		}
	})

	t.Run("the request over the limit is rejected with a retry hint", func(t *testing.T) {
		limiter := NewRateLimiter(2, time.Minute)
		limiter.Allow("client")
		limiter.Allow("client")

		allowed, retryAfter := limiter.Allow("client")
		if allowed {
			t.Fatal("Third request should have been rejected")
		}
		if retryAfter <= 0 {
			t.Errorf("RetryAfter = %v, want positive", retryAfter)
		}
	})

	t.Run("clients are limited independently", func(t *testing.T) {
		limiter := NewRateLimiter(1, time.Minute)
		limiter.Allow("first")

		if allowed, _ := limiter.Allow("second"); !allowed {
			t.Error("A different client should not be affected")
		}
	})

	t.Run("the window slides", func(t *testing.T) {
		limiter := NewRateLimiter(1, 20*time.Millisecond)
		limiter.Allow("client")

		if allowed, _ := limiter.Allow("client"); allowed {
			t.Fatal("Second request inside the window should be rejected")
		}

		time.Sleep(30 * time.Millisecond)
		if allowed, _ := limiter.Allow("client"); !allowed {
			t.Error("Request after the window should be allowed")
		}
	})

	t.Run("zero limit disables enforcement", func(t *testing.T) {
		limiter := NewRateLimiter(0, time.Minute)
		for i := 0; i < 100; i++ {
			if allowed, _ := limiter.Allow("client"); !allowed {
				t.Fatal("Disabled limiter should allow everything")
			}
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(limiter *RateLimiter) *gin.Engine {
		router := gin.New()
		router.Use(RateLimitMiddleware(limiter))
		router.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
		return router
	}

	t.Run("over-limit requests get 429 and Retry-After", func(t *testing.T) {
		router := newRouter(NewRateLimiter(1, time.Minute))

		first := httptest.NewRecorder()
		router.ServeHTTP(first, httptest.NewRequest("GET", "/ping", nil))
		if first.Code != http.StatusOK {
			t.Fatalf("First request status = %d", first.Code)
		}

		second := httptest.NewRecorder()
		router.ServeHTTP(second, httptest.NewRequest("GET", "/ping", nil))
		if second.Code != http.StatusTooManyRequests {
			t.Fatalf("Second request status = %d, want 429", second.Code)
		}
		if second.Header().Get("Retry-After") == "" {
			t.Error("429 response should carry a Retry-After header")
		}
	})

	t.Run("forwarded clients are distinguished", func(t *testing.T) {
		router := newRouter(NewRateLimiter(1, time.Minute))

		send := func(forwardedFor string) int {
			req := httptest.NewRequest("GET", "/ping", nil)
			req.Header.Set("X-Forwarded-For", forwardedFor)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			return w.Code
		}

		if code := send("10.0.0.1"); code != http.StatusOK {
			t.Fatalf("First client status = %d", code)
		}
		if code := send("10.0.0.2, 172.16.0.1"); code != http.StatusOK {
			t.Errorf("Second client status = %d, should have its own budget", code)
		}
		if code := send("10.0.0.1, 172.16.0.1"); code != http.StatusTooManyRequests {
			t.Errorf("Repeat client status = %d, want 429 regardless of proxy hops", code)
		}
	})
}
