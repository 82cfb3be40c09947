package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
)

// RateLimitMiddleware applies one global token bucket. Health probes are exempt.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			respondError(c, apperr.ErrRateLimited)
			return
		}
		c.Next()
	}
}
