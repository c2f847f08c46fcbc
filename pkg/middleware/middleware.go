package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/PAFGYM/k-quant-system-sub002/internal/auth"
	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles clients per route prefix
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limits   map[string]rate.Limit // path prefix -> limit
	burst    int
	idle     time.Duration
}

// NewRateLimiter uses the stock per-minute budgets for auth, order and safety routes.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limits: map[string]rate.Limit{
			"/api/v1/auth":   rate.Limit(10.0 / 60.0),
			"/api/v1/orders": rate.Limit(300.0 / 60.0),
			"/api/v1/safety": rate.Limit(60.0 / 60.0),
		},
		burst: 5,
		idle:  3 * time.Minute,
	}
}

// SetLimit overrides the budget for a path prefix.
func (rl *RateLimiter) SetLimit(prefix string, perMinute float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limits[prefix] = rate.Limit(perMinute / 60.0)
	if burst > 0 {
		rl.burst = burst
	}
}

func (rl *RateLimiter) limiter(path, client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := client + ":" + path
	v, ok := rl.visitors[key]
	if !ok {
		limit := rate.Inf
		for prefix, l := range rl.limits {
			if strings.HasPrefix(path, prefix) {
				limit = l
				break
			}
		}
		v = &visitor{limiter: rate.NewLimiter(limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops idle visitors every minute until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > rl.idle {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.GetString("operatorID")
		if client == "" {
			client = c.ClientIP()
		}
		if !rl.limiter(c.FullPath(), client).Allow() {
			response.TooManyRequests(c, "rate limit exceeded, try again later")
			return
		}
		c.Next()
	}
}

// JWTAuth requires a valid operator bearer token.
func JWTAuth(service *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.Unauthorized(c, "invalid authorization header")
			return
		}

		claims, err := service.ValidateToken(parts[1])
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}

		c.Set("claims", claims)
		c.Set("operatorID", claims.OperatorID)
		c.Next()
	}
}

// RequestLogger logs one line per request with zerolog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}
		event.
			Str("component", "http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("operator_id", c.GetString("operatorID")).
			Msg("request")
	}
}
