package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/metrics"
)

// IPRateLimiter is a per-IP token bucket.
type IPRateLimiter struct {
	limits map[string]*tokenBucket
	mu     sync.Mutex
	rate   time.Duration // one token per rate
	burst  int
	now    func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

func newIPRateLimiter(rate time.Duration, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limits: make(map[string]*tokenBucket),
		rate:   rate,
		burst:  burst,
		now:    time.Now,
	}
}

// allow takes a token for ip. When refused it returns the wait until the next token.
func (l *IPRateLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.limits[ip]
	if !ok {
		if len(l.limits) > 10000 {
			l.evictFull(now)
		}
		l.limits[ip] = &tokenBucket{tokens: float64(l.burst) - 1, lastRefill: now}
		return true, 0
	}

	elapsed := now.Sub(b.lastRefill)
	b.tokens = math.Min(float64(l.burst), b.tokens+float64(elapsed)/float64(l.rate))
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) * float64(l.rate))
	return false, wait
}

// evictFull drops buckets that have refilled completely.
func (l *IPRateLimiter) evictFull(now time.Time) {
	full := time.Duration(l.burst) * l.rate
	for ip, b := range l.limits {
		if now.Sub(b.lastRefill) >= full {
			delete(l.limits, ip)
		}
	}
}

func rateLimitMiddleware(limiter *IPRateLimiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := limiter.allow(c.ClientIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			m.RecordRateLimited()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:      "rate limit exceeded",
				RetryAfter: secs,
			})
			return
		}
		c.Next()
	}
}

// bodyLimitMiddleware rejects bodies larger than maxSize.
func bodyLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "request body too large",
				Details: gin.H{"maxBytes": maxSize},
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}
