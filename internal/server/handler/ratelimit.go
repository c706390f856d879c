package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// defaultEvictAfter is how long a client may sit idle before its token
// bucket is discarded.
const defaultEvictAfter = 10 * time.Minute

// limiterPool hands out one token bucket per client IP and evicts buckets
// that have been idle longer than evictAfter.
type limiterPool struct {
	mu         sync.Mutex
	rps        rate.Limit
	burst      int
	evictAfter time.Duration
	clients    map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps, burst int, evictAfter time.Duration) *limiterPool {
	p := &limiterPool{
		rps:        rate.Limit(rps),
		burst:      burst,
		evictAfter: evictAfter,
		clients:    make(map[string]*clientLimiter),
	}
	go p.evictIdle()
	return p
}

func (p *limiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	cl, ok := p.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (p *limiterPool) evictIdle() {
	for {
		time.Sleep(p.evictAfter / 2)
		p.mu.Lock()
		for ip, cl := range p.clients {
			if time.Since(cl.lastSeen) > p.evictAfter {
				delete(p.clients, ip)
			}
		}
		p.mu.Unlock()
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Clients idle longer than ten minutes are evicted.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	return RateLimiterWithEviction(rps, burst, defaultEvictAfter)
}

// RateLimiterWithEviction is RateLimiter with a configurable idle window.
// The eviction sweep runs at half the window so a bucket lingers at most
// 1.5x the window past its last request.
func RateLimiterWithEviction(rps, burst int, evictAfter time.Duration) gin.HandlerFunc {
	pool := newLimiterPool(rps, burst, evictAfter)

	return func(c *gin.Context) {
		if !pool.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
