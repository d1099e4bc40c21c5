package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/capshim/internal/infrastructure/config"
)

const (
	defaultLimiterIdle = 5 * time.Minute
	defaultMaxClients  = 4096
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP. Buckets idle longer than
// idle are swept, and the set never holds more than max clients.
type limiterSet struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	max       int
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	s := &limiterSet{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idle:    cfg.IdleTTL,
		max:     cfg.MaxClients,
		now:     time.Now,
	}
	if s.idle <= 0 {
		s.idle = defaultLimiterIdle
	}
	if s.max <= 0 {
		s.max = defaultMaxClients
	}
	return s
}

func (s *limiterSet) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idle {
		s.sweep(now)
	}

	if cl, ok := s.clients[ip]; ok {
		cl.lastSeen = now
		return cl.limiter
	}
	if len(s.clients) >= s.max {
		s.sweep(now)
		if len(s.clients) >= s.max {
			s.evictOldest()
		}
	}
	cl := &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst), lastSeen: now}
	s.clients[ip] = cl
	return cl.limiter
}

func (s *limiterSet) sweep(now time.Time) {
	for ip, cl := range s.clients {
		if now.Sub(cl.lastSeen) >= s.idle {
			delete(s.clients, ip)
		}
	}
	s.lastSweep = now
}

func (s *limiterSet) evictOldest() {
	var (
		oldest string
		seen   time.Time
	)
	for ip, cl := range s.clients {
		if oldest == "" || cl.lastSeen.Before(seen) {
			oldest, seen = ip, cl.lastSeen
		}
	}
	delete(s.clients, oldest)
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	return rateLimit(newLimiterSet(cfg))
}

func rateLimit(set *limiterSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !set.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
