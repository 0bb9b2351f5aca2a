package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cutekitek/rankode-grader/internal/metrics"
	"golang.org/x/time/rate"
)

type RateLimiter struct {
	global   *rate.Limiter
	perIP    sync.Map
	ipRate   rate.Limit
	ipBurst  int
	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter builds a global token bucket plus one bucket per client IP.
// A non-positive rate disables that bucket.
func NewRateLimiter(globalRPS, perIPRPS float64, perIPBurst int) *RateLimiter {
	rl := &RateLimiter{
		ipRate:  rate.Limit(perIPRPS),
		ipBurst: perIPBurst,
		stop:    make(chan struct{}),
	}
	if globalRPS > 0 {
		burst := int(globalRPS) * 2
		if burst < 1 {
			burst = 1
		}
		rl.global = rate.NewLimiter(rate.Limit(globalRPS), burst)
	}
	if rl.ipBurst < 1 {
		rl.ipBurst = 1
	}
	return rl
}

func (rl *RateLimiter) ipLimiter(ip string) *rate.Limiter {
	if limiter, ok := rl.perIP.Load(ip); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := rl.perIP.LoadOrStore(ip, rate.NewLimiter(rl.ipRate, rl.ipBurst))
	return limiter.(*rate.Limiter)
}

func (rl *RateLimiter) Allow(ip string) bool {
	if rl.global != nil && !rl.global.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	if rl.ipRate > 0 && !rl.ipLimiter(ip).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			responseError(w, http.StatusTooManyRequests, "too many requests", "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartCleanup drops all per-IP buckets every interval until Stop.
func (rl *RateLimiter) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.perIP.Range(func(key, _ any) bool {
					rl.perIP.Delete(key)
					return true
				})
			}
		}
	}()
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
