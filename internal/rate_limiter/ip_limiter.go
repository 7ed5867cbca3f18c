// Package ratelimiter throttles HTTP clients by IP address.
package ratelimiter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/johndosdos/roomchat/internal/logging"
)

type CleanupOpts struct {
	TTL      time.Duration
	Interval time.Duration
}

type ipAddr string

// IPRateLimiter keeps one token bucket per client IP. Buckets idle for longer
// than TTL are dropped by a background sweep until Stop is called.
type IPRateLimiter struct {
	limiters map[ipAddr]*rate.Limiter
	lastSeen map[ipAddr]time.Time
	mu       sync.Mutex
	cancel   context.CancelFunc
	rate     rate.Limit
	burst    int
	now      func() time.Time
	CleanupOpts
}

func NewIPRateLimiter(requests int, window time.Duration, cleanupOpts CleanupOpts) *IPRateLimiter {
	if cleanupOpts.Interval <= 0 {
		cleanupOpts.Interval = time.Minute
	}
	if cleanupOpts.TTL <= 0 {
		cleanupOpts.TTL = 3 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl := &IPRateLimiter{
		limiters:    make(map[ipAddr]*rate.Limiter),
		lastSeen:    make(map[ipAddr]time.Time),
		cancel:      cancel,
		rate:        rate.Every(window / time.Duration(requests)),
		burst:       requests,
		now:         time.Now,
		CleanupOpts: cleanupOpts,
	}

	go rl.cleanup(ctx)

	return rl
}

// Stop ends the background sweep.
func (rl *IPRateLimiter) Stop() {
	rl.cancel()
}

func (rl *IPRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *IPRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, ls := range rl.lastSeen {
		if rl.now().Sub(ls) > rl.TTL {
			delete(rl.limiters, ip)
			delete(rl.lastSeen, ip)
		}
	}
}

// GetClientIP returns the last X-Forwarded-For hop, which is the one added by
// our own proxy, or the remote host when the header is absent.
func (rl *IPRateLimiter) GetClientIP(r *http.Request) ipAddr {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		return ipAddr(strings.TrimSpace(ips[len(ips)-1]))
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		logging.Ctx(r.Context()).Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("invalid remote address")
		return ipAddr(r.RemoteAddr)
	}

	return ipAddr(host)
}

func (rl *IPRateLimiter) Allow(ip ipAddr) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.limiters[ip]
	if !ok {
		bucket = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = bucket
	}

	rl.lastSeen[ip] = rl.now()
	return bucket.Allow()
}

// Middleware rejects requests over the client's budget with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.GetClientIP(r)

		if !rl.Allow(ip) {
			logging.Ctx(r.Context()).Warn().
				Str(logging.FieldClientIP, string(ip)).
				Msg("rate limit exceeded")

			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests. Try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *IPRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
