package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentrelay/relay/internal/metrics"
)

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Requests  int           // max requests per window
	Window    time.Duration // window length
	Whitelist []string      // IPs or CIDRs exempt from rate limiting
}

// RateLimiter implements fixed-window rate limiting keyed by claimed agent
// identity, falling back to client IP. State is process-local and resets on
// restart, which is acceptable for a single-instance deployment.
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter

	requests     int
	window       time.Duration
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

type windowCounter struct {
	bucket int64
	count  int
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}

	rl := &RateLimiter{
		counters:     make(map[string]*windowCounter),
		requests:     cfg.Requests,
		window:       cfg.Window,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// Allow checks and increments the counter for key. Returns whether the
// request is allowed, the remaining budget, and when the window resets.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	now := time.Now()
	bucket := now.UnixNano() / int64(rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	wc, ok := rl.counters[key]
	if !ok {
		wc = &windowCounter{}
		rl.counters[key] = wc
	}
	if wc.bucket != bucket {
		wc.bucket = bucket
		wc.count = 0
		rl.pruneLocked(bucket)
	}

	wc.count++
	remaining := rl.requests - wc.count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := time.Unix(0, (bucket+1)*int64(rl.window))
	return wc.count <= rl.requests, remaining, resetAt
}

// pruneLocked drops counters from past windows so the map stays bounded by
// the number of distinct callers per window. Called with the lock held.
func (rl *RateLimiter) pruneLocked(current int64) {
	if len(rl.counters) < 1024 {
		return
	}
	for key, wc := range rl.counters {
		if wc.bucket != current {
			delete(rl.counters, key)
		}
	}
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		key := limitKey(r, ip)
		allowed, remaining, resetAt := rl.Allow(key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()

			rl.logger.Warn().
				Str("ip", ip).
				Str("agent", r.Header.Get(HeaderAgent)).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limitKey keys the counter by claimed agent identity, falling back to the
// client IP for unauthenticated traffic.
func limitKey(r *http.Request, ip string) string {
	if agent := r.Header.Get(HeaderAgent); agent != "" {
		return "agent:" + agent
	}
	return "ip:" + ip
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
