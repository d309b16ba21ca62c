// Package gateway guards the internal API: service authentication and
// per-client rate limiting.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces the limiter's Redis keys.
const KeyPrefix = "threatpulse:ratelimit"

// fallbackPerMinute applies when no tier, not even the default one, is
// configured.
const fallbackPerMinute = 100

// Tier names.
const (
	TierDefault  = "default"
	TierInternal = "internal"
)

// incrWindow counts a hit and returns {count, remaining window in ms}. The
// window starts with the first hit.
var incrWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {current, redis.call('PTTL', KEYS[1])}
`)

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	Tiers map[string]TierLimits `yaml:"tiers"`
	// Endpoints is keyed by "METHOD:/path".
	Endpoints      map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders bool                      `yaml:"include_headers"`
}

// TierLimits is the per-minute budget of one caller class.
type TierLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// EndpointLimits tightens the budget on an expensive route. CostMultiplier
// divides whatever budget applies.
type EndpointLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	CostMultiplier    int `yaml:"cost_multiplier"`
}

// DefaultTiers returns the limits for anonymous-looking callers and for
// callers holding service credentials.
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		TierDefault:  {RequestsPerMinute: 30},
		TierInternal: {RequestsPerMinute: 600},
	}
}

// DefaultEndpointLimits covers the analytics endpoints. Each call queries
// every source backend.
func DefaultEndpointLimits() map[string]EndpointLimits {
	analytics := EndpointLimits{RequestsPerMinute: 300, CostMultiplier: 2}
	return map[string]EndpointLimits{
		"POST:/api/threats/events/summary": analytics,
		"POST:/api/threats/events/filter":  analytics,
	}
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Tier       string
	Reason     string
}

// RateLimiter enforces a per-minute fixed window per tier, client and
// endpoint. Without Redis, or when Redis fails, requests are let through.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a limiter. A nil client disables enforcement.
func NewRateLimiter(client *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultEndpointLimits()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{redis: client, logger: logger, config: cfg}
}

// limitFor returns the per-minute budget of tier on method and path. Unknown
// tiers use the default tier.
func (rl *RateLimiter) limitFor(tier, method, path string) int {
	t, ok := rl.config.Tiers[tier]
	if !ok {
		t, ok = rl.config.Tiers[TierDefault]
	}
	limit := t.RequestsPerMinute
	if !ok || limit <= 0 {
		limit = fallbackPerMinute
	}

	ep, ok := rl.config.Endpoints[method+":"+path]
	if !ok {
		return limit
	}
	if ep.RequestsPerMinute > 0 && ep.RequestsPerMinute < limit {
		limit = ep.RequestsPerMinute
	}
	if ep.CostMultiplier > 1 {
		limit /= ep.CostMultiplier
	}
	return max(limit, 1)
}

// Check counts one request from clientID against its window.
func (rl *RateLimiter) Check(ctx context.Context, tier, clientID, method, path string) Decision {
	d := Decision{Allowed: true, Tier: tier, Limit: rl.limitFor(tier, method, path)}
	if rl.redis == nil {
		d.Remaining = d.Limit
		return d
	}

	key := strings.Join([]string{KeyPrefix, tier, clientID, path, "minute"}, ":")
	res, err := incrWindow.Run(ctx, rl.redis, []string{key}, time.Minute.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
		d.Remaining = d.Limit
		return d
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	d.Remaining = max(d.Limit-count, 0)
	d.ResetAt = time.Now().Add(ttl)
	if count > d.Limit {
		d.Allowed = false
		d.RetryAfter = ttl
		d.Reason = "Rate limit exceeded"
	}
	return d
}

// Middleware returns an HTTP middleware for rate limiting. A nil getTier
// uses TierFor; a nil getClientID uses the authenticated client id and then
// the caller's address.
func (rl *RateLimiter) Middleware(getTier func(r *http.Request) string, getClientID func(r *http.Request) string) func(http.Handler) http.Handler {
	if getTier == nil {
		getTier = TierFor
	}
	if getClientID == nil {
		getClientID = func(r *http.Request) string { return ClientFromContext(r.Context()) }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientID(r)
			if clientID == "" {
				clientID = getClientIP(r)
			}

			d := rl.Check(r.Context(), getTier(r), clientID, r.Method, r.URL.Path)

			if rl.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				if !d.ResetAt.IsZero() {
					w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
				}
			}

			if !d.Allowed {
				retry := int(d.RetryAfter.Round(time.Second).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":       "rate_limit_exceeded",
					"message":     d.Reason,
					"retry_after": retry,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TierFor puts authenticated service callers on the internal tier.
func TierFor(r *http.Request) string {
	if ClientFromContext(r.Context()) != "" {
		return TierInternal
	}
	return TierDefault
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
