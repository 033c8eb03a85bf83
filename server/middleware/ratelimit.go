package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-triggers/http/response"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

// luaGCRA implements Generic Cell Rate Algorithm. It returns -1 when the
// request is allowed, otherwise the seconds until the next slot.
var luaGCRA = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local period = tonumber(ARGV[2])
	local burst = tonumber(ARGV[3])

	local emission_interval = period / rate
	local now = redis.call("TIME")
	local now_ts = tonumber(now[1]) + (tonumber(now[2]) / 1000000)

	local tat = redis.call("GET", key)
	if not tat then
		tat = now_ts
	else
		tat = tonumber(tat)
	end
	tat = math.max(now_ts, tat)

	local new_tat = tat + emission_interval
	local allow_at = new_tat - (burst * emission_interval)

	if allow_at <= now_ts then
		redis.call("SET", key, new_tat, "EX", math.ceil(period * 2))
		return -1
	end

	return math.ceil(allow_at - now_ts)
`)

type RateLimitConfig struct {
	Rate   int           `envconfig:"RATE" yaml:"rate"` // requests per period; <= 0 disables
	Burst  int           `envconfig:"BURST" yaml:"burst"`
	Period time.Duration `envconfig:"PERIOD" yaml:"period"`
}

func (c RateLimitConfig) Enabled() bool { return c.Rate > 0 && c.Period > 0 }

// limiter is shared by the HTTP and gRPC front ends.
type limiter struct {
	rdb redis.Scripter
	cfg RateLimitConfig
}

// allow fails open: a Redis error lets the call through.
func (l limiter) allow(ctx context.Context, identity string) (bool, int) {
	res, err := luaGCRA.Run(ctx, l.rdb, []string{"rl:" + identity}, l.cfg.Rate, l.cfg.Period.Seconds(), l.cfg.Burst).Int()
	if err != nil || res < 0 {
		return true, 0
	}
	return false, res
}

// identity prefers the authenticated caller over the network address.
func identity(ctx context.Context, addr string) string {
	if id := contextx.GetAuthPrincipalID(ctx); id != "" {
		return "user:" + id
	}
	return "ip:" + addr
}

// RateLimitMiddleware applies GCRA per caller. Mount it after the auth
// middleware so callers are keyed by identity rather than by IP.
func RateLimitMiddleware(rdb redis.Scripter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	l := limiter{rdb: rdb, cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Rate))

			ok, retryAfter := l.allow(r.Context(), identity(r.Context(), getRealIP(r)))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				response.ErrorJSON(w, r, response.CodeResourceExhausted, "Rate limit exceeded.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getRealIP assumes the ingress strips untrusted X-Forwarded-For values.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
