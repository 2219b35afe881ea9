package middleware

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openclaw/realtime-server-go/internal/audit"
	apperrors "github.com/openclaw/realtime-server-go/internal/errors"
	"github.com/openclaw/realtime-server-go/internal/httputil"
	"github.com/openclaw/realtime-server-go/internal/metrics"
	"github.com/openclaw/realtime-server-go/internal/ratelimit"
)

type IPRateLimitMiddleware struct {
	limiter ratelimit.Limiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter ratelimit.Limiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ip:%s:%s", m.prefix, remoteHost(r.RemoteAddr))
		allowed, resetAt := m.limiter.Allow(r.Context(), key, m.limit, m.window)

		if !allowed {
			metrics.RateLimitHits.WithLabelValues(m.prefix).Inc()
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"scope": m.prefix},
			})

			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// remoteHost drops the port from a socket address.
func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
