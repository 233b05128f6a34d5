package httpmw

import (
	"context"
	"net/http"
	"strings"
)

// LoopbackKey is the client key used when a request carries neither
// X-Forwarded-For nor X-Real-IP. Every such request shares one bucket.
const LoopbackKey = "127.0.0.1"

type clientIPKey struct{}

// ClientKey derives the identity used for per-client accounting.
// The first X-Forwarded-For entry wins, then X-Real-IP, then LoopbackKey.
// Values are not parsed as IP addresses; whatever the proxy forwarded is the key.
func ClientKey(h http.Header) string {
	if xf := h.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(h.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return LoopbackKey
}

// ClientIP stores the derived client key in the request context so the
// logger, tracer and limiters all see the same identity.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientIP(r.Context(), ClientKey(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the key stored by ClientIP, or "" if none.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
