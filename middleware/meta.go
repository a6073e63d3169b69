package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// ClientMeta attaches the client IP and User-Agent to the request
// context. With trustProxy set, the first X-Forwarded-For address wins
// over RemoteAddr.
func ClientMeta(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authcore.WithClientIP(r.Context(), clientIP(r, trustProxy))
			if ua := r.UserAgent(); ua != "" {
				ctx = authcore.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
