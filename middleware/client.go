package middleware

import (
	"net"
	"net/http"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
)

// ClientInfo attaches the caller's IP and User-Agent to the request
// context. With trustProxy set, the first X-Forwarded-For entry wins over
// RemoteAddr.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := goVerify.WithClientIP(r.Context(), ClientIP(r, trustProxy))
			if ua := r.UserAgent(); ua != "" {
				ctx = goVerify.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the request's source address without the port.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
