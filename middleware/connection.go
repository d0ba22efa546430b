package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goAccounts "github.com/MrEthical07/goAccounts"
)

// ConnectionInfo stores the request's IP and user agent in its context.
//
// The IP is the first X-Forwarded-For entry when present, so only mount this
// behind a proxy that overwrites that header.
func ConnectionInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withRequestInfo(r)))
	})
}

// RequestInfo returns the connection info of r.
func RequestInfo(r *http.Request) goAccounts.ConnectionInfo {
	return goAccounts.ConnectionInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// withRequestInfo keeps info set by an outer ConnectionInfo.
func withRequestInfo(r *http.Request) context.Context {
	ctx := r.Context()
	if info := goAccounts.ConnectionInfoFromContext(ctx); info != (goAccounts.ConnectionInfo{}) {
		return ctx
	}
	return goAccounts.WithConnectionInfo(ctx, RequestInfo(r))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
