// Package shield provides the HTTP middleware stack of the read API:
// security headers, request tracing, HEAD handling and per-IP rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(ctx, shield.DefaultRateLimit()) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the standard middleware stack for a JSON read API, in
// order: HeadToGet, SecurityHeaders, TraceID, RateLimiter. A zero limit
// disables rate limiting. The limiter's bucket GC stops when ctx is done.
func APIStack(ctx context.Context, limit RateLimitConfig, exclude ...string) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID,
	}
	if limit.MaxRequests > 0 {
		rl := NewRateLimiter(limit, exclude...)
		rl.StartGC(ctx.Done())
		stack = append(stack, rl.Middleware)
	}
	return stack
}
