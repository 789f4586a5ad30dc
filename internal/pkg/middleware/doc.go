// Package middleware holds reusable net/http middleware for the evaluation API.
//
// RateLimiter keeps one token bucket per client key (the client IP by default)
// and evicts buckets that have been idle longer than the configured TTL:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Stop()
//	r.Use(rl.Middleware)
package middleware
