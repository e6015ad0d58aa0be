package middleware

import (
	"context"
	"golang.org/x/time/rate"
	"slice-rpc/message"
)

// RateLimitMiddleware admits r requests per second with the given burst
// (token bucket) and fails the rest.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return message.Failure(req.ServiceMethod, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
