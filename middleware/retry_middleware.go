package middleware

import (
	"context"
	"go.uber.org/zap"
	"slice-rpc/message"
	"strings"
	"time"
)

// retryable reports whether resp is a transient failure. Exceptions, typed
// or not, are results of the call and are never retried.
func retryable(resp *message.RPCMessage) bool {
	if resp.Status != message.StatusFailure {
		return false
	}
	return strings.Contains(resp.Error, "timeout") ||
		strings.Contains(resp.Error, "timed out") ||
		strings.Contains(resp.Error, "connection refused")
}

// RetryMiddleware re-runs a transiently failed request up to maxRetries
// times with exponential backoff starting at baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			for i := 0; i < maxRetries && retryable(resp); i++ {
				zap.L().Debug("retry",
					zap.String("method", req.ServiceMethod),
					zap.Int("attempt", i+1),
					zap.String("error", resp.Error))
				select {
				case <-ctx.Done():
					return resp
				case <-time.After(baseDelay * time.Duration(1<<i)):
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
