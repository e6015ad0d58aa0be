package middleware

import (
	"context"
	"slice-rpc/message"
	"time"
)

// TimeOutMiddleware fails a request whose handler outlives timeout. The
// handler keeps running with a cancelled ctx; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Failure(req.ServiceMethod, "request timed out")
			}
		}
	}
}
