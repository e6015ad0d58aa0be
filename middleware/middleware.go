// Package middleware wraps the server's dispatch handler.
//
// Chain(A, B, C)(handler) runs as A(B(C(handler))):
// A.before → B.before → C.before → handler → C.after → B.after → A.after.
package middleware

import (
	"context"
	"slice-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one; the first runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
