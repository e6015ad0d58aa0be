package middleware

import (
	"context"
	"github.com/rcrowley/go-metrics"
	"slice-rpc/message"
	"time"
)

// MetricsMiddleware records a request timer and one meter per response
// status ("rpc.requests", "rpc.status.user_exception", ...) in r.
// A nil r means metrics.DefaultRegistry.
func MetricsMiddleware(r metrics.Registry) Middleware {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	timer := metrics.GetOrRegisterTimer("rpc.requests", r)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			timer.UpdateSince(start)
			metrics.GetOrRegisterMeter("rpc.status."+resp.Status.String(), r).Mark(1)
			return resp
		}
	}
}
