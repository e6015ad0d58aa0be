package middleware

import (
	"context"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"slice-rpc/message"
	"slice-rpc/slicing"
	"time"
)

type requestIDKey struct{}

// RequestID returns the id LoggingMiddleware attached to ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// LoggingMiddleware logs one line per request with a fresh request id.
// User exceptions are logged at info with their most-derived type id;
// failures and unknown exceptions at warn.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("access")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			id := uuid.NewString()
			ctx = context.WithValue(ctx, requestIDKey{}, id)

			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("request_id", id),
				zap.String("method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("status", resp.Status),
			}
			switch {
			case resp.Failed():
				logger.Warn("request", append(fields, zap.String("error", resp.Error))...)
			case resp.Status == message.StatusUserException:
				if typeID, err := slicing.MostDerivedTypeID(resp.Payload); err == nil {
					fields = append(fields, zap.String("exception", typeID))
				}
				logger.Info("request", fields...)
			default:
				logger.Debug("request", fields...)
			}
			return resp
		}
	}
}
