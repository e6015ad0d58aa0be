// Package relay forwards calls to a downstream peer on behalf of an
// upstream caller and decides how a downstream exception travels back.
//
//	caller ──► relay handler ──Forward──► downstream peer
//	   ▲              │                        │ raises X
//	   └── X or ◄─────┘◄──── RemoteError(X) ───┘
//	    unknown exception
//
// An exception received from downstream is foreign to the relay. Left as
// is, the relay's server converts it into an opaque unknown exception.
// Passing PassThrough to the one Forward call that should propagate it
// sends the typed exception, including slices the relay never understood,
// back unchanged. The option lives in that call only; no state survives it.
package relay

import (
	"context"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"slice-rpc/exception"
)

// Invoker issues one call to a downstream peer. *client.Client implements it.
type Invoker interface {
	Call(ctx context.Context, serviceMethod string, args, reply any) error
}

// Origin classifies an error seen by a relay.
type Origin int

const (
	// OriginNone means no error.
	OriginNone Origin = iota
	// OriginLocal is a typed exception raised by this process.
	OriginLocal
	// OriginForeign is a typed exception received from a peer.
	OriginForeign
	// OriginFailure is anything else: transport, protocol, cancellation.
	OriginFailure
)

func (o Origin) String() string {
	switch o {
	case OriginNone:
		return "none"
	case OriginLocal:
		return "local"
	case OriginForeign:
		return "foreign"
	}
	return "failure"
}

// Classify tells whether err is this process's own exception, one received
// from a peer, or a failure.
func Classify(err error) Origin {
	if err == nil {
		return OriginNone
	}
	var remote *exception.RemoteError
	if errors.As(err, &remote) {
		return OriginForeign
	}
	var local *exception.Exception
	if errors.As(err, &local) {
		return OriginLocal
	}
	return OriginFailure
}

type callOptions struct {
	passThrough bool
}

// CallOption configures a single Forward call.
type CallOption func(*callOptions)

// PassThrough makes a foreign exception returned by this Forward call
// propagate typed instead of being converted into an unknown exception.
func PassThrough() CallOption {
	return func(o *callOptions) { o.passThrough = true }
}

// Forwarder relays calls through an Invoker.
type Forwarder struct {
	invoker Invoker
	logger  *zap.Logger
}

// NewForwarder returns a Forwarder. A nil logger means zap.L().
func NewForwarder(invoker Invoker, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.L()
	}
	return &Forwarder{invoker: invoker, logger: logger.Named("relay")}
}

// Forward calls serviceMethod downstream.
//
// A typed exception from downstream comes back as *exception.RemoteError,
// marked for conversion unless PassThrough was given. Failures are wrapped
// with the method name; a cancelled ctx is reported as a failure carrying
// ctx.Err().
func (f *Forwarder) Forward(ctx context.Context, serviceMethod string, args, reply any, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	err := f.invoker.Call(ctx, serviceMethod, args, reply)
	if err == nil {
		return nil
	}

	var remote *exception.RemoteError
	if errors.As(err, &remote) {
		f.logger.Debug("downstream exception",
			zap.String("method", serviceMethod),
			zap.String("type", remote.TypeID()),
			zap.Bool("pass_through", o.passThrough))
		if o.passThrough {
			return remote.PassThrough()
		}
		return remote
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.Wrap(ctxErr, err.Error())
	}
	f.logger.Warn("forward failed", zap.String("method", serviceMethod), zap.Error(err))
	return errors.Wrapf(err, "relay %s", serviceMethod)
}
