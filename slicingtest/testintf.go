package slicingtest

import (
	"context"
	"github.com/go-faster/errors"
	"slice-rpc/exception"
	"slice-rpc/relay"
	"slice-rpc/server"
	"slice-rpc/slicing"
)

// Empty is the argument and reply of every operation without data.
type Empty struct{}

// RelayArgs names the service hosting the client's Relay. With Convert set
// the server lets the relayed exception become an unknown exception instead
// of passing it through.
type RelayArgs struct {
	Peer    string `json:"peer,omitempty" msgpack:"peer,omitempty"`
	Convert bool   `json:"convert,omitempty" msgpack:"convert,omitempty"`
}

// DefaultRelayPeer is the service name clients register their Relay under.
const DefaultRelayPeer = "Relay"

// TestIntf raises one exception per operation.
type TestIntf struct {
	types    *exception.Hierarchy
	fwd      *relay.Forwarder
	shutdown func()
}

// NewTestIntf returns the service. fwd may be nil when relay operations are
// not needed; shutdown runs asynchronously from the Shutdown operation.
func NewTestIntf(types *exception.Hierarchy, fwd *relay.Forwarder, shutdown func()) *TestIntf {
	return &TestIntf{types: types, fwd: fwd, shutdown: shutdown}
}

// ServerOptions are the per-operation settings TestIntf relies on.
func ServerOptions() []server.Option {
	return []server.Option{
		server.WithFormat("TestIntf.UnknownMostDerived2AsBaseCompact", slicing.FormatCompact),
	}
}

func (t *TestIntf) raise(id string, fields exception.Fields) error {
	e, err := t.types.New(id, fields)
	if err != nil {
		return err
	}
	return e
}

func (t *TestIntf) Shutdown(_ *Empty, _ *Empty) error {
	if t.shutdown != nil {
		go t.shutdown()
	}
	return nil
}

func (t *TestIntf) BaseAsBase(_ *Empty, _ *Empty) error {
	return t.raise("::Test::Base", exception.Fields{"b": "Base.b"})
}

func (t *TestIntf) UnknownDerivedAsBase(_ *Empty, _ *Empty) error {
	return t.raise("::Test::UnknownDerived", exception.Fields{"b": "UnknownDerived.b", "ud": "UnknownDerived.ud"})
}

func (t *TestIntf) knownDerived() error {
	return t.raise("::Test::KnownDerived", exception.Fields{"b": "KnownDerived.b", "kd": "KnownDerived.kd"})
}

func (t *TestIntf) KnownDerivedAsBase(_ *Empty, _ *Empty) error         { return t.knownDerived() }
func (t *TestIntf) KnownDerivedAsKnownDerived(_ *Empty, _ *Empty) error { return t.knownDerived() }

func (t *TestIntf) UnknownIntermediateAsBase(_ *Empty, _ *Empty) error {
	return t.raise("::Test::UnknownIntermediate", exception.Fields{"b": "UnknownIntermediate.b", "ui": "UnknownIntermediate.ui"})
}

func (t *TestIntf) knownIntermediate() error {
	return t.raise("::Test::KnownIntermediate", exception.Fields{"b": "KnownIntermediate.b", "ki": "KnownIntermediate.ki"})
}

func (t *TestIntf) KnownIntermediateAsBase(_ *Empty, _ *Empty) error { return t.knownIntermediate() }
func (t *TestIntf) KnownIntermediateAsKnownIntermediate(_ *Empty, _ *Empty) error {
	return t.knownIntermediate()
}

func (t *TestIntf) knownMostDerived() error {
	return t.raise("::Test::KnownMostDerived", exception.Fields{
		"b":   "KnownMostDerived.b",
		"ki":  "KnownMostDerived.ki",
		"kmd": "KnownMostDerived.kmd",
	})
}

func (t *TestIntf) KnownMostDerivedAsBase(_ *Empty, _ *Empty) error { return t.knownMostDerived() }
func (t *TestIntf) KnownMostDerivedAsKnownIntermediate(_ *Empty, _ *Empty) error {
	return t.knownMostDerived()
}
func (t *TestIntf) KnownMostDerivedAsKnownMostDerived(_ *Empty, _ *Empty) error {
	return t.knownMostDerived()
}

func (t *TestIntf) unknownMostDerived1() error {
	return t.raise("::Test::UnknownMostDerived1", exception.Fields{
		"b":    "UnknownMostDerived1.b",
		"ki":   "UnknownMostDerived1.ki",
		"umd1": "UnknownMostDerived1.umd1",
	})
}

func (t *TestIntf) UnknownMostDerived1AsBase(_ *Empty, _ *Empty) error { return t.unknownMostDerived1() }
func (t *TestIntf) UnknownMostDerived1AsKnownIntermediate(_ *Empty, _ *Empty) error {
	return t.unknownMostDerived1()
}

func (t *TestIntf) unknownMostDerived2() error {
	return t.raise("::Test::UnknownMostDerived2", exception.Fields{
		"b":    "UnknownMostDerived2.b",
		"ui":   "UnknownMostDerived2.ui",
		"umd2": "UnknownMostDerived2.umd2",
	})
}

func (t *TestIntf) UnknownMostDerived2AsBase(_ *Empty, _ *Empty) error { return t.unknownMostDerived2() }

// UnknownMostDerived2AsBaseCompact is sent in the compact format (see ServerOptions).
func (t *TestIntf) UnknownMostDerived2AsBaseCompact(_ *Empty, _ *Empty) error {
	return t.unknownMostDerived2()
}

func (t *TestIntf) knownPreservedDerived() error {
	return t.raise("::Test::KnownPreservedDerived", exception.Fields{"b": "base", "kp": "preserved", "kpd": "derived"})
}

func (t *TestIntf) KnownPreservedAsBase(_ *Empty, _ *Empty) error { return t.knownPreservedDerived() }
func (t *TestIntf) KnownPreservedAsKnownPreserved(_ *Empty, _ *Empty) error {
	return t.knownPreservedDerived()
}

func (t *TestIntf) ServerPrivateException(_ *Empty, _ *Empty) error {
	return t.raise("::Test::ServerPrivateException", exception.Fields{"b": "ServerPrivate"})
}

// sPreserved2 shares one value between p1 and p2, as the members it
// stands for referenced a single object.
func (t *TestIntf) sPreserved2() error {
	const shared = "bc:spc"
	return t.raise("::Test::SPreserved2", exception.Fields{
		"b":   "base",
		"kp":  "preserved",
		"kpd": "derived",
		"p1":  shared,
		"p2":  shared,
	})
}

func (t *TestIntf) UnknownPreservedAsBase(_ *Empty, _ *Empty) error { return t.sPreserved2() }
func (t *TestIntf) UnknownPreservedAsKnownPreserved(_ *Empty, _ *Empty) error {
	return t.sPreserved2()
}

// forward calls op on the client's Relay, which always raises. The relayed
// exception is passed through unless args.Convert is set.
func (t *TestIntf) forward(ctx context.Context, args *RelayArgs, op string) error {
	if t.fwd == nil {
		return errors.New("relay operations are not configured")
	}
	peer := args.Peer
	if peer == "" {
		peer = DefaultRelayPeer
	}
	var opts []relay.CallOption
	if !args.Convert {
		opts = append(opts, relay.PassThrough())
	}
	err := t.fwd.Forward(ctx, peer+"."+op, &Empty{}, &Empty{}, opts...)
	if err == nil {
		return errors.Errorf("%s.%s returned without raising", peer, op)
	}
	return err
}

func (t *TestIntf) RelayKnownPreservedAsBase(ctx context.Context, args *RelayArgs, _ *Empty) error {
	return t.forward(ctx, args, "KnownPreservedAsBase")
}

func (t *TestIntf) RelayKnownPreservedAsKnownPreserved(ctx context.Context, args *RelayArgs, _ *Empty) error {
	return t.forward(ctx, args, "KnownPreservedAsKnownPreserved")
}

func (t *TestIntf) RelayUnknownPreservedAsBase(ctx context.Context, args *RelayArgs, _ *Empty) error {
	return t.forward(ctx, args, "UnknownPreservedAsBase")
}

func (t *TestIntf) RelayUnknownPreservedAsKnownPreserved(ctx context.Context, args *RelayArgs, _ *Empty) error {
	return t.forward(ctx, args, "UnknownPreservedAsKnownPreserved")
}

func (t *TestIntf) RelayClientPrivateException(ctx context.Context, args *RelayArgs, _ *Empty) error {
	return t.forward(ctx, args, "ClientPrivateException")
}
