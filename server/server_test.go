package server

import (
	"context"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"slice-rpc/codec"
	"slice-rpc/exception"
	"slice-rpc/message"
	"slice-rpc/registry"
	"slice-rpc/slicing"
	"slice-rpc/transport"
	"sync"
	"testing"
	"time"
)

const schema = `
types:
  - id: "::Test::Base"
    fields: [{name: b, type: string}]
  - id: "::Test::KnownDerived"
    parent: "::Test::Base"
    fields: [{name: kd, type: string}]
`

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Empty struct{}

type Thrower struct {
	types *exception.Hierarchy
}

func (s *Thrower) derived() *exception.Exception {
	return s.types.MustNew("::Test::KnownDerived", exception.Fields{"b": "KnownDerived.b", "kd": "KnownDerived.kd"})
}

func (s *Thrower) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (s *Thrower) Raise(ctx context.Context, _ *Empty, _ *Empty) error {
	if ctx == nil {
		return errors.New("no context")
	}
	return s.derived()
}

func (s *Thrower) RaiseCompact(_ *Empty, _ *Empty) error { return s.derived() }

func (s *Thrower) RaiseWrapped(_ *Empty, _ *Empty) error {
	return errors.Wrap(s.derived(), "while thinking")
}

func (s *Thrower) Plain(_ *Empty, _ *Empty) error { return errors.New("boom") }

func (s *Thrower) Foreign(_ *Empty, _ *Empty) error {
	return exception.NewRemoteError(s.derived())
}

func (s *Thrower) ForeignPassThrough(_ *Empty, _ *Empty) error {
	return exception.NewRemoteError(s.derived()).PassThrough()
}

func (s *Thrower) ForeignUndecoded(_ *Empty, _ *Empty) error {
	return exception.NewRemoteError(exception.NewUnknownUserError("::Test::Private", []byte("opaque"))).PassThrough()
}

func (s *Thrower) Panic(_ *Empty, _ *Empty) error { panic("kaboom") }

func types(t *testing.T) *exception.Hierarchy {
	t.Helper()
	h, err := exception.ParseSchema([]byte(schema))
	require.NoError(t, err)
	return h
}

func start(t *testing.T, reg registry.Registry) (*Server, *transport.ClientTransport) {
	t.Helper()
	svr := NewServer(WithFormat("Thrower.RaiseCompact", slicing.FormatCompact))
	require.NoError(t, svr.Register(&Thrower{types: types(t)}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "", reg) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		assert.NoError(t, <-served)
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	tr := transport.NewClientTransport(conn, codec.CodecTypeJSON)
	t.Cleanup(func() { tr.Close() })
	return svr, tr
}

func call(t *testing.T, tr *transport.ClientTransport, method string, args any) *message.RPCMessage {
	t.Helper()
	_, ch, err := tr.Send(method, args)
	require.NoError(t, err)
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no response", method)
		return nil
	}
}

func TestServer(t *testing.T) {
	_, tr := start(t, nil)

	resp := call(t, tr, "Thrower.Add", &Args{1, 2})
	require.Equal(t, message.StatusOK, resp.Status, resp.Error)
	var reply Reply
	require.NoError(t, codec.PayloadCodec(codec.CodecTypeJSON).Decode(resp.Payload, &reply))
	assert.Equal(t, 3, reply.Result)
}

func TestUserExceptionIsSliced(t *testing.T) {
	_, tr := start(t, nil)
	h := types(t)

	for _, method := range []string{"Thrower.Raise", "Thrower.RaiseWrapped", "Thrower.ForeignPassThrough"} {
		resp := call(t, tr, method, &Empty{})
		require.Equal(t, message.StatusUserException, resp.Status, method)

		e, err := slicing.NewDecoder(h).Decode(resp.Payload)
		require.NoError(t, err, method)
		assert.Equal(t, "::Test::KnownDerived", e.TypeID(), method)
		assert.Equal(t, "KnownDerived.kd", e.String("kd"), method)

		base, err := h.Subset()
		require.NoError(t, err)
		sliced, err := slicing.NewDecoder(base).Decode(resp.Payload)
		require.NoError(t, err, method)
		assert.Equal(t, "::Test::Base", sliced.TypeID(), method)
	}
}

func TestCompactFormatPerMethod(t *testing.T) {
	_, tr := start(t, nil)
	h := types(t)
	base, err := h.Subset()
	require.NoError(t, err)

	resp := call(t, tr, "Thrower.RaiseCompact", &Empty{})
	require.Equal(t, message.StatusUserException, resp.Status)

	_, err = slicing.NewDecoder(base).Decode(resp.Payload)
	var unknown *exception.UnknownUserError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "::Test::KnownDerived", unknown.TypeID)

	e, err := slicing.NewDecoder(h).Decode(resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, "KnownDerived.b", e.String("b"))
}

func TestUntypedErrorsBecomeUnknownExceptions(t *testing.T) {
	_, tr := start(t, nil)

	resp := call(t, tr, "Thrower.Plain", &Empty{})
	assert.Equal(t, message.StatusUnknownException, resp.Status)
	assert.Equal(t, "boom", resp.Error)

	resp = call(t, tr, "Thrower.Foreign", &Empty{})
	assert.Equal(t, message.StatusUnknownException, resp.Status)
	assert.Equal(t, "::Test::KnownDerived", resp.Error)
	assert.Empty(t, resp.Payload)

	resp = call(t, tr, "Thrower.Panic", &Empty{})
	assert.Equal(t, message.StatusUnknownException, resp.Status)
	assert.Contains(t, resp.Error, "kaboom")
}

func TestUndecodedExceptionIsForwardedVerbatim(t *testing.T) {
	_, tr := start(t, nil)

	resp := call(t, tr, "Thrower.ForeignUndecoded", &Empty{})
	assert.Equal(t, message.StatusUserException, resp.Status)
	assert.Equal(t, []byte("opaque"), resp.Payload)
}

func TestDispatchFailures(t *testing.T) {
	_, tr := start(t, nil)

	for method, want := range map[string]string{
		"Thrower":         "invalid service method format",
		"Nope.Add":        "unknown service Nope",
		"Thrower.Missing": "unknown method Thrower.Missing",
	} {
		resp := call(t, tr, method, &Empty{})
		assert.Equal(t, message.StatusFailure, resp.Status, method)
		assert.Equal(t, want, resp.Error, method)
	}

	resp := call(t, tr, "Thrower.Add", "not an object")
	assert.Equal(t, message.StatusFailure, resp.Status)
	assert.Contains(t, resp.Error, "decode args")
}

func TestRegisterRejectsBadReceivers(t *testing.T) {
	svr := NewServer()
	assert.Error(t, svr.Register(Thrower{}))
	assert.Error(t, svr.Register(&struct{}{}))
	require.NoError(t, svr.Register(&Thrower{}))
	assert.ErrorContains(t, svr.Register(&Thrower{}), "already defined")
	assert.NoError(t, svr.RegisterName("Other", &Thrower{}))
}

func TestShutdownDeregisters(t *testing.T) {
	reg := registry.NewStatic()
	svr := NewServer()
	require.NoError(t, svr.Register(&Thrower{types: types(t)}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "", reg) }()

	require.Eventually(t, func() bool {
		_, err := reg.Discover("Thrower")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	instances, _ := reg.Discover("Thrower")
	assert.Equal(t, ln.Addr().String(), instances[0].Addr)

	require.NoError(t, svr.Shutdown(time.Second))
	assert.NoError(t, <-served)
	_, err = reg.Discover("Thrower")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestShutdownUnderLoad(t *testing.T) {
	svr := NewServer()
	require.NoError(t, svr.Register(&Thrower{types: types(t)}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "", nil) }()

	var transports []*transport.ClientTransport
	for i := 0; i < 4; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		tr := transport.NewClientTransport(conn, codec.CodecTypeJSON)
		t.Cleanup(func() { tr.Close() })
		transports = append(transports, tr)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, tr := range transports {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					_, ch, err := tr.Send("Thrower.Add", &Args{1, 2})
					if err != nil {
						return
					}
					select {
					case resp := <-ch:
						// Every admitted request is answered; late ones are refused.
						assert.Contains(t, []message.Status{message.StatusOK, message.StatusFailure}, resp.Status)
					case <-time.After(2 * time.Second):
						t.Error("request neither answered nor failed")
						return
					}
				}
			}()
		}
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, svr.Shutdown(2*time.Second))
	assert.NoError(t, <-served)
	close(stop)
	wg.Wait()
}
