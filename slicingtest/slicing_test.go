package slicingtest

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"slice-rpc/client"
	"slice-rpc/codec"
	"slice-rpc/exception"
	"slice-rpc/loadbalance"
	"slice-rpc/registry"
	"sync"
	"testing"
	"time"
)

var codecs = []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeMsgpack}

type env struct {
	client *client.Client
	reg    *registry.Static
}

func serve(t testing.TB, reg *registry.Static, service string, run func(net.Listener) error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go run(ln)
	require.Eventually(t, func() bool {
		_, err := reg.Discover(service)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "%s never registered", service)
}

// newEnv starts the test server and a client process (its Relay server and
// its TestIntf client) sharing one static registry.
func newEnv(t testing.TB, ct codec.CodecType) *env {
	t.Helper()
	reg := registry.NewStatic()

	svr, callback, err := NewServer(ServerConfig{Registry: reg, Codec: ct, ShutdownTimeout: time.Second})
	require.NoError(t, err)
	serve(t, reg, "TestIntf", func(ln net.Listener) error { return svr.ServeListener(ln, "", reg) })

	relaySvr, err := NewRelayServer(nil)
	require.NoError(t, err)
	serve(t, reg, DefaultRelayPeer, func(ln net.Listener) error { return relaySvr.ServeListener(ln, "", reg) })

	types, err := ClientTypes()
	require.NoError(t, err)
	c := client.NewClient(reg, &loadbalance.RoundRobinBalancer{}, types, byte(ct), 2)

	t.Cleanup(func() {
		c.Close()
		svr.Shutdown(time.Second)
		callback.Close()
		relaySvr.Shutdown(time.Second)
	})
	return &env{client: c, reg: reg}
}

func (e *env) call(op string, args any) error {
	if args == nil {
		args = &Empty{}
	}
	return e.client.Call(context.Background(), "TestIntf."+op, args, &Empty{})
}

// caught asserts err is a typed exception received from the server.
func caught(t *testing.T, err error) *exception.Exception {
	t.Helper()
	var remote *exception.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.True(t, remote.ConvertToUnhandled(), "received exceptions are foreign")
	require.NotNil(t, remote.Exception(), "got undecodable %s", remote.TypeID())
	return remote.Exception()
}

func TestSlicing(t *testing.T) {
	cases := []struct {
		op        string
		catchAs   string
		typeID    string
		fields    exception.Fields
		preserved int
	}{
		{"BaseAsBase", "::Test::Base", "::Test::Base",
			exception.Fields{"b": "Base.b"}, 0},
		{"UnknownDerivedAsBase", "::Test::Base", "::Test::Base",
			exception.Fields{"b": "UnknownDerived.b"}, 0},
		{"KnownDerivedAsBase", "::Test::Base", "::Test::KnownDerived",
			exception.Fields{"b": "KnownDerived.b", "kd": "KnownDerived.kd"}, 0},
		{"KnownDerivedAsKnownDerived", "::Test::KnownDerived", "::Test::KnownDerived",
			exception.Fields{"b": "KnownDerived.b", "kd": "KnownDerived.kd"}, 0},
		{"UnknownIntermediateAsBase", "::Test::Base", "::Test::Base",
			exception.Fields{"b": "UnknownIntermediate.b"}, 0},
		{"KnownIntermediateAsBase", "::Test::Base", "::Test::KnownIntermediate",
			exception.Fields{"b": "KnownIntermediate.b", "ki": "KnownIntermediate.ki"}, 0},
		{"KnownMostDerivedAsBase", "::Test::Base", "::Test::KnownMostDerived",
			exception.Fields{"b": "KnownMostDerived.b", "ki": "KnownMostDerived.ki", "kmd": "KnownMostDerived.kmd"}, 0},
		{"KnownIntermediateAsKnownIntermediate", "::Test::KnownIntermediate", "::Test::KnownIntermediate",
			exception.Fields{"b": "KnownIntermediate.b", "ki": "KnownIntermediate.ki"}, 0},
		{"KnownMostDerivedAsKnownIntermediate", "::Test::KnownIntermediate", "::Test::KnownMostDerived",
			exception.Fields{"b": "KnownMostDerived.b", "ki": "KnownMostDerived.ki", "kmd": "KnownMostDerived.kmd"}, 0},
		{"KnownMostDerivedAsKnownMostDerived", "::Test::KnownMostDerived", "::Test::KnownMostDerived",
			exception.Fields{"b": "KnownMostDerived.b", "ki": "KnownMostDerived.ki", "kmd": "KnownMostDerived.kmd"}, 0},
		{"UnknownMostDerived1AsBase", "::Test::Base", "::Test::KnownIntermediate",
			exception.Fields{"b": "UnknownMostDerived1.b", "ki": "UnknownMostDerived1.ki"}, 0},
		{"UnknownMostDerived1AsKnownIntermediate", "::Test::KnownIntermediate", "::Test::KnownIntermediate",
			exception.Fields{"b": "UnknownMostDerived1.b", "ki": "UnknownMostDerived1.ki"}, 0},
		{"UnknownMostDerived2AsBase", "::Test::Base", "::Test::Base",
			exception.Fields{"b": "UnknownMostDerived2.b"}, 0},
		{"KnownPreservedAsBase", "::Test::Base", "::Test::KnownPreservedDerived",
			exception.Fields{"b": "base", "kp": "preserved", "kpd": "derived"}, 0},
		{"KnownPreservedAsKnownPreserved", "::Test::KnownPreserved", "::Test::KnownPreservedDerived",
			exception.Fields{"b": "base", "kp": "preserved", "kpd": "derived"}, 0},
		{"ServerPrivateException", "::Test::Base", "::Test::Base",
			exception.Fields{"b": "ServerPrivate"}, 0},
		{"UnknownPreservedAsBase", "::Test::Base", "::Test::KnownPreservedDerived",
			exception.Fields{"b": "base", "kp": "preserved", "kpd": "derived"}, 2},
		{"UnknownPreservedAsKnownPreserved", "::Test::KnownPreserved", "::Test::KnownPreservedDerived",
			exception.Fields{"b": "base", "kp": "preserved", "kpd": "derived"}, 2},
	}

	for _, ct := range codecs {
		t.Run(ct.String(), func(t *testing.T) {
			e := newEnv(t, ct)
			for _, tc := range cases {
				t.Run(tc.op, func(t *testing.T) {
					exc := caught(t, e.call(tc.op, nil))
					assert.True(t, exc.InstanceOf(tc.catchAs))
					assert.Equal(t, tc.typeID, exc.TypeID())
					assert.Equal(t, tc.fields, exc.Fields())
					assert.Len(t, exc.Preserved(), tc.preserved)
				})
			}
		})
	}
}

func TestCompactFormatCannotBeSliced(t *testing.T) {
	e := newEnv(t, codec.CodecTypeBinary)

	err := e.call("UnknownMostDerived2AsBaseCompact", nil)
	var remote *exception.RemoteError
	require.ErrorAs(t, err, &remote)
	require.NotNil(t, remote.Unknown())
	assert.Nil(t, remote.Exception())
	assert.Equal(t, "::Test::UnknownMostDerived2", remote.TypeID())

	var unknown *exception.UnknownUserError
	assert.ErrorAs(t, err, &unknown)
}

func TestUnknownPreservedSlicesAreTheServers(t *testing.T) {
	e := newEnv(t, codec.CodecTypeMsgpack)

	exc := caught(t, e.call("UnknownPreservedAsBase", nil))
	preserved := exc.Preserved()
	require.Len(t, preserved, 2)
	assert.Equal(t, "::Test::SPreserved2", preserved[0].TypeID)
	assert.Equal(t, "::Test::SPreserved1", preserved[1].TypeID)
}

func TestRelayPassThrough(t *testing.T) {
	preserved2 := exception.Fields{
		"b": "base", "kp": "preserved", "kpd": "derived",
		"p1": "bc:pc", "p2": "bc:pc",
	}

	for _, ct := range codecs {
		t.Run(ct.String(), func(t *testing.T) {
			e := newEnv(t, ct)

			// The server only knows KnownPreservedDerived, but preserved the
			// client's slices and sends them back.
			for _, op := range []string{
				"RelayKnownPreservedAsBase",
				"RelayKnownPreservedAsKnownPreserved",
				"RelayUnknownPreservedAsBase",
				"RelayUnknownPreservedAsKnownPreserved",
			} {
				exc := caught(t, e.call(op, &RelayArgs{}))
				assert.Equal(t, "::Test::Preserved2", exc.TypeID(), op)
				assert.Equal(t, preserved2, exc.Fields(), op)
				assert.Empty(t, exc.Preserved(), op)
			}

			// ClientPrivateException's parent does not preserve: the server
			// holds a Base and that is what comes back.
			exc := caught(t, e.call("RelayClientPrivateException", &RelayArgs{}))
			assert.Equal(t, "::Test::Base", exc.TypeID())
			assert.Equal(t, exception.Fields{"b": "ClientPrivateException.b"}, exc.Fields())
		})
	}
}

func TestRelayConvertsWithoutPassThrough(t *testing.T) {
	e := newEnv(t, codec.CodecTypeBinary)

	err := e.call("RelayKnownPreservedAsBase", &RelayArgs{Convert: true})
	var unknown *exception.UnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "::Test::KnownPreservedDerived", unknown.Reason)

	// The override belongs to a single call.
	exc := caught(t, e.call("RelayKnownPreservedAsBase", &RelayArgs{}))
	assert.Equal(t, "::Test::Preserved2", exc.TypeID())

	err = e.call("RelayClientPrivateException", &RelayArgs{Convert: true})
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "::Test::Base", unknown.Reason)
}

func TestRelayToMissingPeerFails(t *testing.T) {
	e := newEnv(t, codec.CodecTypeJSON)

	err := e.call("RelayKnownPreservedAsBase", &RelayArgs{Peer: "Nobody"})
	var unknown *exception.UnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, unknown.Reason, "Nobody")
}

func TestConcurrentScenarios(t *testing.T) {
	e := newEnv(t, codec.CodecTypeMsgpack)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			var remote *exception.RemoteError
			if assert.ErrorAs(t, e.call("KnownMostDerivedAsBase", nil), &remote) {
				assert.Equal(t, "::Test::KnownMostDerived", remote.TypeID())
			}
		}()
		go func() {
			defer wg.Done()
			var remote *exception.RemoteError
			if assert.ErrorAs(t, e.call("RelayUnknownPreservedAsBase", &RelayArgs{}), &remote) {
				assert.Equal(t, "::Test::Preserved2", remote.TypeID())
			}
		}()
	}
	wg.Wait()
}

func TestShutdown(t *testing.T) {
	e := newEnv(t, codec.CodecTypeJSON)

	require.NoError(t, e.call("Shutdown", nil))
	require.Eventually(t, func() bool {
		_, err := e.reg.Discover("TestIntf")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
