// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport runs many concurrent calls over a single TCP connection.
// Each request gets a sequence ID; a background goroutine (recvLoop) reads
// responses and routes them to the waiting caller by that ID.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan → goroutine-2 wakes up
//
// When the connection breaks every pending caller receives a StatusFailure
// message, never a user exception.
package transport

import (
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"net"
	"slice-rpc/codec"
	"slice-rpc/message"
	"slice-rpc/protocol"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Send once the transport is closed or its connection broke.
var ErrClosed = errors.New("transport closed")

// HeartbeatInterval is how often a transport probes its connection.
var HeartbeatInterval = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32     // guarded by sending
	pending sync.Map   // map[uint32]chan *message.RPCMessage
	sending sync.Mutex // one frame at a time on conn
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// NewClientTransport wraps conn and starts recvLoop and heartbeatLoop.
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:   conn,
		codec:  codecType,
		done:   make(chan struct{}),
		logger: zap.L().Named("transport").With(zap.String("remote", conn.RemoteAddr().String())),
	}
	go t.recvLoop()
	go t.heartbeatLoop(HeartbeatInterval)
	return t
}

// Send serializes args and writes one request frame.
// It returns the sequence number and a channel that receives exactly one response.
func (t *ClientTransport) Send(serviceMethod string, args any) (uint32, <-chan *message.RPCMessage, error) {
	if t.closed.Load() {
		return 0, nil, ErrClosed
	}

	payload, err := codec.PayloadCodec(t.codec).Encode(args)
	if err != nil {
		return 0, nil, errors.Wrap(err, "encode args")
	}
	body, err := codec.GetCodec(t.codec).Encode(&message.RPCMessage{
		ServiceMethod: serviceMethod,
		Payload:       payload,
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "encode request")
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	// Register before writing so recvLoop can never see the response first.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)
	if t.closed.Load() {
		t.pending.Delete(seq)
		return 0, nil, ErrClosed
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Cancel forgets a pending request. A response that arrives later is dropped.
func (t *ClientTransport) Cancel(seq uint32) {
	t.pending.Delete(seq)
}

// Closed reports whether the transport can no longer send.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Close fails every pending call, stops the heartbeat and closes the connection.
func (t *ClientTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.closeAllPending(ErrClosed)
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// recvLoop is the single reader of conn; frame boundaries need sequential reads.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			if !t.closed.Load() {
				t.logger.Debug("connection lost", zap.Error(err))
			}
			t.closeAllPending(err)
			t.once.Do(func() {
				close(t.done)
				t.conn.Close()
			})
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = message.Failure("", "decode response: "+err.Error())
		}

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *message.RPCMessage) <- resp
		}
	}
}

// closeAllPending sends a failure to every pending caller so none blocks forever.
func (t *ClientTransport) closeAllPending(err error) {
	t.closed.Store(true)
	t.pending.Range(func(key, _ any) bool {
		if channel, ok := t.pending.LoadAndDelete(key); ok {
			channel.(chan *message.RPCMessage) <- message.Failure("", err.Error())
		}
		return true
	})
}

// heartbeatLoop writes a bodiless heartbeat frame every interval until the
// transport closes or a write fails.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.logger.Debug("heartbeat failed", zap.Error(err))
			return
		}
	}
}
