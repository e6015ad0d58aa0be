// Package client issues calls to services found through a registry.
//
// Every exception the server sends typed comes back from Call as an
// *exception.RemoteError: it is foreign to this process, and a server that
// forwards it without asking otherwise turns it into an unknown exception.
// errors.As still reaches the decoded *exception.Exception inside.
package client

import (
	"context"
	"github.com/go-faster/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"net"
	"slice-rpc/codec"
	"slice-rpc/exception"
	"slice-rpc/loadbalance"
	"slice-rpc/message"
	"slice-rpc/registry"
	"slice-rpc/slicing"
	"slice-rpc/transport"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ServerError is a failure reported by the server: dispatch, decoding,
// rate limiting, timeouts.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string { return "server error: " + e.Reason }

// MaxAddresses bounds how many per-address transport pools a client keeps.
// The least recently used pool is closed when a new address needs one.
var MaxAddresses = 64

// DialTimeout bounds connection setup when the call's ctx has no deadline.
var DialTimeout = 5 * time.Second

// pool holds up to size transports to one address. A nil entry is a slot
// that has not been dialed yet.
type pool struct {
	addr   string
	conns  chan *transport.ClientTransport
	closed atomic.Bool
}

func (p *pool) close() {
	p.closed.Store(true)
	for {
		select {
		case t := <-p.conns:
			if t != nil {
				t.Close()
			}
		default:
			return
		}
	}
}

type Client struct {
	registry  registry.Registry // find service instance from registry
	balancer  loadbalance.Balancer
	decoder   *slicing.Decoder
	codecType codec.CodecType
	poolSize  int
	logger    *zap.Logger

	mu    sync.Mutex
	pools *lru.Cache[string, *pool]
}

// NewClient returns a client that reconstructs exceptions against known
// and keeps up to poolSize multiplexed connections per server address.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, known *exception.Hierarchy, codecType byte, poolSize int) *Client {
	if poolSize < 1 {
		poolSize = 1
	}
	pools, err := lru.NewWithEvict[string, *pool](MaxAddresses, func(_ string, p *pool) { p.close() })
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &Client{
		registry:  reg,
		balancer:  bal,
		decoder:   slicing.NewDecoder(known),
		codecType: codec.CodecType(codecType),
		poolSize:  poolSize,
		logger:    zap.L().Named("client"),
		pools:     pools,
	}
}

func (c *Client) getPool(addr string) *pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools.Get(addr); ok {
		return p
	}
	p := &pool{addr: addr, conns: make(chan *transport.ClientTransport, c.poolSize)}
	for i := 0; i < c.poolSize; i++ {
		p.conns <- nil
	}
	c.pools.Add(addr, p)
	return p
}

// getTransport takes a transport from addr's pool, dialing when the slot
// is empty or its connection broke. On error the slot goes back empty.
func (c *Client) getTransport(ctx context.Context, p *pool) (*transport.ClientTransport, error) {
	var t *transport.ClientTransport
	select {
	case t = <-p.conns:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if t != nil && !t.Closed() {
		return t, nil
	}

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		p.conns <- nil
		return nil, errors.Wrapf(err, "dial %s", p.addr)
	}
	c.logger.Debug("connected", zap.String("addr", p.addr))
	return transport.NewClientTransport(conn, c.codecType), nil
}

func (c *Client) putTransport(p *pool, t *transport.ClientTransport) {
	if p.closed.Load() {
		t.Close()
		return
	}
	p.conns <- t
}

// Call invokes serviceMethod ("Service.Method") and decodes the reply into
// reply, which may be nil.
//
// Errors:
//   - *exception.RemoteError for a typed exception, wrapping either the
//     reconstructed *exception.Exception or an *exception.UnknownUserError
//     when none of its types is known here;
//   - *exception.UnknownError when the server sent an untyped exception;
//   - slicing.ErrCorruptWireData, *ServerError or a transport error otherwise.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	serviceName, _, ok := strings.Cut(serviceMethod, ".")
	if !ok {
		return errors.Errorf("invalid serviceMethod format: %v", serviceMethod)
	}

	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return errors.Wrapf(err, "discover %s", serviceName)
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return err
	}

	p := c.getPool(instance.Addr)
	t, err := c.getTransport(ctx, p)
	if err != nil {
		return err
	}
	defer c.putTransport(p, t)

	seq, ch, err := t.Send(serviceMethod, args)
	if err != nil {
		return errors.Wrapf(err, "send %s", serviceMethod)
	}

	var resp *message.RPCMessage
	select {
	case resp = <-ch:
	case <-ctx.Done():
		t.Cancel(seq)
		return errors.Wrapf(ctx.Err(), "call %s", serviceMethod)
	}
	return c.result(resp, reply)
}

func (c *Client) result(resp *message.RPCMessage, reply any) error {
	switch resp.Status {
	case message.StatusOK:
		if reply == nil || len(resp.Payload) == 0 {
			return nil
		}
		if err := codec.PayloadCodec(c.codecType).Decode(resp.Payload, reply); err != nil {
			return errors.Wrap(err, "decode reply")
		}
		return nil

	case message.StatusUserException:
		e, err := c.decoder.Decode(resp.Payload)
		if err == nil {
			return exception.NewRemoteError(e)
		}
		var unknown *exception.UnknownUserError
		if errors.As(err, &unknown) {
			return exception.NewRemoteError(unknown)
		}
		return errors.Wrap(err, "decode exception")

	case message.StatusUnknownException:
		return &exception.UnknownError{Reason: resp.Error}
	}
	return &ServerError{Reason: resp.Error}
}

// Close closes every idle pooled connection. Transports in use close when
// their call returns.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools.Purge()
	return nil
}
