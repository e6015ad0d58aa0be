// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
//
// A handler's error becomes the response status:
//
//	*exception.Exception                  → StatusUserException, sliced by the method's format
//	*exception.RemoteError, pass-through  → StatusUserException, re-sent typed
//	*exception.RemoteError, converting    → StatusUnknownException (type id only)
//	anything else                         → StatusUnknownException (error text)
package server

import (
	"context"
	"github.com/go-faster/errors"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"net"
	"reflect"
	"slice-rpc/codec"
	"slice-rpc/exception"
	"slice-rpc/message"
	"slice-rpc/middleware"
	"slice-rpc/protocol"
	"slice-rpc/registry"
	"slice-rpc/slicing"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type codecKey struct{}

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	serviceMap    map[string]*service
	formats       map[string]slicing.Format // "Service.Method" → exception format
	mu            sync.Mutex                // guards listener, registry, advertiseAddr and wg.Add against Shutdown
	listener      net.Listener
	conns         sync.Map       // net.Conn → struct{}
	wg            sync.WaitGroup // in-flight requests
	shutdown      atomic.Bool    // set under mu; no request is admitted after it
	middlewares   []middleware.Middleware
	handler       middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	registry      registry.Registry
	advertiseAddr string // routable address registered in the registry, e.g. "127.0.0.1:8080"
	ttl           int64
	logger        *zap.Logger
	ctx           context.Context // cancelled when Shutdown gives up waiting
	cancel        context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithFormat makes serviceMethod ("Service.Method") encode the exceptions
// it raises in format. Methods default to FormatSliced.
func WithFormat(serviceMethod string, format slicing.Format) Option {
	return func(s *Server) { s.formats[serviceMethod] = format }
}

// WithRegistryTTL sets the lease TTL, in seconds, used when registering services.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// NewServer creates a new RPC server with an empty service map.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		formats:    make(map[string]slicing.Format),
		ttl:        10,
		logger:     zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register registers a service receiver under its struct type name.
func (svr *Server) Register(rcvr any) error {
	return svr.RegisterName("", rcvr)
}

// RegisterName registers rcvr under name, or its type name when name is empty.
// Call it before Serve.
func (svr *Server) RegisterName(name string, rcvr any) error {
	svc, err := NewService(rcvr, name)
	if err != nil {
		return err
	}
	if _, dup := svr.serviceMap[svc.name]; dup {
		return errors.Errorf("rpc: service already defined: %s", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. See ServeListener.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", address)
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener accepts connections on listener until Shutdown, which makes
// it return nil.
//
// When reg is non-nil every registered service is published under
// advertiseAddr, which defaults to the listener's address. The listen
// address (":8080") is usually not routable, hence the separate value.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	// Built once at startup, not per request.
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	svr.mu.Lock()
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.mu.Unlock()
	if reg != nil {
		for serviceName := range svr.serviceMap {
			if err := reg.Register(serviceName, registry.ServiceInstance{Addr: advertiseAddr}, svr.ttl); err != nil {
				listener.Close()
				return errors.Wrapf(err, "register %s", serviceName)
			}
		}
	}
	svr.logger.Info("serving", zap.String("addr", listener.Addr().String()), zap.String("advertise", advertiseAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener's address once serving has started.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn reads frames sequentially and dispatches each request to its own goroutine.
// Responses on one connection share writeMu so frames never interleave.
func (svr *Server) handleConn(conn net.Conn) {
	svr.conns.Store(conn, struct{}{})
	defer func() {
		svr.conns.Delete(conn)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !svr.shutdown.Load() {
				svr.logger.Debug("connection closed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}
		if !svr.admit() {
			svr.reply(conn, writeMu, header, message.Failure("", "server is shutting down"))
			continue
		}
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// admit counts a request as in flight unless Shutdown has started waiting.
func (svr *Server) admit() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// handleRequest decodes one request, runs the handler chain and writes the response.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	ct := codec.CodecType(header.CodecType)
	c := codec.GetCodec(ct)
	var resp *message.RPCMessage
	msg := message.RPCMessage{}
	if err := c.Decode(body, &msg); err != nil {
		resp = message.Failure("", "decode request: "+err.Error())
	} else {
		ctx := context.WithValue(svr.ctx, codecKey{}, ct)
		resp = svr.handler(ctx, &msg)
	}

	svr.reply(conn, writeMu, header, resp)
}

// reply writes resp as the response to the request framed by header.
func (svr *Server) reply(conn net.Conn, writeMu *sync.Mutex, header *protocol.Header, resp *message.RPCMessage) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	result, err := c.Encode(resp)
	if err != nil {
		svr.logger.Error("encode response", zap.String("method", resp.ServiceMethod), zap.Error(err))
		if result, err = c.Encode(message.Failure(resp.ServiceMethod, "encode response: "+err.Error())); err != nil {
			return
		}
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	writeMu.Lock()
	err = protocol.Encode(conn, &replyHeader, result)
	writeMu.Unlock()
	if err != nil {
		svr.logger.Debug("write response", zap.String("method", resp.ServiceMethod), zap.Error(err))
	}
}

// Shutdown stops the server:
//  1. deregister every service so clients stop routing here
//  2. close the listener
//  3. wait up to timeout for in-flight requests
//  4. close the remaining connections
//
// Errors from all steps are collected.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	listener, reg, addr := svr.listener, svr.registry, svr.advertiseAddr
	svr.mu.Unlock()

	var result *multierror.Error
	if reg != nil {
		for serviceName := range svr.serviceMap {
			if err := reg.Deregister(serviceName, addr); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "deregister %s", serviceName))
			}
		}
	}

	// The flag must be set before Close, or Serve reports the Accept error.
	// Setting it under mu orders every admitted wg.Add before the Wait below.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	svr.mu.Unlock()
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, errors.Wrap(err, "close listener"))
		}
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		svr.cancel()
		result = multierror.Append(result, errors.New("timeout waiting for ongoing requests to finish"))
	}

	svr.conns.Range(func(key, _ any) bool {
		key.(net.Conn).Close()
		return true
	})
	svr.cancel()
	svr.logger.Info("shut down")
	return result.ErrorOrNil()
}

// businessHandler dispatches to the registered service. It is wrapped by the
// middleware chain.
//
// Flow: parse "Service.Method" → find service and method → decode args →
// reflect.Call → encode reply, or map the returned error.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := strings.Cut(req.ServiceMethod, ".")
	if !ok || strings.Contains(methodName, ".") {
		return message.Failure(req.ServiceMethod, "invalid service method format")
	}
	svc := svr.serviceMap[serviceName]
	if svc == nil {
		return message.Failure(req.ServiceMethod, "unknown service "+serviceName)
	}
	method := svc.method[methodName]
	if method == nil {
		return message.Failure(req.ServiceMethod, "unknown method "+req.ServiceMethod)
	}

	ct, _ := ctx.Value(codecKey{}).(codec.CodecType)
	pc := codec.PayloadCodec(ct)

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)
	if len(req.Payload) > 0 {
		if err := pc.Decode(req.Payload, argv.Interface()); err != nil {
			return message.Failure(req.ServiceMethod, "decode args: "+err.Error())
		}
	}

	if err := svr.invoke(ctx, svc, method, argv, replyv); err != nil {
		return svr.errorReply(req.ServiceMethod, err)
	}

	payload, err := pc.Encode(replyv.Interface())
	if err != nil {
		return &message.RPCMessage{
			ServiceMethod: req.ServiceMethod,
			Status:        message.StatusUnknownException,
			Error:         "encode reply: " + err.Error(),
		}
	}
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: payload}
}

// invoke calls the method, turning a panic into an error.
func (svr *Server) invoke(ctx context.Context, svc *service, method *methodType, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			svr.logger.Error("handler panic", zap.String("method", svc.name+"."+method.method.Name), zap.Any("panic", r))
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return svc.Call(ctx, method, argv, replyv)
}

// errorReply maps a handler error onto a response.
func (svr *Server) errorReply(serviceMethod string, err error) *message.RPCMessage {
	unknown := func(text string) *message.RPCMessage {
		return &message.RPCMessage{ServiceMethod: serviceMethod, Status: message.StatusUnknownException, Error: text}
	}
	user := func(e *exception.Exception) *message.RPCMessage {
		payload, err := svr.encoder(serviceMethod).Encode(e)
		if err != nil {
			svr.logger.Error("encode exception", zap.String("method", serviceMethod), zap.String("type", e.TypeID()), zap.Error(err))
			return unknown(e.TypeID())
		}
		return &message.RPCMessage{ServiceMethod: serviceMethod, Status: message.StatusUserException, Payload: payload}
	}

	var remote *exception.RemoteError
	if errors.As(err, &remote) {
		if remote.ConvertToUnhandled() {
			return unknown(remote.TypeID())
		}
		if e := remote.Exception(); e != nil {
			return user(e)
		}
		return &message.RPCMessage{ServiceMethod: serviceMethod, Status: message.StatusUserException, Payload: remote.Unknown().Wire()}
	}

	var e *exception.Exception
	if errors.As(err, &e) {
		return user(e)
	}
	return unknown(err.Error())
}

func (svr *Server) encoder(serviceMethod string) *slicing.Encoder {
	return slicing.NewEncoder(svr.formats[serviceMethod])
}
