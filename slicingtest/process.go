package slicingtest

import (
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"slice-rpc/client"
	"slice-rpc/codec"
	"slice-rpc/exception"
	"slice-rpc/loadbalance"
	"slice-rpc/registry"
	"slice-rpc/relay"
	"slice-rpc/server"
	"time"
)

// ServerConfig wires the test server process.
type ServerConfig struct {
	Types           *exception.Hierarchy // defaults to ServerTypes
	Registry        registry.Registry    // resolves the clients' Relay services
	Balancer        loadbalance.Balancer
	Codec           codec.CodecType // for calls back into Relay
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
	Options         []server.Option
}

// NewServer builds a server hosting TestIntf over ServerTypes, and the
// client TestIntf uses to reach Relay services. The caller serves it and
// closes the client after shutdown.
func NewServer(cfg ServerConfig) (*server.Server, *client.Client, error) {
	if cfg.Registry == nil {
		return nil, nil, errors.New("slicingtest: registry is required")
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	types := cfg.Types
	if types == nil {
		var err error
		if types, err = ServerTypes(); err != nil {
			return nil, nil, err
		}
	}
	callback := client.NewClient(cfg.Registry, cfg.Balancer, types, byte(cfg.Codec), 2)

	opts := append(ServerOptions(), server.WithLogger(cfg.Logger))
	svr := server.NewServer(append(opts, cfg.Options...)...)
	stop := func() {
		if err := svr.Shutdown(cfg.ShutdownTimeout); err != nil {
			cfg.Logger.Warn("shutdown", zap.Error(err))
		}
	}
	if err := svr.Register(NewTestIntf(types, relay.NewForwarder(callback, cfg.Logger), stop)); err != nil {
		callback.Close()
		return nil, nil, err
	}
	return svr, callback, nil
}

// NewRelayServer builds the client-side server hosting Relay over
// ClientTypes, registered as DefaultRelayPeer.
func NewRelayServer(logger *zap.Logger) (*server.Server, error) {
	if logger == nil {
		logger = zap.L()
	}
	types, err := ClientTypes()
	if err != nil {
		return nil, err
	}
	svr := server.NewServer(server.WithLogger(logger))
	if err := svr.RegisterName(DefaultRelayPeer, NewRelay(types)); err != nil {
		return nil, err
	}
	return svr, nil
}
