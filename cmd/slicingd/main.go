// Command slicingd runs one side of the exception slicing conformance setup.
//
//	slicingd -config server.yaml              # TestIntf
//	slicingd -config client.yaml -role relay  # the client's Relay
//
// Both register with the configured registry; without etcd endpoints the
// two roles must run in one process, which is what the tests do.
package main

import (
	"flag"
	"github.com/go-faster/errors"
	"github.com/rcrowley/go-metrics"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"slice-rpc/codec"
	"slice-rpc/config"
	"slice-rpc/exception"
	"slice-rpc/loadbalance"
	"slice-rpc/logging"
	"slice-rpc/middleware"
	"slice-rpc/registry"
	"slice-rpc/server"
	"slice-rpc/slicingtest"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config")
	role := flag.String("role", "server", "server or relay")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = *loaded
	}

	logger, undo, err := logging.Install(cfg.Log)
	if err != nil {
		fatal(err)
	}
	defer undo()
	defer logger.Sync()

	if err := run(&cfg, *role, logger); err != nil {
		logger.Error("slicingd", zap.Error(err))
		os.Exit(1)
	}
}

func fatal(err error) {
	os.Stderr.WriteString("slicingd: " + err.Error() + "\n")
	os.Exit(1)
}

func run(cfg *config.Config, role string, logger *zap.Logger) error {
	reg, closeReg, err := newRegistry(cfg.Registry)
	if err != nil {
		return err
	}
	defer closeReg()

	var (
		svr      *server.Server
		shutdown = func() {}
	)
	switch role {
	case "server":
		var types *exception.Hierarchy
		if len(cfg.Schema) > 0 {
			if types, err = exception.LoadSchemaFiles(cfg.Schema...); err != nil {
				return err
			}
		}
		s, callback, err := slicingtest.NewServer(slicingtest.ServerConfig{
			Types:           types,
			Registry:        reg,
			Balancer:        loadbalance.New(cfg.Registry.Balancer),
			Codec:           codec.ParseCodecType(cfg.Codec),
			Logger:          logger,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Options:         []server.Option{server.WithRegistryTTL(cfg.Registry.TTL)},
		})
		if err != nil {
			return err
		}
		svr, shutdown = s, func() { callback.Close() }
	case "relay":
		if svr, err = slicingtest.NewRelayServer(logger); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown role %q", role)
	}
	defer shutdown()
	use(svr, cfg.Middleware, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- svr.Serve(cfg.Server.Network, cfg.Server.Address, cfg.Server.Advertise, reg)
	}()
	logger.Info("serving", zap.String("role", role), zap.String("address", cfg.Server.Address))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case s := <-sig:
		logger.Info("signal received", zap.Stringer("signal", s))
	}
	return svr.Shutdown(cfg.Server.ShutdownTimeout)
}

func newRegistry(cfg config.Registry) (registry.Registry, func(), error) {
	if len(cfg.Endpoints) == 0 {
		return registry.NewStatic(), func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(cfg.Endpoints)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() { reg.Close() }, nil
}

// use installs the middlewares enabled in cfg, outermost first.
func use(svr *server.Server, cfg config.Middleware, logger *zap.Logger) {
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.Metrics {
		svr.Use(middleware.MetricsMiddleware(metrics.DefaultRegistry))
		go metrics.Log(metrics.DefaultRegistry, time.Minute, zap.NewStdLog(logger.Named("metrics")))
	}
	if cfg.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Rate, cfg.Burst))
	}
	if cfg.Retries > 0 {
		svr.Use(middleware.RetryMiddleware(cfg.Retries, 50*time.Millisecond))
	}
	if cfg.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Timeout))
	}
}
