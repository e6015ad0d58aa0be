// Package config loads the YAML configuration of a slicing server process.
//
//	server:
//	  network: tcp
//	  address: ":8972"
//	  advertise: "10.0.0.7:8972"
//	  shutdown_timeout: 5s
//	registry:
//	  endpoints: ["127.0.0.1:2379"]
//	  ttl: 10
//	  balancer: round_robin
//	log:
//	  level: info
//	  file: /var/log/slicingd.log
//	schema: [shared.yaml, server.yaml]
//	codec: binary
//	middleware:
//	  timeout: 3s
//	  rate: 1000
//	  burst: 100
//	  retries: 2
//	  metrics: true
package config

import (
	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

type Server struct {
	Network         string        `yaml:"network"`
	Address         string        `yaml:"address"`
	Advertise       string        `yaml:"advertise"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Registry configures etcd. No endpoints means an in-process static registry.
type Registry struct {
	Endpoints []string `yaml:"endpoints"`
	TTL       int64    `yaml:"ttl"`
	Balancer  string   `yaml:"balancer"` // round_robin or weighted_random
}

// Log configures zap. An empty File logs to stderr; otherwise the file is
// rotated by size.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Middleware enables the optional server middlewares; zero disables one.
type Middleware struct {
	Timeout time.Duration `yaml:"timeout"`
	Rate    float64       `yaml:"rate"`
	Burst   int           `yaml:"burst"`
	Retries int           `yaml:"retries"`
	Metrics bool          `yaml:"metrics"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Registry   Registry   `yaml:"registry"`
	Log        Log        `yaml:"log"`
	Schema     []string   `yaml:"schema"`
	Codec      string     `yaml:"codec"`
	Middleware Middleware `yaml:"middleware"`
}

// Default returns the configuration used for omitted keys.
func Default() Config {
	return Config{
		Server: Server{
			Network:         "tcp",
			Address:         ":8972",
			ShutdownTimeout: 5 * time.Second,
		},
		Registry: Registry{TTL: 10, Balancer: "round_robin"},
		Log: Log{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Codec: "binary",
	}
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the file at path. See Parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Codec {
	case "json", "binary", "msgpack":
	default:
		return errors.Errorf("unknown codec %q", c.Codec)
	}
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Registry.TTL <= 0 {
		return errors.Errorf("registry.ttl must be positive, got %d", c.Registry.TTL)
	}
	switch c.Registry.Balancer {
	case "round_robin", "weighted_random":
	default:
		return errors.Errorf("unknown balancer %q", c.Registry.Balancer)
	}
	if c.Middleware.Rate < 0 || c.Middleware.Burst < 0 || c.Middleware.Retries < 0 {
		return errors.New("middleware values must not be negative")
	}
	return nil
}
