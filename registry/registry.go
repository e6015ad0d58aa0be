// Package registry maps service names to the addresses serving them.
//
// Two implementations are provided: EtcdRegistry for real deployments and
// Static, an in-process table for tests and single-host setups.
package registry

import (
	"github.com/go-faster/errors"
)

// ErrNotFound is returned by Discover when no instance serves the service.
var ErrNotFound = errors.New("no instances registered")

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
}
