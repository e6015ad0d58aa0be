// Package loadbalance picks the instance a client call is sent to.
//
// Two strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances, by ServiceInstance.Weight
package loadbalance

import (
	"github.com/go-faster/errors"
	"slice-rpc/registry"
)

// ErrNoInstances is returned by Pick for an empty instance list.
var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call, so it must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer for a config name; anything unrecognized is round robin.
func New(name string) Balancer {
	if name == "weighted_random" {
		return &WeightedRandomBalancer{}
	}
	return &RoundRobinBalancer{}
}
