package workload

import (
	"github.com/wesleyorama2/stampede/internal/loadgen"
	"github.com/wesleyorama2/stampede/internal/loadgen/config"
	"github.com/wesleyorama2/stampede/internal/workload/order"
)

// Default returns a registry holding the built-in workloads.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(RequestsName, "Runs the request list from the configuration file",
		func(cfg *config.TestConfig) (loadgen.Workload, error) {
			return NewRequests(cfg)
		})
	r.MustRegister(order.Name, "Creates one VIP and one normal order per iteration",
		func(_ *config.TestConfig) (loadgen.Workload, error) {
			return order.New(), nil
		})
	return r
}
