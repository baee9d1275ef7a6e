// Package metrics holds the Prometheus collectors for the queue, the worker pool,
// the resource cache and the admin API. Each file registers its own collectors from init;
// MustRegister publishes them on the default registry.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	pending      []prometheus.Collector
)

func register(cs ...prometheus.Collector) { pending = append(pending, cs...) }

// MustRegister is safe to call more than once; only the first call registers.
func MustRegister() {
	registerOnce.Do(func() { prometheus.MustRegister(pending...) })
}

// norm keeps label cardinality predictable: lowercase, trimmed, never empty.
func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
