package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "shivanotify"

// Options control monitoring module configuration.
type Options struct {
	// Namespace prefixes every engine metric. Defaults to "shivanotify".
	Namespace string
	// Engine, when set, is attached as a constant "engine" label so that
	// several engines sharing one tick lease stay distinguishable.
	Engine string
	// DisableGoCollector skips the Go runtime collector.
	DisableGoCollector bool
	// DisableProcessCollector skips the process collector.
	DisableProcessCollector bool
}

// Module owns the engine's Prometheus registry, the in-process summary state
// and the health manager.
type Module struct {
	registry *prometheus.Registry
	metrics  *collectorSet
	stats    *statStore
	health   *HealthManager
}

// NewModule constructs a monitoring module with its own Prometheus registry.
func NewModule(opts Options) (*Module, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	registry := prometheus.NewRegistry()
	var registerer prometheus.Registerer = registry
	if opts.Engine != "" {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels{"engine": opts.Engine}, registry)
	}

	var runtime []prometheus.Collector
	if !opts.DisableGoCollector {
		runtime = append(runtime, collectors.NewGoCollector())
	}
	if !opts.DisableProcessCollector {
		runtime = append(runtime, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	metrics := newCollectors(namespace)
	for _, c := range append(runtime, metrics.all()...) {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return &Module{
		registry: registry,
		metrics:  metrics,
		stats:    newStatStore(),
		health:   NewHealthManager(),
	}, nil
}

// Registry exposes the underlying Prometheus registry.
func (m *Module) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the module's registry. A nil module answers 503.
func (m *Module) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Health exposes the liveness and readiness probes.
func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

var current atomic.Pointer[Module]

// SetModule installs the process-wide module used by the Record helpers.
// A nil module is ignored.
func SetModule(module *Module) {
	if module != nil {
		current.Store(module)
	}
}

// CurrentModule returns the process-wide module, or nil when unset.
func CurrentModule() *Module {
	return current.Load()
}
