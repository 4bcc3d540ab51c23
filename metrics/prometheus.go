package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider adapts a prometheus.Registerer to the Provider
// interface. Counters map to prometheus counters, up/down counters to
// gauges, histograms to prometheus histograms with default buckets.
//
// Instruments are registered on first use and reused for the same name.
// Registration conflicts (a name already taken on the registerer by a
// foreign collector) fall back to a private, unregistered instrument so
// recording never fails at the call site.
type PrometheusProvider struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// NewPrometheusProvider constructs a provider registering instruments on
// reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusProvider(reg prometheus.Registerer) *PrometheusProvider {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

func (p *PrometheusProvider) Counter(name string, opts ...InstrumentOption) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return promCounter{c}
	}
	cfg := applyOptions(opts)
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        cfg.Description,
		ConstLabels: prometheus.Labels(cfg.Attributes),
	})
	_ = p.reg.Register(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *PrometheusProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[name]; ok {
		return promGauge{g}
	}
	cfg := applyOptions(opts)
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        cfg.Description,
		ConstLabels: prometheus.Labels(cfg.Attributes),
	})
	_ = p.reg.Register(g)
	p.gauges[name] = g
	return promGauge{g}
}

func (p *PrometheusProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return promHistogram{h}
	}
	cfg := applyOptions(opts)
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        cfg.Description,
		ConstLabels: prometheus.Labels(cfg.Attributes),
	})
	_ = p.reg.Register(h)
	p.histograms[name] = h
	return promHistogram{h}
}

type promCounter struct{ c prometheus.Counter }

func (w promCounter) Add(n int64) {
	if n < 0 {
		return
	}
	w.c.Add(float64(n))
}

type promGauge struct{ g prometheus.Gauge }

func (w promGauge) Add(n int64) { w.g.Add(float64(n)) }

type promHistogram struct{ h prometheus.Histogram }

func (w promHistogram) Record(v float64) { w.h.Observe(v) }
