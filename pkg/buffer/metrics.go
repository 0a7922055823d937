package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TihanPelser/370Z-CAN-Logger/metric"
)

// bufferMetrics exposes buffer statistics as Prometheus metrics.
type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	overflows   prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.Registry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "buffer",
			Name:      prefix + "_writes_total",
			Help:      "Total items written to the buffer",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "buffer",
			Name:      prefix + "_reads_total",
			Help:      "Total items read from the buffer",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "buffer",
			Name:      prefix + "_overflows_total",
			Help:      "Times the buffer hit capacity on write",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "buffer",
			Name:      prefix + "_drops_total",
			Help:      "Items dropped by the overflow policy",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canmon",
			Subsystem: "buffer",
			Name:      prefix + "_size",
			Help:      "Current number of items in the buffer",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canmon",
			Subsystem: "buffer",
			Name:      prefix + "_utilization_ratio",
			Help:      "Buffer usage (0-1) showing backpressure",
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_overflows", m.overflows); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
