// Package monitor drains raw frames from a capture source, decodes them, and
// maintains the live view of the bus: latest value per signal, recent frame
// history per identifier, and per-identifier counters. Decoded frames fan out
// to registered sinks and, when a store is configured, persist asynchronously
// through a worker pool.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TihanPelser/370Z-CAN-Logger/decode"
	"github.com/TihanPelser/370Z-CAN-Logger/errors"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
	"github.com/TihanPelser/370Z-CAN-Logger/metric"
	"github.com/TihanPelser/370Z-CAN-Logger/pkg/worker"
	"github.com/TihanPelser/370Z-CAN-Logger/storage"
)

// DefaultHistoryDepth bounds the per-identifier frame history ring.
const DefaultHistoryDepth = 256

// drainTimeout is the interval at which the drain loop re-checks for
// shutdown while waiting for a frame.
const drainTimeout = 100 * time.Millisecond

// Sink receives every decoded frame in arrival order. A sink error is logged
// and counted but never stops the monitor.
type Sink interface {
	HandleFrame(ctx context.Context, f *frame.Decoded) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, f *frame.Decoded) error

// HandleFrame calls fn.
func (fn SinkFunc) HandleFrame(ctx context.Context, f *frame.Decoded) error {
	return fn(ctx, f)
}

// FrameSource is the queue the monitor drains. Both the live capture source
// and the replay feed satisfy it.
type FrameSource interface {
	// Next returns the oldest pending frame, waiting up to timeout.
	// The second return is false on timeout or after the source is done.
	Next(timeout time.Duration) (*frame.Raw, bool)
}

// SignalSample is a signal's most recent value and the frame timestamp that
// produced it.
type SignalSample struct {
	Value     frame.Value
	Timestamp float64
}

// Snapshot is a point-in-time copy of the monitor's state.
type Snapshot struct {
	SessionID   string
	FramesSeen  int64
	SinkErrors  int64
	StoreErrors int64
	Latest      map[string]SignalSample
	FrameCounts map[uint32]int64
}

// persistJob carries one decoded frame to the storage workers.
type persistJob struct {
	sessionID string
	decoded   *frame.Decoded
}

type monitorMetrics struct {
	framesProcessed prometheus.Counter
	sinkErrors      prometheus.Counter
	storeErrors     prometheus.Counter
}

func newMonitorMetrics(registry *metric.Registry) *monitorMetrics {
	if registry == nil {
		return nil
	}

	m := &monitorMetrics{
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "monitor",
			Name:      "frames_processed_total",
			Help:      "Frames decoded and dispatched",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "monitor",
			Name:      "sink_errors_total",
			Help:      "Errors returned by frame sinks",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "monitor",
			Name:      "store_errors_total",
			Help:      "Failed persistence writes",
		}),
	}

	_ = registry.RegisterCounter("monitor", "frames_processed", m.framesProcessed)
	_ = registry.RegisterCounter("monitor", "sink_errors", m.sinkErrors)
	_ = registry.RegisterCounter("monitor", "store_errors", m.storeErrors)
	return m
}

// Deps holds runtime dependencies for the monitor.
type Deps struct {
	Source          FrameSource
	Decoder         *decode.Decoder
	Store           storage.Store // nil disables persistence
	Sinks           []Sink
	SessionSource   string // endpoint or file, recorded on the session
	HistoryDepth    int    // 0 means DefaultHistoryDepth
	StoreWorkers    int    // 0 means 2
	StoreQueueSize  int    // 0 means 512
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Monitor is the aggregation core of a capture run.
type Monitor struct {
	session      storage.Session
	source       FrameSource
	decoder      *decode.Decoder
	store        storage.Store
	sinks        []Sink
	historyDepth int
	logger       *slog.Logger
	pool         *worker.Pool[persistJob]
	metrics      *monitorMetrics

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool

	framesSeen  atomic.Int64
	sinkErrors  atomic.Int64
	storeErrors atomic.Int64

	mu      sync.RWMutex
	latest  map[string]SignalSample
	history map[uint32][]*frame.Decoded
	counts  map[uint32]int64
}

// New creates a monitor with a fresh session ID. Source may be nil when
// frames are pushed through Process directly, as the replay path does.
func New(deps Deps) (*Monitor, error) {
	decoder := deps.Decoder
	if decoder == nil {
		decoder = decode.New(nil)
	}

	historyDepth := deps.HistoryDepth
	if historyDepth == 0 {
		historyDepth = DefaultHistoryDepth
	}
	if historyDepth < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("negative history depth %d", historyDepth),
			"monitor", "New", "history validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "monitor")
	}

	m := &Monitor{
		session: storage.Session{
			ID:        uuid.NewString(),
			Source:    deps.SessionSource,
			StartedAt: time.Now(),
		},
		source:       deps.Source,
		decoder:      decoder,
		store:        deps.Store,
		sinks:        deps.Sinks,
		historyDepth: historyDepth,
		logger:       logger,
		metrics:      newMonitorMetrics(deps.MetricsRegistry),
		latest:       make(map[string]SignalSample),
		history:      make(map[uint32][]*frame.Decoded),
		counts:       make(map[uint32]int64),
	}

	if deps.Store != nil {
		workers := deps.StoreWorkers
		if workers == 0 {
			workers = 2
		}
		queueSize := deps.StoreQueueSize
		if queueSize == 0 {
			queueSize = 512
		}

		var opts []worker.Option[persistJob]
		if deps.MetricsRegistry != nil {
			opts = append(opts, worker.WithMetricsRegistry[persistJob](deps.MetricsRegistry, "monitor_store"))
		}
		m.pool = worker.NewPool(workers, queueSize, m.persist, opts...)
	}

	return m, nil
}

// Session returns the capture session this monitor records under.
func (m *Monitor) Session() storage.Session {
	return m.session
}

// Start registers the session, starts the persistence workers, and launches
// the drain loop.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Load() {
		return nil
	}

	if m.store != nil {
		if err := m.store.CreateSession(ctx, m.session); err != nil {
			return errors.Wrap(err, "monitor", "Start", "session registration")
		}
		if err := m.pool.Start(ctx); err != nil {
			return errors.Wrap(err, "monitor", "Start", "worker pool start")
		}
	}

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})
	m.running.Store(true)

	m.logger.Info("monitor started", "session", m.session.ID, "source", m.session.Source)

	go func() {
		defer close(m.done)
		if m.source != nil {
			m.drainLoop(ctx)
		} else {
			// push mode: nothing to drain, just hold the loop open so
			// Stop's lifecycle is the same either way
			select {
			case <-ctx.Done():
			case <-m.shutdown:
			}
		}
	}()

	return nil
}

// Stop ends the drain loop and waits up to timeout for it and the
// persistence workers to finish. Safe to call more than once.
func (m *Monitor) Stop(timeout time.Duration) error {
	if !m.running.Swap(false) {
		return nil
	}

	close(m.shutdown)

	deadline := time.Now().Add(timeout)
	select {
	case <-m.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"monitor", "Stop", "drain loop join")
	}

	if m.pool != nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if err := m.pool.Stop(remaining); err != nil {
			return errors.Wrap(err, "monitor", "Stop", "worker pool stop")
		}
	}

	m.logger.Info("monitor stopped",
		"session", m.session.ID,
		"frames", m.framesSeen.Load(),
		"sink_errors", m.sinkErrors.Load(),
		"store_errors", m.storeErrors.Load())
	return nil
}

// Running reports whether the drain loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Process decodes one frame and applies it to monitor state synchronously.
// The drain loop calls this for every frame; replay paths may call it
// directly instead of going through a FrameSource.
func (m *Monitor) Process(ctx context.Context, raw *frame.Raw) {
	decoded := m.decoder.Decode(raw)

	m.framesSeen.Add(1)
	if m.metrics != nil {
		m.metrics.framesProcessed.Inc()
	}

	m.mu.Lock()
	m.counts[raw.ID]++
	for name, v := range decoded.Signals {
		m.latest[name] = SignalSample{Value: v, Timestamp: decoded.Timestamp}
	}
	h := append(m.history[raw.ID], decoded)
	if len(h) > m.historyDepth {
		h = h[len(h)-m.historyDepth:]
	}
	m.history[raw.ID] = h
	m.mu.Unlock()

	for _, sink := range m.sinks {
		if err := sink.HandleFrame(ctx, decoded); err != nil {
			m.sinkErrors.Add(1)
			if m.metrics != nil {
				m.metrics.sinkErrors.Inc()
			}
			m.logger.Warn("sink rejected frame", "id", decoded.IDHex(), "error", err)
		}
	}

	if m.pool != nil {
		if err := m.pool.Submit(persistJob{sessionID: m.session.ID, decoded: decoded}); err != nil {
			m.storeErrors.Add(1)
			if m.metrics != nil {
				m.metrics.storeErrors.Inc()
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]SignalSample, len(m.latest))
	for k, v := range m.latest {
		latest[k] = v
	}
	counts := make(map[uint32]int64, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}

	return Snapshot{
		SessionID:   m.session.ID,
		FramesSeen:  m.framesSeen.Load(),
		SinkErrors:  m.sinkErrors.Load(),
		StoreErrors: m.storeErrors.Load(),
		Latest:      latest,
		FrameCounts: counts,
	}
}

// History returns the retained decoded frames for one identifier, oldest
// first.
func (m *Monitor) History(id uint32) []*frame.Decoded {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.history[id]
	out := make([]*frame.Decoded, len(h))
	copy(out, h)
	return out
}

func (m *Monitor) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		default:
		}

		start := time.Now()
		raw, ok := m.source.Next(drainTimeout)
		if !ok {
			// A closed source returns immediately; sleep out the rest of
			// the interval instead of spinning.
			if rem := drainTimeout - time.Since(start); rem > 0 {
				select {
				case <-ctx.Done():
					return
				case <-m.shutdown:
					return
				case <-time.After(rem):
				}
			}
			continue
		}
		m.Process(ctx, raw)
	}
}

// persist writes one decoded frame, raw row first, then its signals.
func (m *Monitor) persist(ctx context.Context, job persistJob) error {
	if err := m.store.InsertRaw(ctx, job.sessionID, &job.decoded.Raw); err != nil {
		m.storeErrors.Add(1)
		if m.metrics != nil {
			m.metrics.storeErrors.Inc()
		}
		return err
	}
	if err := m.store.InsertDecoded(ctx, job.sessionID, job.decoded); err != nil {
		m.storeErrors.Add(1)
		if m.metrics != nil {
			m.metrics.storeErrors.Inc()
		}
		return err
	}
	return nil
}
