// Package serial provides the live capture source: a dedicated goroutine
// reading text frame lines from a CAN adapter transport, parsing them, and
// queueing the results in a bounded drop-on-full buffer for the consumer.
package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
	"github.com/TihanPelser/370Z-CAN-Logger/metric"
	"github.com/TihanPelser/370Z-CAN-Logger/pkg/buffer"
	"github.com/TihanPelser/370Z-CAN-Logger/pkg/retry"
)

// DefaultQueueCapacity bounds the frame queue between the read goroutine and
// the consumer. At the bus's peak frame rate this is several seconds of
// headroom before frames start dropping.
const DefaultQueueCapacity = 1000

// maxLineLength caps a single frame line. Well-formed lines are under 100
// bytes; anything longer is adapter garbage.
const maxLineLength = 4096

// Metrics holds Prometheus metrics for the live capture source.
type Metrics struct {
	framesReceived prometheus.Counter
	linesSkipped   prometheus.Counter
	framesDropped  prometheus.Counter
	readErrors     prometheus.Counter
	reconnects     prometheus.Counter
	lastActivity   prometheus.Gauge
}

func newMetrics(registry *metric.Registry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "live",
			Name:      "frames_received_total",
			Help:      "Frames parsed from the transport",
		}),
		linesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "live",
			Name:      "lines_skipped_total",
			Help:      "Lines that did not match the frame format",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "live",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the queue was full",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "live",
			Name:      "read_errors_total",
			Help:      "Transport read errors encountered",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canmon",
			Subsystem: "live",
			Name:      "reconnects_total",
			Help:      "Successful transport reconnections",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canmon",
			Subsystem: "live",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last parsed frame",
		}),
	}

	_ = registry.RegisterCounter(name, "frames_received", m.framesReceived)
	_ = registry.RegisterCounter(name, "lines_skipped", m.linesSkipped)
	_ = registry.RegisterCounter(name, "frames_dropped", m.framesDropped)
	_ = registry.RegisterCounter(name, "read_errors", m.readErrors)
	_ = registry.RegisterCounter(name, "reconnects", m.reconnects)
	_ = registry.RegisterGauge(name, "last_activity", m.lastActivity)

	return m
}

// SourceDeps holds runtime dependencies for the live capture source.
type SourceDeps struct {
	Name            string
	Transport       Transport
	QueueCapacity   int // 0 means DefaultQueueCapacity
	RetryConfig     *retry.Config
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Source reads frame lines from a transport on a dedicated goroutine and
// queues parsed frames for a single consumer. The producer side never blocks:
// when the queue is full, new frames are dropped and counted.
type Source struct {
	name        string
	transport   Transport
	parser      *frame.Parser
	logger      *slog.Logger
	queue       buffer.Buffer[*frame.Raw]
	retryConfig retry.Config

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	reader    io.ReadCloser

	framesReceived atomic.Int64
	linesSkipped   atomic.Int64
	framesDropped  atomic.Int64
	readErrors     atomic.Int64

	metrics *Metrics
}

// NewSource creates a live capture source. The transport is not touched until
// Start.
func NewSource(deps SourceDeps) (*Source, error) {
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil transport"),
			"live-source", "NewSource", "transport validation")
	}

	capacity := deps.QueueCapacity
	if capacity == 0 {
		capacity = DefaultQueueCapacity
	}
	if capacity < 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("negative queue capacity %d", capacity),
			"live-source", "NewSource", "capacity validation")
	}

	name := deps.Name
	if name == "" {
		name = "live_source"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "live-source", "transport", deps.Transport.String())
	}

	retryConfig := retry.DefaultConfig()
	if deps.RetryConfig != nil {
		retryConfig = *deps.RetryConfig
	}

	s := &Source{
		name:        name,
		transport:   deps.Transport,
		parser:      frame.NewParser(),
		logger:      logger,
		retryConfig: retryConfig,
		metrics:     newMetrics(deps.MetricsRegistry, name),
	}

	opts := []buffer.Option[*frame.Raw]{
		buffer.WithOverflowPolicy[*frame.Raw](buffer.DropNewest),
		buffer.WithDropCallback[*frame.Raw](func(*frame.Raw) {
			s.framesDropped.Add(1)
			if s.metrics != nil {
				s.metrics.framesDropped.Inc()
			}
		}),
	}
	if deps.MetricsRegistry != nil {
		opts = append(opts, buffer.WithMetrics[*frame.Raw](deps.MetricsRegistry, name+"_queue"))
	}

	queue, err := buffer.NewCircular(capacity, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "live-source", "NewSource", "queue creation")
	}
	s.queue = queue

	return s, nil
}

// Start connects the transport and launches the read goroutine. The first
// connection attempt is made synchronously so a bad port or address fails
// fast; later connection losses are retried inside the read loop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // idempotent
	}

	reader, err := s.transport.Connect()
	if err != nil {
		return errors.WrapFatal(err, "live-source", "Start", "initial connect")
	}
	s.reader = reader

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()

	s.logger.Info("live capture started", "endpoint", s.transport.String())

	go func() {
		defer close(s.done)
		s.readLoop(ctx)

		// Loop exited on its own (context cancelled). Make the death
		// observable: Running flips false and the queue closes so Next
		// stops returning true. Stop skips all of this when it lost the
		// Swap race.
		if s.running.Swap(false) {
			s.mu.Lock()
			if s.reader != nil {
				_ = s.reader.Close()
			}
			s.mu.Unlock()
			_ = s.queue.Close()
		}
	}()

	return nil
}

// Stop signals the read goroutine, closes the transport to unblock any
// in-flight read, and waits up to timeout for the goroutine to exit. Safe to
// call more than once and before Start.
func (s *Source) Stop(timeout time.Duration) error {
	if !s.running.Swap(false) {
		return nil
	}

	s.mu.Lock()
	close(s.shutdown)
	if s.reader != nil {
		_ = s.reader.Close()
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"live-source", "Stop", "read loop join")
	}

	_ = s.queue.Close()
	s.logger.Info("live capture stopped",
		"frames", s.framesReceived.Load(),
		"dropped", s.framesDropped.Load(),
		"skipped", s.linesSkipped.Load())
	return nil
}

// Next returns the oldest queued frame, waiting up to timeout for one to
// arrive. The second return is false on timeout or after the source stops.
func (s *Source) Next(timeout time.Duration) (*frame.Raw, bool) {
	return s.queue.ReadWithTimeout(timeout)
}

// Stats is a point-in-time view of the source's counters.
type Stats struct {
	FramesReceived int64
	LinesSkipped   int64
	FramesDropped  int64
	ReadErrors     int64
	QueueDepth     int
}

// Stats returns the current counters.
func (s *Source) Stats() Stats {
	return Stats{
		FramesReceived: s.framesReceived.Load(),
		LinesSkipped:   s.linesSkipped.Load(),
		FramesDropped:  s.framesDropped.Load(),
		ReadErrors:     s.readErrors.Load(),
		QueueDepth:     s.queue.Size(),
	}
}

// Running reports whether the read goroutine is active.
func (s *Source) Running() bool {
	return s.running.Load()
}

// readLoop scans lines off the transport until shutdown. A broken stream is
// reconnected with backoff for as long as it takes; only shutdown or context
// cancellation ends the loop.
func (s *Source) readLoop(ctx context.Context) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	for {
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 256), maxLineLength)

		for scanner.Scan() {
			if !s.running.Load() {
				return
			}
			s.handleLine(scanner.Text())
		}

		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		if err := scanner.Err(); err != nil {
			s.readErrors.Add(1)
			if s.metrics != nil {
				s.metrics.readErrors.Inc()
			}
			s.logger.Warn("transport read failed", "error", err)
		} else {
			s.logger.Warn("transport stream ended", "endpoint", s.transport.String())
		}

		_ = reader.Close()

		next, err := s.reconnect(ctx)
		if err != nil {
			// only cancellation ends the reconnect wait
			return
		}
		reader = next
	}
}

// reconnect re-establishes the transport, retrying for as long as the
// source is running. A lost connection is always transient: each backoff
// round that fails logs once and pauses before the next, and only shutdown
// or context cancellation ends the attempt.
func (s *Source) reconnect(ctx context.Context) (io.ReadCloser, error) {
	for {
		var reader io.ReadCloser
		err := retry.Do(ctx, s.retryConfig, func() error {
			select {
			case <-s.shutdown:
				return retry.NonRetryable(errors.ErrShuttingDown)
			default:
			}

			r, err := s.transport.Connect()
			if err != nil {
				return err
			}
			reader = r
			return nil
		})
		if err == nil {
			s.mu.Lock()
			s.reader = reader
			s.mu.Unlock()

			if s.metrics != nil {
				s.metrics.reconnects.Inc()
			}
			s.logger.Info("transport reconnected", "endpoint", s.transport.String())
			return reader, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.WrapTransient(ctx.Err(), "live-source", "reconnect", "cancelled")
		case <-s.shutdown:
			return nil, errors.WrapTransient(errors.ErrShuttingDown, "live-source", "reconnect", "shutdown")
		default:
		}

		s.logger.Warn("transport still unreachable, backing off", "error", err)

		select {
		case <-ctx.Done():
			return nil, errors.WrapTransient(ctx.Err(), "live-source", "reconnect", "cancelled")
		case <-s.shutdown:
			return nil, errors.WrapTransient(errors.ErrShuttingDown, "live-source", "reconnect", "shutdown")
		case <-time.After(s.retryConfig.MaxDelay):
		}
	}
}

func (s *Source) handleLine(line string) {
	raw, ok := s.parser.Parse(line)
	if !ok {
		// noisy transports produce plenty of these: count, never log
		if line != "" {
			s.linesSkipped.Add(1)
			if s.metrics != nil {
				s.metrics.linesSkipped.Inc()
			}
		}
		return
	}

	s.framesReceived.Add(1)
	if s.metrics != nil {
		s.metrics.framesReceived.Inc()
		s.metrics.lastActivity.Set(float64(time.Now().Unix()))
	}

	// DropNewest policy: Write never blocks, drops are counted by the
	// buffer's drop callback.
	_ = s.queue.Write(raw)
}
