// Package natspub publishes decoded frames to NATS subjects so external
// consumers (dashboards, recorders) can subscribe to the live bus view.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
	"github.com/TihanPelser/370Z-CAN-Logger/monitor"
)

// DefaultSubjectPrefix is the root of the per-identifier subject tree.
const DefaultSubjectPrefix = "canmon.frames"

// Publisher is the slice of the NATS connection the sink needs.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the wire shape of one published frame.
type Message struct {
	Timestamp float64                `json:"timestamp"`
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Frequency string                 `json:"frequency"`
	Data      string                 `json:"data"`
	Signals   map[string]frame.Value `json:"signals,omitempty"`
}

// Sink publishes each decoded frame to "<prefix>.<hex id>".
type Sink struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

var _ monitor.Sink = (*Sink)(nil)

// New creates a NATS frame sink. An empty prefix uses DefaultSubjectPrefix.
func New(publisher Publisher, prefix string, logger *slog.Logger) (*Sink, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil publisher"),
			"nats-sink", "New", "publisher validation")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if strings.ContainsAny(prefix, " \t") {
		return nil, errors.WrapInvalid(fmt.Errorf("subject prefix %q contains whitespace", prefix),
			"nats-sink", "New", "prefix validation")
	}
	if logger == nil {
		logger = slog.Default().With("component", "nats-sink")
	}
	return &Sink{publisher: publisher, prefix: prefix, logger: logger}, nil
}

// HandleFrame marshals and publishes one frame.
func (s *Sink) HandleFrame(_ context.Context, f *frame.Decoded) error {
	msg := Message{
		Timestamp: f.Timestamp,
		ID:        f.IDHex(),
		Source:    f.Source,
		Frequency: f.Frequency,
		Data:      f.DataHex(),
		Signals:   f.Signals,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		s.failed.Add(1)
		return errors.WrapInvalid(err, "nats-sink", "HandleFrame", "frame marshal")
	}

	subject := fmt.Sprintf("%s.%x", s.prefix, f.ID)
	if err := s.publisher.Publish(subject, payload); err != nil {
		s.failed.Add(1)
		return errors.WrapTransient(err, "nats-sink", "HandleFrame", "publish")
	}

	s.published.Add(1)
	return nil
}

// Published returns the number of frames published so far.
func (s *Sink) Published() int64 {
	return s.published.Load()
}

// Failed returns the number of frames that could not be published.
func (s *Sink) Failed() int64 {
	return s.failed.Load()
}
