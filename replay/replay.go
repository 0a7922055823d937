// Package replay re-delivers captured frames with their original relative
// timing, optionally scaled by a speed multiplier.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
)

// pollInterval is the scheduler's clock granularity. Delivery deadlines are
// honored to within roughly this interval.
const pollInterval = 10 * time.Millisecond

// Load reads a capture file and returns its parseable frames in file order.
// Lines that do not match the frame format are skipped and counted.
func Load(path string, logger *slog.Logger) ([]*frame.Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "replay", "Load", "capture file open")
	}
	defer f.Close()

	if logger == nil {
		logger = slog.Default()
	}

	parser := frame.NewParser()
	var frames []*frame.Raw
	var skipped int

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		raw, ok := parser.Parse(line)
		if !ok {
			if line != "" {
				skipped++
			}
			continue
		}
		frames = append(frames, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "replay", "Load", "capture file read")
	}

	if skipped > 0 {
		logger.Warn("skipped unparseable capture lines", "path", path, "skipped", skipped)
	}
	logger.Info("capture loaded", "path", path, "frames", len(frames))
	return frames, nil
}

// Scheduler delivers a recorded frame sequence preserving the relative
// spacing of the original timestamps. A speed multiplier above 1 compresses
// the timeline, below 1 stretches it.
type Scheduler struct {
	frames []*frame.Raw
	speed  float64
	logger *slog.Logger
}

// NewScheduler builds a scheduler over a copy of frames sorted by timestamp.
// The sort is stable so equal-timestamp frames keep their capture order.
// Speed must be positive.
func NewScheduler(frames []*frame.Raw, speed float64, logger *slog.Logger) (*Scheduler, error) {
	if speed <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("speed multiplier %g must be positive", speed),
			"replay", "NewScheduler", "speed validation")
	}
	if logger == nil {
		logger = slog.Default().With("component", "replay")
	}

	sorted := make([]*frame.Raw, len(frames))
	copy(sorted, frames)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	return &Scheduler{frames: sorted, speed: speed, logger: logger}, nil
}

// Len returns the number of frames the scheduler will deliver.
func (s *Scheduler) Len() int {
	return len(s.frames)
}

// Run delivers every frame to deliver in timestamp order, sleeping between
// frames so that scaled wall-clock spacing matches the recording. Delivery
// stops between frames when ctx is cancelled; the frame being delivered is
// never cut short.
func (s *Scheduler) Run(ctx context.Context, deliver func(*frame.Raw)) error {
	if len(s.frames) == 0 {
		return nil
	}

	start := time.Now()
	first := s.frames[0].Timestamp

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for _, f := range s.frames {
		due := f.Timestamp - first

		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			// recording seconds elapsed on the scaled clock
			elapsed := time.Since(start).Seconds() * s.speed
			if elapsed >= due {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}

		deliver(f)
	}

	s.logger.Info("replay complete", "frames", len(s.frames), "speed", s.speed,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}
