package monitor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/TihanPelser/370Z-CAN-Logger/frame"
)

// Printer is a Sink that writes one human-readable line per decoded frame.
// Signals print in name order so repeated frames line up visually.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	// KnownOnly suppresses frames that decoded no signals.
	KnownOnly bool
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

var _ Sink = (*Printer)(nil)

// HandleFrame writes the frame's line.
func (p *Printer) HandleFrame(_ context.Context, f *frame.Decoded) error {
	if p.KnownOnly && len(f.Signals) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%10.3f] %-6s %s", f.Timestamp, f.IDHex(), f.Source)

	names := make([]string, 0, len(f.Signals))
	for name := range f.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s=%s", name, f.Signals[name].String())
	}
	b.WriteByte('\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.out, b.String())
	return err
}
