package decode

import (
	"fmt"
	"math"

	"github.com/TihanPelser/370Z-CAN-Logger/catalog"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
)

// Decoder applies the static rule table to raw frames. Decoding is pure:
// the only state is the read-only rule table and the identifier catalog, so
// one Decoder is safe for concurrent use.
type Decoder struct {
	catalog *catalog.Catalog
}

// New creates a decoder. The catalog may be nil; every identifier then
// reports "Unknown" source metadata.
func New(cat *catalog.Catalog) *Decoder {
	return &Decoder{catalog: cat}
}

// Decode converts a raw frame into a decoded frame. Identifiers without a
// rule produce a decoded frame carrying only the base fields; payloads too
// short for a signal's extraction silently omit that signal.
func (d *Decoder) Decode(raw *frame.Raw) *frame.Decoded {
	decoded := &frame.Decoded{
		Raw:       *raw,
		Source:    "Unknown",
		Frequency: "Unknown",
		Signals:   make(map[string]frame.Value),
	}

	if d.catalog != nil {
		if meta, ok := d.catalog.Lookup(raw.ID); ok {
			decoded.Source = meta.Source
			decoded.Frequency = meta.Frequency
		}
	}

	rule, ok := table[raw.ID]
	if !ok {
		return decoded
	}

	for _, sr := range rule.Signals {
		if len(raw.Data) < sr.MinLen {
			continue
		}
		if value, ok := sr.extract(raw.Data); ok {
			decoded.Signals[sr.Signal] = value
		}
	}

	return decoded
}

// extract applies the rule to a payload already known to satisfy MinLen.
func (sr *SignalRule) extract(data []byte) (frame.Value, bool) {
	switch sr.Kind {
	case LinearBE16:
		raw := uint16(data[sr.Offset])<<8 | uint16(data[sr.Offset+1])
		return frame.Number(sr.linear(float64(raw))), true

	case LinearByte:
		raw := data[sr.Offset]
		if sr.ZeroMeansAbsent && raw == 0 {
			return frame.Value{}, false
		}
		return frame.Number(sr.linear(float64(raw))), true

	case SignedMagnitudeLE16:
		raw := uint16(data[sr.Offset+1])<<8 | uint16(data[sr.Offset])
		div := sr.Div
		if div == 0 {
			div = 1
		}
		if raw > 32767 {
			return frame.Number(-((65535 - float64(raw)) / div)), true
		}
		return frame.Number(float64(raw) / div), true

	case EnumByte:
		raw := data[sr.Offset]
		if label, ok := sr.Enum[raw]; ok {
			return frame.Category(label), true
		}
		if sr.Fallback != "" {
			return frame.Category(sr.Fallback), true
		}
		return frame.Category(fmt.Sprintf("Unknown(%d)", raw)), true
	}

	return frame.Value{}, false
}

func (sr *SignalRule) linear(raw float64) float64 {
	div := sr.Div
	if div == 0 {
		div = 1
	}
	mul := sr.Mul
	if mul == 0 {
		mul = 1
	}

	v := raw/div*mul + sr.Bias
	if sr.Round >= 0 {
		pow := math.Pow(10, float64(sr.Round))
		v = math.Round(v*pow) / pow
	}
	return v
}
