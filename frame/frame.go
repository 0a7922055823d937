// Package frame defines the raw and decoded CAN frame values that flow
// through the monitor, and the parser that turns adapter output lines into
// structured frames.
package frame

import (
	"fmt"
	"strings"
)

// Signal names produced by the decode table. A name is present in
// Decoded.Signals only when the frame's payload was long enough for the
// identifier's extraction rule.
const (
	SignalRPM            = "rpm"
	SignalThrottlePct    = "throttle_pct"
	SignalSpeedKPH       = "speed_kph"
	SignalSpeedMPH       = "speed_mph"
	SignalSteeringAngle  = "steering_angle"
	SignalEngineTemp     = "engine_temp"
	SignalCruiseSetpoint = "cruise_setpoint_kph"
	SignalCruiseStatus   = "cruise_status"
	SignalClutch         = "clutch"
	SignalGear           = "gear"
)

// Raw is one frame as reported by the transport: source-relative timestamp in
// seconds, arbitration identifier, the transport's message kind tag, and 0-8
// payload bytes. An empty payload is a valid frame.
type Raw struct {
	Timestamp float64
	ID        uint32
	Kind      string
	Data      []byte
	Text      string // original line, kept for raw storage
}

// IDHex returns the identifier formatted the way the adapter logs it.
func (r *Raw) IDHex() string {
	return fmt.Sprintf("0x%X", r.ID)
}

// DataHex returns the payload as space-separated uppercase hex bytes.
func (r *Raw) DataHex() string {
	parts := make([]string, len(r.Data))
	for i, b := range r.Data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// Decoded is a raw frame plus catalog metadata and the extracted signal
// values. Source and Frequency are "Unknown" when the identifier is not in
// the catalog.
type Decoded struct {
	Raw

	Source    string
	Frequency string
	Signals   map[string]Value
}

// Signal returns the named signal value and whether it was decodable from
// this frame.
func (d *Decoded) Signal(name string) (Value, bool) {
	v, ok := d.Signals[name]
	return v, ok
}

// ValueKind discriminates the two shapes a decoded signal can take.
type ValueKind int

const (
	// KindNumber is a physical-unit numeric reading (RPM, km/h, degrees).
	KindNumber ValueKind = iota
	// KindCategory is a categorical reading (gear position, clutch state).
	KindCategory
)

// Value is a decoded signal value: either numeric or categorical.
type Value struct {
	kind ValueKind
	num  float64
	str  string
}

// Number creates a numeric signal value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Category creates a categorical signal value.
func Category(s string) Value {
	return Value{kind: KindCategory, str: s}
}

// Kind returns the value's kind.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Float returns the numeric value and true when the value is numeric.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String renders the value for display.
func (v Value) String() string {
	if v.kind == KindCategory {
		return v.str
	}
	return trimFloat(v.num)
}

// MarshalJSON emits numbers as JSON numbers and categories as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindCategory {
		return []byte(fmt.Sprintf("%q", v.str)), nil
	}
	return []byte(trimFloat(v.num)), nil
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}
