// Package decode converts raw CAN frames into physical vehicle signals using
// a static per-identifier rule table.
//
// Each known arbitration identifier maps to one Rule holding the signal
// extraction definitions for that frame. Extraction kinds are a closed set:
// linear scaling over one or two payload bytes, the steering column's
// signed-magnitude convention, and byte-to-category mappings. The table is
// built once at init and is read-only afterwards, so concurrent lookups need
// no synchronization.
package decode

import "github.com/TihanPelser/370Z-CAN-Logger/frame"

// Kind selects the byte extraction and transform applied by a SignalRule.
type Kind int

const (
	// LinearBE16 reads two consecutive bytes as a big-endian 16-bit
	// unsigned value and applies the linear transform.
	LinearBE16 Kind = iota

	// LinearByte reads a single byte and applies the linear transform.
	LinearByte

	// SignedMagnitudeLE16 reads two bytes little-endian (low byte first)
	// as 16-bit unsigned and applies the steering column's signed-magnitude
	// convention: values above 32767 are negative angles computed as
	// -((65535-raw)/Div). This is not two's-complement.
	SignedMagnitudeLE16

	// EnumByte maps a single byte through a category table.
	EnumByte
)

// SignalRule extracts one named signal from a frame payload.
//
// A rule applies only when the payload holds at least MinLen bytes; shorter
// payloads silently skip the signal (absence, not zero, means "not
// computable from this frame").
type SignalRule struct {
	Signal string
	Kind   Kind
	Offset int // first payload byte consumed
	MinLen int // payload length required before the rule applies

	// Linear transform: value = raw/Div*Mul + Bias, then rounded to Round
	// decimals when Round >= 0. Div and Mul default to 1 when zero.
	Div   float64
	Mul   float64
	Bias  float64
	Round int

	// EnumByte: category per byte value. Bytes not in the table produce
	// Fallback when set, otherwise "Unknown(<raw value>)".
	Enum     map[byte]string
	Fallback string

	// ZeroMeansAbsent suppresses the signal when the raw byte is zero.
	// Used by the cruise setpoint, where the source conflates an unset
	// setpoint with a genuine zero reading.
	ZeroMeansAbsent bool
}

// Rule is the decode definition for one arbitration identifier.
type Rule struct {
	Name    string // what the frame carries, for logs and docs
	Signals []SignalRule
}

// table is the static decode table for the 370Z identifiers of interest.
var table = map[uint32]Rule{
	0x180: {
		Name: "Engine RPM, Throttle",
		Signals: []SignalRule{
			{Signal: frame.SignalRPM, Kind: LinearBE16, Offset: 0, MinLen: 8, Div: 8, Round: -1},
			{Signal: frame.SignalThrottlePct, Kind: LinearByte, Offset: 5, MinLen: 8, Div: 255, Mul: 100, Round: 1},
		},
	},
	0x1F9: {
		Name: "Engine RPM",
		Signals: []SignalRule{
			{Signal: frame.SignalRPM, Kind: LinearBE16, Offset: 2, MinLen: 4, Div: 8, Round: -1},
		},
	},
	0x280: {
		Name: "Vehicle Speed",
		Signals: []SignalRule{
			{Signal: frame.SignalSpeedKPH, Kind: LinearBE16, Offset: 4, MinLen: 6, Div: 100, Round: -1},
			{Signal: frame.SignalSpeedMPH, Kind: LinearBE16, Offset: 4, MinLen: 6, Div: 100, Mul: 0.621371, Round: -1},
		},
	},
	0x002: {
		Name: "Steering Angle",
		Signals: []SignalRule{
			{Signal: frame.SignalSteeringAngle, Kind: SignedMagnitudeLE16, Offset: 0, MinLen: 2, Div: 10, Round: -1},
		},
	},
	0x551: {
		Name: "Engine Temp, Cruise Control",
		Signals: []SignalRule{
			{Signal: frame.SignalEngineTemp, Kind: LinearByte, Offset: 0, MinLen: 6, Bias: -40, Round: -1},
			{Signal: frame.SignalCruiseSetpoint, Kind: LinearByte, Offset: 4, MinLen: 6, Round: -1, ZeroMeansAbsent: true},
			{Signal: frame.SignalCruiseStatus, Kind: EnumByte, Offset: 5, MinLen: 6,
				Enum: map[byte]string{2: "Active"}, Fallback: "Inactive"},
		},
	},
	0x216: {
		Name: "Clutch Position",
		Signals: []SignalRule{
			{Signal: frame.SignalClutch, Kind: EnumByte, Offset: 0, MinLen: 1,
				Enum: map[byte]string{100: "Engaged", 108: "Pressed"}},
		},
	},
	0x421: {
		Name: "Gear Position",
		Signals: []SignalRule{
			{Signal: frame.SignalGear, Kind: EnumByte, Offset: 0, MinLen: 1,
				Enum: map[byte]string{24: "Neutral", 128: "1", 16: "R"}},
		},
	},
}

// Rules returns the decode rule for an identifier, if one exists.
func Rules(id uint32) (Rule, bool) {
	r, ok := table[id]
	return r, ok
}

// KnownIDs returns every identifier with a decode rule.
func KnownIDs() []uint32 {
	ids := make([]uint32, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	return ids
}
