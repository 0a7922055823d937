package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidLine(t *testing.T) {
	p := NewParser()

	raw, ok := p.Parse("1000.250 RX: [0180](ext) 07 D0 00 00 00 80 00 00")
	require.True(t, ok)

	assert.Equal(t, 1000.250, raw.Timestamp)
	assert.Equal(t, uint32(0x180), raw.ID)
	assert.Equal(t, "ext", raw.Kind)
	assert.Equal(t, []byte{0x07, 0xD0, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00}, raw.Data)
	assert.Equal(t, "0x180", raw.IDHex())
	assert.Equal(t, "07 D0 00 00 00 80 00 00", raw.DataHex())
}

func TestParseCaseInsensitiveHex(t *testing.T) {
	p := NewParser()

	raw, ok := p.Parse("12.500 RX: [1f9](std) ab cd")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1F9), raw.ID)
	assert.Equal(t, []byte{0xAB, 0xCD}, raw.Data)
}

func TestParseRejectsMalformedLines(t *testing.T) {
	p := NewParser()

	lines := []string{
		"",
		"garbage",
		"RX: [0180](ext) 07 D0",             // missing timestamp
		"1000 RX: [0180](ext) 07",           // integer timestamp
		"1000.250 TX: [0180](ext) 07",       // wrong direction tag
		"1000.250 RX: [zz](ext) 07",         // non-hex identifier
		"1000.250 RX: [0180](ext) 07 GG",    // non-hex payload byte
		"1000.250 RX: [0180] 07 D0",         // missing tag
		"  1000.250 RX: [0180](ext) 07 D0",  // leading whitespace not in shape
		"1000.250 RX: [0180](ext) 07 D0 123", // byte token out of range
	}

	for _, line := range lines {
		raw, ok := p.Parse(line)
		assert.False(t, ok, "expected no match for %q", line)
		assert.Nil(t, raw)
	}
}

func TestParseSkipsExtraWhitespaceBetweenBytes(t *testing.T) {
	p := NewParser()

	raw, ok := p.Parse("5.125 RX: [216](std) 64   6C  00")
	require.True(t, ok)
	assert.Equal(t, []byte{0x64, 0x6C, 0x00}, raw.Data)
}

func TestParseEmptyPayload(t *testing.T) {
	p := NewParser()

	// Trailing whitespace after the tag with no data bytes: valid frame,
	// empty payload.
	raw, ok := p.Parse("7.000 RX: [551](std) ")
	require.True(t, ok)
	assert.Empty(t, raw.Data)
	assert.Equal(t, "", raw.DataHex())
}

func TestParsePreservesOriginalText(t *testing.T) {
	p := NewParser()

	line := "1000.250 RX: [0180](ext) 07 D0 00 00 00 80 00 00\n"
	raw, ok := p.Parse(line)
	require.True(t, ok)
	assert.Equal(t, "1000.250 RX: [0180](ext) 07 D0 00 00 00 80 00 00", raw.Text)
}
