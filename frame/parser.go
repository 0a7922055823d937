package frame

import (
	"regexp"
	"strconv"
	"strings"
)

// linePattern is the fixed shape of one adapter output line:
//
//	<float seconds> RX: [<hex identifier>](<tag>) <space-separated hex bytes>
//
// Identifier and payload bytes are hexadecimal without an 0x prefix,
// case-insensitive.
var linePattern = regexp.MustCompile(`^(\d+\.\d+)\s+RX:\s+\[([0-9A-Fa-f]+)\]\((\w+)\)\s+(.*)`)

// Parser turns textual adapter output into Raw frames.
//
// Parse is a pure function; the type exists so call sites can hold one
// alongside a Decoder and to leave room for per-transport line shapes later.
type Parser struct{}

// NewParser creates a line parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses one line of adapter output. Malformed or partial lines are
// common on a live transport, so failure to match is not an error: Parse
// returns (nil, false) and the caller moves on to the next line.
func (p *Parser) Parse(line string) (*Raw, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	ts, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}

	id, err := strconv.ParseUint(m[2], 16, 32)
	if err != nil {
		return nil, false
	}

	var data []byte
	for _, tok := range strings.Fields(m[4]) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			// empty tokens are skipped, not treated as zero
			continue
		}
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, false
		}
		data = append(data, byte(b))
	}

	return &Raw{
		Timestamp: ts,
		ID:        uint32(id),
		Kind:      m[3],
		Data:      data,
		Text:      strings.TrimSpace(line),
	}, true
}
