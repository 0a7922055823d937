// Package catalog loads the identifier descriptor file mapping arbitration
// identifiers to human-readable source names and expected frequencies.
//
// The catalog is purely additive metadata: decoding is correct with an empty
// catalog, every identifier just reports "Unknown". It is read-only after
// load and safe for concurrent lookup.
package catalog

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
)

// Meta is the descriptor row for one identifier.
type Meta struct {
	Source    string
	Frequency string
	DataBytes string
}

// Catalog maps arbitration identifiers to their descriptor metadata.
type Catalog struct {
	entries map[uint32]Meta
}

// Empty returns a catalog with no entries.
func Empty() *Catalog {
	return &Catalog{entries: make(map[uint32]Meta)}
}

// Load reads a semicolon-delimited descriptor file:
//
//	identifier(hex);source_name;expected_frequency;data_byte_count
//
// The header row is skipped and identifiers are parsed as hexadecimal with
// an optional 0x prefix. Malformed rows are skipped, not fatal. A missing or
// unreadable file degrades to an empty catalog: the error is logged once and
// Load still returns a usable catalog.
func Load(path string, logger *slog.Logger) *Catalog {
	f, err := os.Open(path)
	if err != nil {
		if logger != nil {
			logger.Warn("Could not load identifier catalog, continuing without it",
				"path", path,
				"error", err)
		}
		return Empty()
	}
	defer f.Close()

	cat, err := Read(f)
	if err != nil {
		if logger != nil {
			logger.Warn("Identifier catalog unreadable, continuing without it",
				"path", path,
				"error", err)
		}
		return Empty()
	}

	if logger != nil {
		logger.Info("Loaded identifier catalog", "path", path, "identifiers", cat.Len())
	}
	return cat
}

// Read parses descriptor rows from r. Unlike Load it surfaces read errors so
// callers with in-memory descriptors can distinguish bad input from empty.
func Read(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1 // rows are validated per record below

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Read", "descriptor parsing")
	}

	cat := Empty()
	for i, row := range rows {
		if i == 0 {
			// header row
			continue
		}
		if len(row) < 4 {
			continue
		}

		idText := strings.ToLower(strings.TrimSpace(row[0]))
		idText = strings.TrimPrefix(idText, "0x")
		id, err := strconv.ParseUint(idText, 16, 32)
		if err != nil {
			continue
		}

		cat.entries[uint32(id)] = Meta{
			Source:    strings.TrimSpace(row[1]),
			Frequency: strings.TrimSpace(row[2]),
			DataBytes: strings.TrimSpace(row[3]),
		}
	}

	return cat, nil
}

// Lookup returns the metadata for an identifier, if present.
func (c *Catalog) Lookup(id uint32) (Meta, bool) {
	m, ok := c.entries[id]
	return m, ok
}

// Len returns the number of catalogued identifiers.
func (c *Catalog) Len() int {
	return len(c.entries)
}
