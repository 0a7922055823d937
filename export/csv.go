// Package export writes decoded captures to CSV for offline analysis.
//
// The column set is the four fixed frame columns followed by the sorted
// union of every signal name present in the capture. Frames missing a
// signal leave that cell empty.
package export

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/TihanPelser/370Z-CAN-Logger/errors"
	"github.com/TihanPelser/370Z-CAN-Logger/frame"
)

var fixedColumns = []string{"timestamp", "can_id", "source", "raw_data"}

// SignalColumns returns the sorted union of signal names across frames.
func SignalColumns(frames []*frame.Decoded) []string {
	seen := make(map[string]struct{})
	for _, f := range frames {
		for name := range f.Signals {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteCSV writes frames as CSV. Frame order is preserved.
func WriteCSV(w io.Writer, frames []*frame.Decoded) error {
	signals := SignalColumns(frames)
	header := append(append([]string{}, fixedColumns...), signals...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "export", "WriteCSV", "header write")
	}

	row := make([]string, len(header))
	for _, f := range frames {
		row[0] = strconv.FormatFloat(f.Timestamp, 'f', 3, 64)
		row[1] = f.IDHex()
		row[2] = f.Source
		row[3] = f.DataHex()

		for i, name := range signals {
			if v, ok := f.Signals[name]; ok {
				row[4+i] = v.String()
			} else {
				row[4+i] = ""
			}
		}

		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "export", "WriteCSV", "row write")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "export", "WriteCSV", "flush")
	}
	return nil
}

// ToFile writes frames as CSV to path, creating or truncating it.
func ToFile(path string, frames []*frame.Decoded, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.WrapInvalid(err, "export", "ToFile", "file create")
	}

	if err := WriteCSV(f, frames); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return errors.Wrap(err, "export", "ToFile", "file close")
	}

	logger.Info("capture exported", "path", path, "frames", len(frames))
	return nil
}
