// Package storage defines the persistence contract for capture sessions.
//
// A session groups every frame recorded during one capture or replay run.
// Implementations must be safe for use from a single writer goroutine; the
// monitor funnels all writes through its worker pool.
package storage

import (
	"context"
	"time"

	"github.com/TihanPelser/370Z-CAN-Logger/frame"
)

// Session identifies one capture run.
type Session struct {
	ID        string
	Source    string // endpoint or file the frames came from
	StartedAt time.Time
}

// Store persists raw and decoded frames keyed by session.
type Store interface {
	// CreateSession records a new capture session. Inserts for an unknown
	// session fail.
	CreateSession(ctx context.Context, s Session) error

	// InsertRaw persists one raw frame under the session.
	InsertRaw(ctx context.Context, sessionID string, f *frame.Raw) error

	// InsertDecoded persists every signal of a decoded frame under the
	// session, one row per signal.
	InsertDecoded(ctx context.Context, sessionID string, f *frame.Decoded) error

	// Close flushes and releases the store. Further inserts fail.
	Close() error
}
