package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TihanPelser/370Z-CAN-Logger/frame"
	"github.com/TihanPelser/370Z-CAN-Logger/storage"
)

// chanSource feeds frames through a channel, ending when it closes.
type chanSource struct {
	ch chan *frame.Raw
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan *frame.Raw, 64)}
}

func (s *chanSource) Next(timeout time.Duration) (*frame.Raw, bool) {
	select {
	case f, ok := <-s.ch:
		return f, ok
	case <-time.After(timeout):
		return nil, false
	}
}

// closedSource behaves like a source whose queue has been closed: Next
// returns false without waiting. Calls are counted.
type closedSource struct {
	calls atomic.Int64
}

func (s *closedSource) Next(time.Duration) (*frame.Raw, bool) {
	s.calls.Add(1)
	return nil, false
}

// memStore records inserts for assertions.
type memStore struct {
	mu       sync.Mutex
	sessions []storage.Session
	raw      []*frame.Raw
	decoded  []*frame.Decoded
	failRaw  bool
}

func (s *memStore) CreateSession(_ context.Context, sess storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *memStore) InsertRaw(_ context.Context, _ string, f *frame.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRaw {
		return fmt.Errorf("disk full")
	}
	s.raw = append(s.raw, f)
	return nil
}

func (s *memStore) InsertDecoded(_ context.Context, _ string, f *frame.Decoded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoded = append(s.decoded, f)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.raw), len(s.decoded)
}

func rpmFrame(ts float64, rpmRaw uint16) *frame.Raw {
	return &frame.Raw{
		Timestamp: ts,
		ID:        0x180,
		Kind:      "std",
		Data:      []byte{byte(rpmRaw >> 8), byte(rpmRaw), 0, 0, 0, 0, 0, 0},
	}
}

func TestProcessUpdatesState(t *testing.T) {
	m, err := New(Deps{})
	require.NoError(t, err)

	m.Process(context.Background(), rpmFrame(1.0, 2000)) // 250 rpm
	m.Process(context.Background(), rpmFrame(2.0, 4000)) // 500 rpm

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.FramesSeen)
	assert.Equal(t, int64(2), snap.FrameCounts[0x180])

	sample, ok := snap.Latest[frame.SignalRPM]
	require.True(t, ok)
	rpm, _ := sample.Value.Float()
	assert.Equal(t, 500.0, rpm)
	assert.Equal(t, 2.0, sample.Timestamp)
}

func TestSnapshotIsACopy(t *testing.T) {
	m, err := New(Deps{})
	require.NoError(t, err)

	m.Process(context.Background(), rpmFrame(1.0, 2000))
	snap := m.Snapshot()
	snap.FrameCounts[0x180] = 999
	delete(snap.Latest, frame.SignalRPM)

	fresh := m.Snapshot()
	assert.Equal(t, int64(1), fresh.FrameCounts[0x180])
	_, ok := fresh.Latest[frame.SignalRPM]
	assert.True(t, ok)
}

func TestHistoryIsBounded(t *testing.T) {
	m, err := New(Deps{HistoryDepth: 3})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		m.Process(context.Background(), rpmFrame(float64(i), uint16(i*8)))
	}

	h := m.History(0x180)
	require.Len(t, h, 3)
	assert.Equal(t, 7.0, h[0].Timestamp)
	assert.Equal(t, 9.0, h[2].Timestamp)
}

func TestDrainLoopProcessesSourceFrames(t *testing.T) {
	src := newChanSource()
	m, err := New(Deps{Source: src})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Stop(time.Second) }()

	src.ch <- rpmFrame(1.0, 2000)
	src.ch <- rpmFrame(2.0, 2400)

	require.Eventually(t, func() bool {
		return m.Snapshot().FramesSeen == 2
	}, time.Second, 10*time.Millisecond)
}

func TestDrainLoopPacesAClosedSource(t *testing.T) {
	src := &closedSource{}
	m, err := New(Deps{Source: src})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))

	time.Sleep(350 * time.Millisecond)
	require.NoError(t, m.Stop(time.Second))

	// one poll per drain interval, not a spin
	assert.LessOrEqual(t, src.calls.Load(), int64(10))
}

func TestSinkReceivesDecodedFrames(t *testing.T) {
	var mu sync.Mutex
	var seen []uint32
	sink := SinkFunc(func(_ context.Context, f *frame.Decoded) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, f.ID)
		return nil
	})

	m, err := New(Deps{Sinks: []Sink{sink}})
	require.NoError(t, err)

	m.Process(context.Background(), rpmFrame(1.0, 2000))
	m.Process(context.Background(), &frame.Raw{Timestamp: 2.0, ID: 0x421, Data: []byte{24}})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{0x180, 0x421}, seen)
}

func TestSinkErrorsAreCountedNotFatal(t *testing.T) {
	sink := SinkFunc(func(context.Context, *frame.Decoded) error {
		return fmt.Errorf("client gone")
	})

	m, err := New(Deps{Sinks: []Sink{sink}})
	require.NoError(t, err)

	m.Process(context.Background(), rpmFrame(1.0, 2000))
	m.Process(context.Background(), rpmFrame(2.0, 2000))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.FramesSeen)
	assert.Equal(t, int64(2), snap.SinkErrors)
}

func TestPersistenceThroughWorkerPool(t *testing.T) {
	store := &memStore{}
	src := newChanSource()
	m, err := New(Deps{Source: src, Store: store, SessionSource: "test://capture"})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	src.ch <- rpmFrame(1.0, 2000)

	require.Eventually(t, func() bool {
		nRaw, nDecoded := store.counts()
		return nRaw == 1 && nDecoded == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(time.Second))

	require.Len(t, store.sessions, 1)
	assert.Equal(t, m.Session().ID, store.sessions[0].ID)
	assert.Equal(t, "test://capture", store.sessions[0].Source)
}

func TestStoreErrorsAreCounted(t *testing.T) {
	store := &memStore{failRaw: true}
	m, err := New(Deps{Store: store})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	m.Process(context.Background(), rpmFrame(1.0, 2000))

	require.Eventually(t, func() bool {
		return m.Snapshot().StoreErrors > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(time.Second))
}

func TestSessionIDsAreUnique(t *testing.T) {
	a, err := New(Deps{})
	require.NoError(t, err)
	b, err := New(Deps{})
	require.NoError(t, err)

	assert.NotEmpty(t, a.Session().ID)
	assert.NotEqual(t, a.Session().ID, b.Session().ID)
}

func TestStopIsIdempotent(t *testing.T) {
	src := newChanSource()
	m, err := New(Deps{Source: src})
	require.NoError(t, err)

	require.NoError(t, m.Stop(time.Second)) // before Start
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second))
	assert.False(t, m.Running())
}
