package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBasicOperations(t *testing.T) {
	buf, err := NewCircular[string](3)
	require.NoError(t, err, "Failed to create buffer")
	defer buf.Close()

	require.NoError(t, buf.Write("first"))
	assert.Equal(t, 1, buf.Size())

	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))

	assert.True(t, buf.IsFull())
	assert.False(t, buf.IsEmpty())

	item, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 3, buf.Size(), "peek must not consume")

	item, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 2, buf.Size())
}

func TestCircularDropNewestNeverExceedsCapacity(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](5,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, buf.Write(i))
		assert.LessOrEqual(t, buf.Size(), 5)
	}

	// First 5 survive, the rest were dropped on arrival
	got := buf.ReadBatch(10)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Len(t, dropped, 15)
	assert.EqualValues(t, 15, buf.Stats().Drops())
}

func TestCircularDropOldestKeepsNewest(t *testing.T) {
	buf, err := NewCircular[int](3, WithOverflowPolicy[int](DropOldest))
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{3, 4, 5}, buf.ReadBatch(3))
	assert.EqualValues(t, 3, buf.Stats().Overflows())
}

func TestCircularOrderPreserved(t *testing.T) {
	buf, err := NewCircular[int](100)
	require.NoError(t, err)
	defer buf.Close()

	for i := 0; i < 50; i++ {
		require.NoError(t, buf.Write(i))
	}
	for i := 0; i < 50; i++ {
		item, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, i, item)
	}
}

func TestReadWithTimeoutReturnsImmediatelyWhenAvailable(t *testing.T) {
	buf, err := NewCircular[string](2)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write("hello"))

	start := time.Now()
	item, ok := buf.ReadWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", item)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReadWithTimeoutExpires(t *testing.T) {
	buf, err := NewCircular[string](2)
	require.NoError(t, err)
	defer buf.Close()

	start := time.Now()
	_, ok := buf.ReadWithTimeout(50 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReadWithTimeoutWakesOnWrite(t *testing.T) {
	buf, err := NewCircular[string](2)
	require.NoError(t, err)
	defer buf.Close()

	done := make(chan string, 1)
	go func() {
		item, ok := buf.ReadWithTimeout(5 * time.Second)
		if ok {
			done <- item
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Write("late arrival"))

	select {
	case item := <-done:
		assert.Equal(t, "late arrival", item)
	case <-time.After(time.Second):
		t.Fatal("reader did not wake on write")
	}
}

func TestReadWithTimeoutWakesOnClose(t *testing.T) {
	buf, err := NewCircular[string](2)
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		_, ok := buf.ReadWithTimeout(5 * time.Second)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reader did not wake on close")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	buf, err := NewCircular[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Close())
	assert.Error(t, buf.Write(1))
}

func TestConcurrentProducerConsumer(t *testing.T) {
	buf, err := NewCircular[int](64, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)
	defer buf.Close()

	const total = 1000
	var consumed int
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, ok := buf.ReadWithTimeout(10 * time.Millisecond); ok {
				consumed++
			} else if buf.IsEmpty() && buf.Stats().Writes()+buf.Stats().Drops() >= total {
				return
			}
		}
	}()

	for i := 0; i < total; i++ {
		require.NoError(t, buf.Write(i))
		// Queue stays bounded no matter how fast the producer runs
		require.LessOrEqual(t, buf.Size(), 64)
	}

	wg.Wait()

	stats := buf.Stats()
	assert.EqualValues(t, total, stats.Writes()+stats.Drops())
	assert.EqualValues(t, consumed, stats.Reads())
}

func TestClearInvokesDropCallback(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](4, WithDropCallback[int](func(i int) { dropped = append(dropped, i) }))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, []int{1, 2}, dropped)
}

func TestDropCallbackMayReenterBuffer(t *testing.T) {
	// a callback that reads buffer state must not deadlock: callbacks run
	// after the buffer releases its lock
	var buf Buffer[int]
	var sizes []int

	buf, err := NewCircular[int](1,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(int) { sizes = append(sizes, buf.Size()) }))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.Write(2) // dropped, callback fires
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drop callback deadlocked against the buffer lock")
	}
	assert.Equal(t, []int{1}, sizes)
}

func TestClearDropCallbackMayReenterBuffer(t *testing.T) {
	var buf Buffer[int]
	var sizes []int

	buf, err := NewCircular[int](4,
		WithDropCallback[int](func(int) { sizes = append(sizes, buf.Size()) }))
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf.Clear()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("clear callback deadlocked against the buffer lock")
	}
	assert.Equal(t, []int{0, 0}, sizes)
}
