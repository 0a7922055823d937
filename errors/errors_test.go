package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrapPreservesNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "LiveSource", "Start", "connect"))
	assert.NoError(t, WrapTransient(nil, "LiveSource", "readLoop", "read"))
	assert.NoError(t, WrapInvalid(nil, "Parser", "Parse", "match"))
	assert.NoError(t, WrapFatal(nil, "Store", "Open", "open"))
}

func TestWrapFormatsContext(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "Store", "InsertRaw", "exec")
	require.Error(t, err)
	assert.Equal(t, "Store.InsertRaw: exec failed: boom", err.Error())
	assert.True(t, errors.Is(err, base))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := errors.New("disk on fire")
	err := WrapFatal(base, "Store", "Open", "open database")

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorFatal, ce.Class)
	assert.Equal(t, "Store", ce.Component)
	assert.True(t, errors.Is(err, base))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", WrapTransient(errors.New("x"), "c", "m", "a"), true},
		{"connection timeout", fmt.Errorf("read: %w", ErrConnectionTimeout), true},
		{"connection lost", ErrConnectionLost, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"timeout pattern", errors.New("i/o timeout"), true},
		{"wrapped invalid", WrapInvalid(errors.New("x"), "c", "m", "a"), false},
		{"plain", errors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(fmt.Errorf("start: %w", ErrConnectFailed)))
	assert.True(t, IsFatal(WrapFatal(errors.New("x"), "c", "m", "a")))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("meh")))
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(errors.New("never seen before")))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
}
