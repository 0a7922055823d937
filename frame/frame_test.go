package frame

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueNumber(t *testing.T) {
	v := Number(250.0)
	assert.Equal(t, KindNumber, v.Kind())

	f, ok := v.Float()
	require.True(t, ok)
	assert.Equal(t, 250.0, f)
	assert.Equal(t, "250", v.String())
}

func TestValueCategory(t *testing.T) {
	v := Category("Neutral")
	assert.Equal(t, KindCategory, v.Kind())

	_, ok := v.Float()
	assert.False(t, ok)
	assert.Equal(t, "Neutral", v.String())
}

func TestValueJSON(t *testing.T) {
	m := map[string]Value{
		"rpm":  Number(812.5),
		"gear": Category("R"),
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rpm":812.5,"gear":"R"}`, string(data))
}

func TestDecodedSignalLookup(t *testing.T) {
	d := &Decoded{
		Raw:     Raw{ID: 0x421},
		Signals: map[string]Value{SignalGear: Category("1")},
	}

	v, ok := d.Signal(SignalGear)
	require.True(t, ok)
	assert.Equal(t, "1", v.String())

	_, ok = d.Signal(SignalRPM)
	assert.False(t, ok)
}
