package buffer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFilledMemfd(t *testing.T, size int, fill byte) *Memfd {
	t.Helper()
	m, err := NewMemfd("buffer-test", size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.WriteAt(bytes.Repeat([]byte{fill}, size), 0)
	require.NoError(t, err)
	return m
}

func TestNewHandle_Validation(t *testing.T) {
	tests := []struct {
		name   string
		planes []Plane
	}{
		{"no planes", nil},
		{"negative fd", []Plane{{FD: -1, Length: 10}}},
		{"zero length", []Plane{{FD: 3, Length: 0}}},
		{"negative offset", []Plane{{FD: 3, Offset: -4, Length: 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandle(tt.planes...)
			assert.Error(t, err)
		})
	}
}

func TestHandle_MapExposesFullLength(t *testing.T) {
	m := newFilledMemfd(t, 4096+123, 0x5a)

	v, err := m.Handle().Map()
	require.NoError(t, err)
	defer v.Close()

	b := v.Bytes()
	assert.Len(t, b, 4096+123)
	assert.Equal(t, byte(0x5a), b[0])
	assert.Equal(t, byte(0x5a), b[len(b)-1])
}

// Two planes packed in one fd map as one window spanning both.
func TestHandle_MultiPlaneSameFD(t *testing.T) {
	m := newFilledMemfd(t, 300, 0)
	_, err := m.WriteAt([]byte{1}, 200)
	require.NoError(t, err)

	h, err := NewHandle(Plane{FD: m.FD(), Offset: 0, Length: 200}, Plane{FD: m.FD(), Offset: 200, Length: 100})
	require.NoError(t, err)
	assert.True(t, h.Contiguous())
	assert.Equal(t, 300, h.Len())

	data, err := h.Copy()
	require.NoError(t, err)
	assert.Len(t, data, 300)
	assert.Equal(t, byte(1), data[200])
}

func TestHandle_NonContiguous(t *testing.T) {
	a := newFilledMemfd(t, 64, 1)
	b := newFilledMemfd(t, 64, 2)

	h, err := NewHandle(Plane{FD: a.FD(), Length: 64}, Plane{FD: b.FD(), Length: 64})
	require.NoError(t, err)
	assert.False(t, h.Contiguous())

	_, err = h.Map()
	assert.ErrorIs(t, err, ErrNonContiguous)

	called := false
	err = h.With(func([]byte) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrNonContiguous)
	assert.False(t, called)
}

func TestHandle_WithPropagatesCallbackError(t *testing.T) {
	m := newFilledMemfd(t, 32, 7)
	boom := errors.New("boom")

	err := m.Handle().With(func(b []byte) error {
		assert.Equal(t, byte(7), b[31])
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestHandle_CopyIsOwned(t *testing.T) {
	m := newFilledMemfd(t, 16, 9)

	data, err := m.Handle().Copy()
	require.NoError(t, err)

	_, err = m.WriteAt(bytes.Repeat([]byte{0}, 16), 0)
	require.NoError(t, err)
	assert.Equal(t, byte(9), data[0], "copy must not alias the shared mapping")
}

func TestView_CloseTwice(t *testing.T) {
	m := newFilledMemfd(t, 16, 0)
	v, err := m.Handle().Map()
	require.NoError(t, err)

	assert.NoError(t, v.Close())
	assert.NoError(t, v.Close())
	assert.Nil(t, v.Bytes())
}
