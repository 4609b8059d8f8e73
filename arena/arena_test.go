package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		reserve int
		wantErr bool
	}{
		{"small", 4096, false},
		{"default_sized", DefaultReserve, false},
		{"zero", 0, true},
		{"negative", -8, true},
		{"not_multiple_of_8", 4097, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.reserve)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSbrk(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)
	assert.Zero(t, a.Size())
	assert.Equal(t, 4096, a.Reserve())

	p1 := a.Sbrk(1024)
	require.NotNil(t, p1)
	assert.Equal(t, a.Lo(), p1, "first Sbrk returns the region start")
	assert.Equal(t, 1024, a.Size())

	p2 := a.Sbrk(1024)
	require.NotNil(t, p2)
	assert.Equal(t, uintptr(1024), uintptr(p2)-uintptr(p1))
	assert.Equal(t, unsafe.Add(a.Lo(), 2047), a.Hi())

	// exhaustion leaves the break where it was
	assert.Nil(t, a.Sbrk(4096))
	assert.Equal(t, 2048, a.Size())

	// an exact fill still succeeds
	require.NotNil(t, a.Sbrk(2048))
	assert.Nil(t, a.Sbrk(8))
}

func TestSbrkNegative(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)
	assert.Nil(t, a.Sbrk(-8))
}

func TestReset(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)
	require.NotNil(t, a.Sbrk(4096))
	assert.Nil(t, a.Sbrk(8))

	a.Reset()
	assert.Zero(t, a.Size())
	require.NotNil(t, a.Sbrk(8))
}

func TestWritable(t *testing.T) {
	a, err := New(64)
	require.NoError(t, err)
	p := a.Sbrk(64)
	require.NotNil(t, p)

	b := unsafe.Slice((*byte)(p), 64)
	for i := range b {
		b[i] = byte(i)
	}
	for i := range b {
		require.Equal(t, byte(i), b[i])
	}
}
