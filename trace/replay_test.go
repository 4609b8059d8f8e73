package trace

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkit/segalloc/malloc"
)

func mustParse(t *testing.T, s string) *Trace {
	t.Helper()
	tr, err := Parse(strings.NewReader(s))
	require.NoError(t, err)
	return tr
}

func newReplayAlloc(t *testing.T) *malloc.Allocator {
	t.Helper()
	a, err := malloc.New(1 << 20)
	require.NoError(t, err)
	return a
}

func TestReplay(t *testing.T) {
	tr := mustParse(t, sampleTrace)
	a := newReplayAlloc(t)

	res, err := tr.Replay(a, ReplayOptions{CheckInterval: 1})
	require.NoError(t, err)

	assert.Equal(t, 8, res.Ops)
	assert.Equal(t, 4, res.Allocs)
	assert.Equal(t, 1, res.Reallocs)
	assert.Equal(t, 3, res.Frees)
	assert.Equal(t, 1, res.LiveAtEnd)
	assert.Equal(t, 656, res.PeakBytes) // 128 live + 16 live + 512 at realloc
	assert.Empty(t, res.Failures)
}

func TestReplayChurn(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("0\n64\n256\n1\n")
	// allocate 64 ids of mixed sizes, resize them, then free in reverse
	for i := 0; i < 64; i++ {
		fmt.Fprintf(&sb, "a %d %d\n", i, 1+(i*97)%700)
	}
	for i := 63; i >= 0; i-- {
		fmt.Fprintf(&sb, "r %d %d\n", i, 1+(i*53)%300)
	}
	for i := 63; i >= 0; i-- {
		fmt.Fprintf(&sb, "f %d\n", i)
	}

	tr := mustParse(t, sb.String())
	a := newReplayAlloc(t)

	res, err := tr.Replay(a, ReplayOptions{CheckInterval: 16})
	require.NoError(t, err)
	assert.Equal(t, 256, res.Ops)
	assert.Zero(t, res.LiveAtEnd)
	assert.Empty(t, res.Failures)
}

func TestReplayZeroSizeOps(t *testing.T) {
	tr := mustParse(t, "0\n2\n5\n1\na 0 0\nf 0\na 1 100\nr 1 0\nf 1\n")
	a := newReplayAlloc(t)

	res, err := tr.Replay(a, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Ops)
	assert.Zero(t, res.LiveAtEnd)
	assert.Empty(t, res.Failures)
}

func TestReplayRejectsDoubleAlloc(t *testing.T) {
	tr := mustParse(t, "0\n1\n2\n1\na 0 10\na 0 10\n")
	a := newReplayAlloc(t)

	_, err := tr.Replay(a, ReplayOptions{})
	assert.Error(t, err)
}

func TestReplayOutOfMemory(t *testing.T) {
	tr := mustParse(t, "0\n1\n1\n1\na 0 1000000\n")
	a, err := malloc.New(8192)
	require.NoError(t, err)

	_, err = tr.Replay(a, ReplayOptions{})
	assert.Error(t, err)
}
