package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `
20000
3
8
1
a 0 512
a 1 128
f 0
a 2 16
r 1 640
f 1
f 2
a 0 1
`

func TestParse(t *testing.T) {
	tr, err := Parse(strings.NewReader(sampleTrace))
	require.NoError(t, err)

	assert.Equal(t, 20000, tr.SuggestedHeap)
	assert.Equal(t, 3, tr.IDs)
	assert.Equal(t, 1, tr.Weight)
	require.Len(t, tr.Ops, 8)

	assert.Equal(t, Op{Kind: OpAlloc, ID: 0, Size: 512}, tr.Ops[0])
	assert.Equal(t, Op{Kind: OpFree, ID: 0}, tr.Ops[2])
	assert.Equal(t, Op{Kind: OpRealloc, ID: 1, Size: 640}, tr.Ops[4])
	assert.Equal(t, Op{Kind: OpAlloc, ID: 0, Size: 1}, tr.Ops[7])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"truncated_header", "20000\n3\n"},
		{"bad_header_value", "20000\nthree\n8\n1\n"},
		{"negative_ids", "20000\n-1\n0\n1\n"},
		{"unknown_op", "0\n1\n1\n1\nx 0 10\n"},
		{"missing_size", "0\n1\n1\n1\na 0\n"},
		{"free_with_size", "0\n1\n1\n1\nf 0 10\n"},
		{"bad_id", "0\n1\n1\n1\na zero 10\n"},
		{"id_out_of_range", "0\n1\n1\n1\na 1 10\n"},
		{"negative_size", "0\n1\n1\n1\na 0 -10\n"},
		{"op_count_mismatch", "0\n1\n2\n1\na 0 10\n"},
		{"extra_ops", "0\n1\n1\n1\na 0 10\nf 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.rep")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o644))

	tr, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, tr.Ops, 8)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.rep"))
	assert.Error(t, err)
}
