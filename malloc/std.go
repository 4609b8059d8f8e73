package malloc

import (
	"github.com/sirupsen/logrus"

	"github.com/memkit/segalloc/arena"
)

// std backs the package-level API: one allocator over a default-sized arena,
// initialized on first use like the rest of them.
var std = &Allocator{
	reserve: arena.DefaultReserve,
	log:     logrus.StandardLogger(),
}

// Default returns the allocator behind the package-level functions.
func Default() *Allocator { return std }

// Malloc allocates from the default allocator.
func Malloc(size int) []byte { return std.Malloc(size) }

// Free returns a block to the default allocator.
func Free(block []byte) { std.Free(block) }

// Realloc resizes a block of the default allocator.
func Realloc(block []byte, size int) []byte { return std.Realloc(block, size) }

// Calloc allocates zero-filled memory from the default allocator.
func Calloc(n, size int) []byte { return std.Calloc(n, size) }

// CheckHeap validates the default allocator's heap.
func CheckHeap(lineno int) { std.CheckHeap(lineno) }
