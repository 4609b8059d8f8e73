// Package arena provides the heap extension primitive underneath the
// allocator: a contiguous region that is reserved once and can only grow.
package arena

import (
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// DefaultReserve is the default reservation size (20MB).
const DefaultReserve = 20 << 20

// Arena is a contiguous memory region with a break pointer. The region is
// reserved in full at construction; Sbrk only moves the break within it.
// The bytes beyond the break are uninitialized: callers must not rely on
// the region being zeroed.
type Arena struct {
	buf   []byte
	start unsafe.Pointer
	brk   int
}

// New reserves a contiguous region of the given size.
// The reserve must be positive and a multiple of 8.
func New(reserve int) (*Arena, error) {
	if reserve <= 0 {
		return nil, fmt.Errorf("arena: reserve must be positive, got %d", reserve)
	}
	if reserve%8 != 0 {
		return nil, fmt.Errorf("arena: reserve must be a multiple of 8, got %d", reserve)
	}
	buf := dirtmake.Bytes(reserve, reserve)
	return &Arena{
		buf:   buf,
		start: unsafe.Pointer(&buf[0]),
	}, nil
}

// Sbrk extends the in-use region by incr bytes and returns a pointer to the
// old break (the first byte of the new region). It returns nil when the
// reservation is exhausted.
func (a *Arena) Sbrk(incr int) unsafe.Pointer {
	if incr < 0 || a.brk+incr > len(a.buf) {
		return nil
	}
	p := unsafe.Add(a.start, a.brk)
	a.brk += incr
	return p
}

// Lo returns the first byte of the region.
func (a *Arena) Lo() unsafe.Pointer { return a.start }

// Hi returns the last in-use byte of the region.
// It is only meaningful after at least one successful Sbrk.
func (a *Arena) Hi() unsafe.Pointer { return unsafe.Add(a.start, a.brk-1) }

// Size returns the number of bytes in use.
func (a *Arena) Size() int { return a.brk }

// Reserve returns the total reserved size.
func (a *Arena) Reserve() int { return len(a.buf) }

// Reset rewinds the break to the start of the region. The contents are left
// as-is; a subsequent Sbrk hands back the same dirty bytes.
func (a *Arena) Reset() { a.brk = 0 }
