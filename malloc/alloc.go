// Package malloc implements a segregated-fit dynamic allocator over a
// contiguous, grow-only arena. Blocks carry a 4-byte size+flags header; only
// free blocks carry a footer, with a prev-alloc header bit standing in for
// the missing footer of an allocated predecessor. Free blocks are indexed by
// ten size-class buckets, each a size-sorted intrusive doubly linked list,
// so first-fit within a bucket is best-fit within it.
package malloc

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/memkit/segalloc/arena"
)

// Heap prefix layout, in double-words from the arena start:
// 0..9 the bucket roots, 10 a pad word plus the prologue header, 11 the
// prologue footer plus the epilogue header. The prologue and epilogue are
// permanently allocated sentinels; coalescing and traversal never pass them.
const (
	prologueOff = 11 * dwordSize // payload offset of the prologue block
	prefixSize  = 12 * dwordSize
)

// Allocator manages one private arena. It is not safe for concurrent use.
type Allocator struct {
	mem  *arena.Arena
	base unsafe.Pointer // cached arena start, set by Init

	// heapStart is the prologue payload offset once initialized, 0 before.
	heapStart int

	reserve int
	log     *logrus.Logger
}

// New returns an allocator whose arena reserves the given number of bytes.
// The reserve is claimed lazily: nothing is allocated until Init or the
// first Malloc. It must be a multiple of 8 and large enough for the heap
// prefix plus one initial extension.
func New(reserve int) (*Allocator, error) {
	if reserve < prefixSize+chunkSize {
		return nil, fmt.Errorf("malloc: reserve must be at least %d bytes, got %d", prefixSize+chunkSize, reserve)
	}
	if reserve%alignment != 0 {
		return nil, fmt.Errorf("malloc: reserve must be a multiple of %d, got %d", alignment, reserve)
	}
	return &Allocator{
		reserve: reserve,
		log:     logrus.StandardLogger(),
	}, nil
}

// SetLogger redirects the integrity checker's diagnostics.
func (a *Allocator) SetLogger(log *logrus.Logger) { a.log = log }

// Init claims the arena, lays out the bucket roots and the prologue/epilogue
// sentinels, and extends the heap by one chunk. Malloc runs it on first use;
// calling it on an initialized allocator reinitializes from scratch.
func (a *Allocator) Init() error {
	if a.mem == nil {
		m, err := arena.New(a.reserve)
		if err != nil {
			return err
		}
		a.mem = m
	}
	a.mem.Reset()
	a.heapStart = 0

	p := a.mem.Sbrk(prefixSize)
	if p == nil {
		return fmt.Errorf("malloc: arena reserve %d cannot hold the heap prefix", a.reserve)
	}
	a.base = p

	for i := 0; i < numBuckets; i++ {
		a.storeRoot(i, 0)
	}
	// pad word, prologue header, prologue footer, epilogue header
	a.putWord(10*dwordSize, 0)
	a.putWord(10*dwordSize+wordSize, pack(dwordSize, allocBit))
	a.putWord(11*dwordSize, pack(dwordSize, allocBit))
	a.putWord(11*dwordSize+wordSize, pack(0, allocBit|prevAllocBit))

	a.heapStart = prologueOff

	if a.extendHeap(chunkSize/wordSize) == 0 {
		a.heapStart = 0
		return fmt.Errorf("malloc: arena reserve %d cannot hold the initial chunk", a.reserve)
	}
	return nil
}

// Malloc returns an arena-backed slice of len size, or nil when size is
// non-positive or the arena is exhausted. The slice's cap is the block's
// payload capacity; the payload pointer is 8-byte aligned.
func (a *Allocator) Malloc(size int) []byte {
	if a.heapStart == 0 {
		if a.Init() != nil {
			return nil
		}
	}
	if size <= 0 {
		return nil
	}

	asize := alignRequest(size)
	bp := a.findFit(asize)
	if bp == 0 {
		ext := asize
		if ext < chunkSize {
			ext = chunkSize
		}
		if bp = a.extendHeap(ext / wordSize); bp == 0 {
			return nil
		}
	}
	a.place(bp, asize)
	return a.payload(bp, size)
}

// Free returns a block to the allocator and merges it with any free
// neighbor. A nil or zero-cap slice is a no-op.
//
// The slice must be one returned by Malloc, Realloc, or Calloc (reslicing
// the front off before freeing corrupts the offset recovery, as does passing
// memory the allocator never handed out). Panics when the block can be
// proven invalid: out of heap, misaligned, already free, or with a mangled
// header.
func (a *Allocator) Free(block []byte) {
	if cap(block) == 0 {
		return
	}
	bp := a.blockOffset(block)
	size := a.blockSize(bp)
	next := a.nextBlock(bp)

	// clear the alloc bit, keep size and prev-alloc, mirror into the footer
	a.putWord(bp-wordSize, pack(size, a.header(bp)&prevAllocBit))
	a.putWord(a.footerOff(bp), a.header(bp))

	a.setPrevLink(bp, 0)
	a.setNextLink(bp, 0)

	// the successor's predecessor is now free
	a.putWord(next-wordSize, a.header(next)&^prevAllocBit)

	a.coalesce(bp)
}

// Realloc resizes an allocation, moving it. A zero size frees the block and
// returns nil; a nil block delegates to Malloc. On failure the old block is
// left untouched and nil is returned. The first min(size, old payload
// capacity) bytes are preserved.
//
// The old payload capacity is the header size minus the header word. (The
// original reference implementation read an 8-byte word at p-8 here, which
// overlays the header with unrelated payload bytes; the header read is the
// intended semantics.)
func (a *Allocator) Realloc(block []byte, size int) []byte {
	if size <= 0 {
		a.Free(block)
		return nil
	}
	if cap(block) == 0 {
		return a.Malloc(size)
	}

	newBlock := a.Malloc(size)
	if newBlock == nil {
		return nil
	}

	bp := a.blockOffset(block)
	old := unsafe.Slice((*byte)(unsafe.Add(a.base, bp)), a.blockSize(bp)-wordSize)
	copy(newBlock, old)

	a.Free(block)
	return newBlock
}

// Calloc allocates n*size bytes, zero-filled. Returns nil on overflow, on a
// zero or negative count, or when the arena is exhausted.
func (a *Allocator) Calloc(n, size int) []byte {
	if n < 0 || size < 0 {
		return nil
	}
	hi, total := bits.Mul64(uint64(n), uint64(size))
	if hi != 0 || total >= 1<<31 {
		// block sizes share a 32-bit word with the flag bits
		return nil
	}
	b := a.Malloc(int(total))
	if b == nil {
		return nil
	}
	for i := range b {
		b[i] = 0
	}
	return b
}

// Available returns the total payload bytes sitting on the free lists.
func (a *Allocator) Available() int {
	if a.heapStart == 0 {
		return 0
	}
	total := 0
	for i := 0; i < numBuckets; i++ {
		for bp := a.loadRoot(i); bp != 0; bp = a.nextLink(bp) {
			total += a.blockSize(bp) - wordSize
		}
	}
	return total
}

// Reset tears the allocator back to the uninitialized state and rewinds the
// arena. All outstanding blocks are invalidated.
func (a *Allocator) Reset() {
	if a.mem != nil {
		a.mem.Reset()
	}
	a.heapStart = 0
}

// extendHeap grows the heap by words*4 bytes (padded to an even word count),
// rewrites the epilogue as a free block carrying the old epilogue's
// prev-alloc bit, installs a fresh epilogue at the new end, and coalesces
// the block with a free last block. Returns the final free block's payload
// offset, or 0 when the arena refuses to grow.
func (a *Allocator) extendHeap(words int) int {
	if words&1 != 0 {
		words++
	}
	size := words * wordSize

	bp := a.mem.Size() // old break == old epilogue payload offset
	if a.mem.Sbrk(size) == nil {
		return 0
	}

	a.putWord(bp-wordSize, pack(size, a.header(bp)&prevAllocBit))
	a.putWord(a.footerOff(bp), a.header(bp))
	a.putWord(bp+size-wordSize, pack(0, allocBit)) // new epilogue

	a.setPrevLink(bp, 0)
	a.setNextLink(bp, 0)

	return a.coalesce(bp)
}

// coalesce merges a free block with its free neighbors, keeping headers,
// footers, and the bucket index coherent, then files the result in its
// bucket. bp's header must already report the block free with an accurate
// prev-alloc bit. Returns the payload offset of the merged block.
func (a *Allocator) coalesce(bp int) int {
	next := a.nextBlock(bp)
	prevAlloc := a.prevAllocated(bp)
	nextAlloc := a.allocated(next)
	size := a.blockSize(bp)

	switch {
	case prevAlloc && nextAlloc:
		// neighbors allocated, nothing to merge

	case prevAlloc && !nextAlloc:
		a.removeBlock(next)
		size += a.blockSize(next)
		a.putWord(bp-wordSize, pack(size, prevAllocBit))
		a.putWord(a.footerOff(bp), a.header(bp))

	case !prevAlloc && nextAlloc:
		prev := a.prevBlock(bp)
		a.removeBlock(prev)
		size += a.blockSize(prev)
		bp = prev
		a.putWord(bp-wordSize, pack(size, a.header(bp)&prevAllocBit))
		a.putWord(a.footerOff(bp), a.header(bp))

	default:
		prev := a.prevBlock(bp)
		a.removeBlock(prev)
		a.removeBlock(next)
		size += a.blockSize(prev) + a.blockSize(next)
		bp = prev
		a.putWord(bp-wordSize, pack(size, a.header(bp)&prevAllocBit))
		a.putWord(a.footerOff(bp), a.header(bp))
	}

	a.insertBlock(bp)
	return bp
}

// findFit scans the segregated index for the first block of at least asize
// bytes, starting at the minimum adequate bucket. Buckets are size-sorted,
// so the first fit within a bucket is also the best fit within it. Returns
// 0 when no bucket has a block large enough.
func (a *Allocator) findFit(asize int) int {
	for idx := bucketIndex(asize); idx < numBuckets; idx++ {
		for bp := a.loadRoot(idx); bp != 0; bp = a.nextLink(bp) {
			if a.blockSize(bp) >= asize {
				return bp
			}
		}
	}
	return 0
}

// place allocates asize bytes out of the free block bp, splitting off the
// remainder as a new free block when it can stand on its own.
func (a *Allocator) place(bp, asize int) {
	csize := a.blockSize(bp)
	a.removeBlock(bp)

	if rsize := csize - asize; rsize >= minBlockSize {
		a.putWord(bp-wordSize, pack(asize, a.header(bp)&prevAllocBit|allocBit))

		rp := a.nextBlock(bp)
		a.putWord(rp-wordSize, pack(rsize, prevAllocBit))
		a.putWord(a.footerOff(rp), a.header(rp))
		a.setPrevLink(rp, 0)
		a.setNextLink(rp, 0)
		a.insertBlock(rp)
	} else {
		a.putWord(bp-wordSize, pack(csize, a.header(bp)&prevAllocBit|allocBit))

		next := a.nextBlock(bp)
		a.putWord(next-wordSize, a.header(next)|prevAllocBit)
		if !a.allocated(next) {
			a.putWord(a.footerOff(next), a.header(next))
		}
	}
}

// payload builds the client slice for an allocated block: len is the
// request, cap the payload capacity (block size minus the header word; an
// allocated block has no footer, so the last word is usable).
func (a *Allocator) payload(bp, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(a.base, bp)), a.blockSize(bp)-wordSize)[:size]
}

// blockOffset recovers a block's payload offset from a client slice and
// validates it. Panics on anything provably not a live allocation of this
// heap.
func (a *Allocator) blockOffset(block []byte) int {
	if a.heapStart == 0 {
		panic("malloc: block not in heap")
	}
	dataPtr := *(*uintptr)(unsafe.Pointer(&block))
	off := int(dataPtr - uintptr(a.base))
	if off < prologueOff+dwordSize || off >= a.mem.Size() {
		panic("malloc: block not in heap")
	}
	if off&(alignment-1) != 0 {
		panic("malloc: misaligned block")
	}
	if a.header(off)&allocBit == 0 {
		panic("malloc: double free or invalid block")
	}
	size := int(a.header(off) & sizeMask)
	if size < minBlockSize || size%alignment != 0 || off+size-wordSize > a.mem.Size() {
		panic("malloc: corrupted block header")
	}
	return off
}
