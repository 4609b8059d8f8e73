package malloc

// The segregated index is ten doubly linked lists, one per size class, each
// sorted by ascending block size. The roots are ten 8-byte cells at the very
// start of the heap; a root stores only a forward reference, so insert and
// remove both special-case the head of a list.

// bucketIndex maps a block size to its size class.
func bucketIndex(size int) int {
	switch {
	case size <= 32:
		return 0
	case size <= 64:
		return 1
	case size <= 128:
		return 2
	case size <= 256:
		return 3
	case size <= 512:
		return 4
	case size <= 1024:
		return 5
	case size <= 2048:
		return 6
	case size <= 4096:
		return 7
	case size <= 8192:
		return 8
	default:
		return 9
	}
}

func (a *Allocator) loadRoot(idx int) int { return int(a.dword(idx * dwordSize)) }

func (a *Allocator) storeRoot(idx, bp int) { a.putDword(idx*dwordSize, uint64(bp)) }

// insertBlock links a free block into its bucket, keeping the list sorted
// non-decreasingly by size. The block's header must already carry its final
// size; its alloc flags are not touched.
func (a *Allocator) insertBlock(bp int) {
	size := a.blockSize(bp)
	idx := bucketIndex(size)

	prev, next := 0, a.loadRoot(idx)
	for next != 0 && a.blockSize(next) < size {
		prev, next = next, a.nextLink(next)
	}

	switch {
	case prev == 0 && next == 0:
		// only block in the bucket
		a.storeRoot(idx, bp)
		a.setPrevLink(bp, 0)
		a.setNextLink(bp, 0)
	case prev != 0 && next == 0:
		// tail
		a.setPrevLink(bp, prev)
		a.setNextLink(bp, 0)
		a.setNextLink(prev, bp)
	case prev == 0 && next != 0:
		// new head
		a.storeRoot(idx, bp)
		a.setPrevLink(bp, 0)
		a.setNextLink(bp, next)
		a.setPrevLink(next, bp)
	default:
		// middle
		a.setPrevLink(bp, prev)
		a.setNextLink(bp, next)
		a.setNextLink(prev, bp)
		a.setPrevLink(next, bp)
	}
}

// removeBlock unlinks a free block from its bucket and clears its links.
// The header/footer and alloc flags are not touched.
func (a *Allocator) removeBlock(bp int) {
	prev, next := a.prevLink(bp), a.nextLink(bp)

	a.setPrevLink(bp, 0)
	a.setNextLink(bp, 0)

	switch {
	case prev == 0 && next == 0:
		a.storeRoot(bucketIndex(a.blockSize(bp)), 0)
	case prev != 0 && next == 0:
		a.setNextLink(prev, 0)
	case prev == 0 && next != 0:
		a.setPrevLink(next, 0)
		a.storeRoot(bucketIndex(a.blockSize(bp)), next)
	default:
		a.setPrevLink(next, prev)
		a.setNextLink(prev, next)
	}
}
