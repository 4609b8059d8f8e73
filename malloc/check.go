package malloc

import "fmt"

// CheckHeap validates the heap and the segregated index, reporting every
// violation through the allocator's logger. It mutates nothing. The lineno
// tags the report with the call site, in the tradition of trace-driven
// allocator debugging.
func (a *Allocator) CheckHeap(lineno int) {
	for _, msg := range a.check() {
		a.log.Errorf("checkheap:%d: %s", lineno, msg)
	}
}

// check walks the heap from the prologue to the epilogue, then every bucket,
// and returns one message per violation found:
//
//   - block sizes are multiples of 8 and at least the minimum block
//   - payload offsets are 8-byte aligned and inside the heap
//   - a free block's header and footer agree bit-for-bit
//   - every prev-alloc bit equals the predecessor's alloc bit
//   - no two adjacent blocks are both free
//   - every free block sits in exactly the bucket for its size, every bucket
//     entry is a free heap block, lists are size-sorted and their links are
//     mutually consistent
func (a *Allocator) check() []string {
	if a.heapStart == 0 {
		return nil
	}
	var violations []string
	report := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	hi := a.mem.Size()

	if a.header(a.heapStart) != pack(dwordSize, allocBit) {
		report("prologue header corrupted: %#x", a.header(a.heapStart))
	}

	// heap walk
	freeSeen := make(map[int]bool) // payload offset -> found in a bucket
	prevAlloc := true              // the prologue is allocated
	prevBp := a.heapStart
	for bp := a.nextBlock(a.heapStart); ; {
		if bp < prologueOff+dwordSize || bp > hi {
			report("block %#x out of heap bounds", bp)
			break
		}
		h := a.header(bp)
		size := int(h & sizeMask)

		if size == 0 { // epilogue
			if h&allocBit == 0 {
				report("epilogue at %#x not marked allocated", bp)
			}
			if bp != hi {
				report("epilogue at %#x is not at the heap end %#x", bp, hi)
			}
			if (h&prevAllocBit != 0) != prevAlloc {
				report("epilogue prev-alloc bit disagrees with block %#x", prevBp)
			}
			break
		}

		if bp%alignment != 0 {
			report("block %#x payload misaligned", bp)
		}
		if size%alignment != 0 || size < minBlockSize {
			report("block %#x has invalid size %d", bp, size)
			break // size arithmetic is untrustworthy from here
		}

		alloc := h&allocBit != 0
		if (h&prevAllocBit != 0) != prevAlloc {
			report("block %#x prev-alloc bit disagrees with block %#x", bp, prevBp)
		}
		if !alloc {
			if !prevAlloc {
				report("blocks %#x and %#x are both free", prevBp, bp)
			}
			if f := a.word(bp + size - dwordSize); f != h {
				report("free block %#x header %#x != footer %#x", bp, h, f)
			}
			freeSeen[bp] = false
		}

		prevAlloc = alloc
		prevBp = bp
		bp += size
	}

	// bucket walk
	for idx := 0; idx < numBuckets; idx++ {
		prev := 0
		lastSize := 0
		for bp := a.loadRoot(idx); bp != 0; bp = a.nextLink(bp) {
			if bp < 0 || bp >= hi || bp%alignment != 0 {
				report("bucket %d entry %#x out of bounds", idx, bp)
				break
			}
			visited, isFree := freeSeen[bp]
			if !isFree {
				report("bucket %d entry %#x is not a free heap block", idx, bp)
				break
			}
			if visited {
				report("block %#x reached twice walking the buckets", bp)
				break
			}
			freeSeen[bp] = true

			size := a.blockSize(bp)
			if bucketIndex(size) != idx {
				report("block %#x of size %d filed in bucket %d", bp, size, idx)
			}
			if size < lastSize {
				report("bucket %d out of order at block %#x", idx, bp)
			}
			lastSize = size

			if a.prevLink(bp) != prev {
				report("block %#x prev link %#x, expected %#x", bp, a.prevLink(bp), prev)
			}
			prev = bp
		}
	}

	for bp, visited := range freeSeen {
		if !visited {
			report("free block %#x missing from its bucket", bp)
		}
	}
	return violations
}
