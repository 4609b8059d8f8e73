package trace

import (
	"fmt"

	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/memkit/segalloc/malloc"
)

// ReplayOptions tunes a replay run.
type ReplayOptions struct {
	// CheckInterval runs the allocator's integrity checker every N ops.
	// Zero disables it.
	CheckInterval int
}

// Result summarizes a replay.
type Result struct {
	Ops      int
	Allocs   int
	Reallocs int
	Frees    int

	// PeakBytes is the high-water mark of live requested bytes.
	PeakBytes int

	// LiveAtEnd is the requested bytes still allocated when the trace ends.
	LiveAtEnd int

	// Failures are payload-integrity violations: blocks whose contents
	// changed while the allocator owned neighboring memory, or realloc
	// prefixes that were not preserved.
	Failures []string
}

// Replay drives the allocator through the trace. Every allocation is filled
// with a per-id byte pattern and fingerprinted; the fingerprint is
// re-verified before the block is freed or reallocated, so overlapping
// allocations and coalescing bugs surface as payload corruption. Returns an
// error on out-of-memory or when an op allocates an id that is still live.
// Freeing an id that holds no block is a no-op. Verification failures
// accumulate in the result instead.
func (t *Trace) Replay(a *malloc.Allocator, opts ReplayOptions) (*Result, error) {
	blocks := make([][]byte, t.IDs)
	sums := make([]uint64, t.IDs)
	res := &Result{}
	live := 0

	for i, op := range t.Ops {
		switch op.Kind {
		case OpAlloc:
			if blocks[op.ID] != nil {
				return res, fmt.Errorf("trace: op %d allocates live id %d", i, op.ID)
			}
			if op.Size == 0 {
				// malloc(0) hands back nothing; the id stays dead
				res.Allocs++
				break
			}
			b := a.Malloc(op.Size)
			if b == nil {
				return res, fmt.Errorf("trace: op %d: malloc(%d) failed", i, op.Size)
			}
			fillPayload(b, op.ID)
			sums[op.ID] = xxhash3.Hash(b)
			blocks[op.ID] = b
			live += op.Size
			res.Allocs++

		case OpRealloc:
			old := blocks[op.ID]
			if old != nil && xxhash3.Hash(old) != sums[op.ID] {
				res.Failures = append(res.Failures,
					fmt.Sprintf("op %d: id %d payload corrupted before realloc", i, op.ID))
			}
			if op.Size == 0 {
				// realloc to zero frees the block
				a.Realloc(old, 0)
				blocks[op.ID] = nil
				live -= len(old)
				res.Reallocs++
				break
			}
			b := a.Realloc(old, op.Size)
			if b == nil {
				return res, fmt.Errorf("trace: op %d: realloc(%d) failed", i, op.Size)
			}
			keep := len(old)
			if op.Size < keep {
				keep = op.Size
			}
			if !patternMatches(b[:keep], op.ID) {
				res.Failures = append(res.Failures,
					fmt.Sprintf("op %d: id %d prefix not preserved across realloc", i, op.ID))
			}
			fillPayload(b, op.ID)
			sums[op.ID] = xxhash3.Hash(b)
			blocks[op.ID] = b
			live += op.Size - len(old)
			res.Reallocs++

		case OpFree:
			b := blocks[op.ID]
			if b == nil {
				// freeing a never-allocated or zero-sized id is a no-op,
				// matching free(NULL)
				res.Frees++
				break
			}
			if xxhash3.Hash(b) != sums[op.ID] {
				res.Failures = append(res.Failures,
					fmt.Sprintf("op %d: id %d payload corrupted before free", i, op.ID))
			}
			a.Free(b)
			live -= len(b)
			blocks[op.ID] = nil
			res.Frees++
		}

		if live > res.PeakBytes {
			res.PeakBytes = live
		}
		res.Ops++
		if opts.CheckInterval > 0 && (i+1)%opts.CheckInterval == 0 {
			a.CheckHeap(i + 1)
		}
	}

	res.LiveAtEnd = live
	return res, nil
}

// fillPayload writes the deterministic per-id pattern across the payload.
func fillPayload(b []byte, id int) {
	for j := range b {
		b[j] = patternByte(id, j)
	}
}

// patternMatches reports whether b still holds the per-id pattern.
func patternMatches(b []byte, id int) bool {
	for j := range b {
		if b[j] != patternByte(id, j) {
			return false
		}
	}
	return true
}

func patternByte(id, j int) byte { return byte(id*31 + j) }
