package allocator

import (
	"sync"
	"unsafe"
)

// slabChunkSize is the size of each chunk the Slab requests from the real
// allocator; sized generously so that a shard's bucket growth does not
// re-enter RealFuncs on every individual record allocation.
const slabChunkSize = 64 * 1024

// Slab is a chunked, free-list-backed allocator of fixed-size records. It
// allocates chunks from the real heap via RealFuncs so that growth of the
// structures it backs (stack-map and alloc-map shards) never recursively
// re-enters the hook table. Grounded on the chunk/free-list design of
// Orizon's pool allocator, specialized to a single fixed record size per
// Slab instead of a map of pools keyed by size class.
type Slab struct {
	mu        sync.Mutex
	real      *RealFuncs
	recordSz  uintptr
	chunks    [][]byte
	freeList  []unsafe.Pointer
	allocated uint64
	freed     uint64
}

// NewSlab creates a Slab serving fixed-size records of recordSize bytes,
// drawing chunk memory from real.
func NewSlab(real *RealFuncs, recordSize uintptr) *Slab {
	return &Slab{
		real:     real,
		recordSz: recordSize,
	}
}

// Alloc returns a zeroed record-sized block, or nil if the real allocator
// could not supply a new chunk. Per spec.md §4.2/§4.4, callers treat a nil
// return as TransientAllocationFailure and silently skip recording.
func (s *Slab) Alloc() unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.freeList) > 0 {
		n := len(s.freeList) - 1
		ptr := s.freeList[n]
		s.freeList = s.freeList[:n]
		s.allocated++
		zero(ptr, s.recordSz)

		return ptr
	}

	if !s.growLocked() {
		return nil
	}

	n := len(s.freeList) - 1
	ptr := s.freeList[n]
	s.freeList = s.freeList[:n]
	s.allocated++
	zero(ptr, s.recordSz)

	return ptr
}

// Free returns ptr to the slab's free list for reuse.
func (s *Slab) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	s.mu.Lock()
	s.freeList = append(s.freeList, ptr)
	s.freed++
	s.mu.Unlock()
}

// growLocked requests a new chunk from the real allocator and slices it
// into record-sized free-list entries. Must be called with s.mu held.
func (s *Slab) growLocked() bool {
	chunk := s.real.Malloc(slabChunkSize)
	if chunk == nil {
		return false
	}

	s.chunks = append(s.chunks, (*[slabChunkSize]byte)(chunk)[:])

	n := uintptr(slabChunkSize) / s.recordSz
	if n == 0 {
		return false
	}

	base := uintptr(chunk)
	for i := uintptr(0); i < n; i++ {
		s.freeList = append(s.freeList, unsafe.Pointer(base+i*s.recordSz))
	}

	return true
}

// BytesOwned reports the total bytes drawn from the real allocator across
// all chunks, used by the reporter's internal-statistics block.
func (s *Slab) BytesOwned() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()

	return uintptr(len(s.chunks)) * slabChunkSize
}

func zero(ptr unsafe.Pointer, size uintptr) {
	b := (*[1 << 30]byte)(ptr)[:size:size]
	for i := range b {
		b[i] = 0
	}
}
