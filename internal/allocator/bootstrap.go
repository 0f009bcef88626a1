package allocator

import (
	"sync"
	"unsafe"
)

// bootstrapArenaSize is deliberately small: it only has to survive the
// handful of internal allocations made while the real allocator's backing
// store is being wired up.
const bootstrapArenaSize = 64 * 1024

// bootstrapArena is a tiny bump-pointer allocator. Before RealFuncs is
// fully usable, internal calls (from this package's own init-time
// bookkeeping) are served from here instead. Any pointer handed out by the
// arena must be recognized on free and never forwarded to the real free,
// since it was never registered with the real heap.
type bootstrapArena struct {
	mu     sync.Mutex
	buf    [bootstrapArenaSize]byte
	offset uintptr
	frozen bool
}

var boot bootstrapArena

// alloc serves a bootstrap allocation, returning nil once the arena is
// exhausted or frozen — callers fall back to the real allocator at that
// point.
func (b *bootstrapArena) alloc(size uintptr) unsafe.Pointer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return nil
	}

	aligned := (size + 7) &^ 7
	if b.offset+aligned > bootstrapArenaSize {
		return nil
	}

	ptr := unsafe.Pointer(&b.buf[b.offset])
	b.offset += aligned

	return ptr
}

// contains reports whether ptr falls within the bootstrap arena's backing
// array.
func (b *bootstrapArena) contains(ptr unsafe.Pointer) bool {
	base := uintptr(unsafe.Pointer(&b.buf[0]))
	p := uintptr(ptr)

	return p >= base && p < base+bootstrapArenaSize
}

// freeze stops serving further bootstrap allocations once real-allocator
// symbol resolution has completed and every bootstrap pointer has migrated
// (by being freed or reallocated into real-heap pointers).
func (b *bootstrapArena) freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

// isBootstrapPointer reports whether ptr was served by the bootstrap arena,
// so Free can recognize it instead of forwarding it to the real free.
func (in *Interposer) isBootstrapPointer(ptr unsafe.Pointer) bool {
	return ptr != nil && boot.contains(ptr)
}

// freeBootstrap is a no-op: the bootstrap arena never reclaims individual
// allocations, matching an arena allocator's usual free() contract.
func (in *Interposer) freeBootstrap(ptr unsafe.Pointer) {}

// BootstrapAlloc exposes the bootstrap arena to this package's own
// init-time bookkeeping (e.g. constructing the first Shard before the real
// heap is fully wired). Production callers should use RealFuncs instead.
func BootstrapAlloc(size uintptr) unsafe.Pointer {
	if p := boot.alloc(size); p != nil {
		return p
	}

	return defaultRealHeap.malloc(size)
}

// FreezeBootstrap freezes the bootstrap arena. Called once at Interposer
// construction time after the real allocator is confirmed usable.
func FreezeBootstrap() {
	boot.freeze()
}
