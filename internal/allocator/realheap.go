// Package allocator is the interposition layer: it exposes replacements for
// the process's allocation entry points, forwards to the real allocator
// unless hooks are registered, and offers the bootstrap and slab allocators
// used to back the aggregation engine without recursively re-entering the
// hooks it installs.
package allocator

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pageSize is resolved once at package init; used to round page-aligned and
// page-rounded allocations.
var pageSize = unix.Getpagesize()

// RealFuncs is the caller-visible table of the real allocation
// implementations, exactly as named in spec.md §4.1/§6: general allocate,
// zeroed allocate, resize, free, the three aligned-allocate variants, the
// page-aligned allocate, the page-rounded page-aligned allocate, and
// MallocSize (the usable-size query).
//
// A Go process cannot relink libc's own malloc family, so these are backed
// by a real, syscall-level page heap instead: mmap-obtained regions on
// platforms x/sys/unix supports, with a make([]byte, n)-backed fallback
// elsewhere. Either way the bytes returned are real, page-backed memory and
// MallocSize is stable for the lifetime of a given pointer, which is all
// the aggregation engine requires.
type RealFuncs struct {
	Malloc             func(size uintptr) unsafe.Pointer
	Calloc             func(nmemb, size uintptr) unsafe.Pointer
	Realloc            func(ptr unsafe.Pointer, size uintptr) unsafe.Pointer
	Free               func(ptr unsafe.Pointer)
	PosixMemalign      func(alignment, size uintptr) (ptr unsafe.Pointer, errCode int)
	AlignedAllocLegacy func(alignment, size uintptr) unsafe.Pointer
	MemalignModulo     func(alignment, size uintptr) unsafe.Pointer
	PageAlign          func(size uintptr) unsafe.Pointer
	PageRound          func(size uintptr) unsafe.Pointer
	MallocSize         func(ptr unsafe.Pointer) uintptr
}

// realHeap is the process-wide real allocator backing RealFuncs. It is
// intentionally simple: a mutex-guarded map from pointer to live region.
// Nothing above this layer re-enters it concurrently with itself holding
// a shard lock, so a single mutex is sufficient (spec.md §5 re-entrancy).
type realHeap struct {
	mu     sync.Mutex
	live   map[unsafe.Pointer]*region
	bootMu sync.Mutex
}

type region struct {
	raw   []byte // exactly what acquireRegion returned, passed to releaseRegion on free
	buf   []byte // the usable (possibly offset, for alignment) view over raw
	usize uintptr
}

var defaultRealHeap = newRealHeap()

func newRealHeap() *realHeap {
	return &realHeap{live: make(map[unsafe.Pointer]*region)}
}

// NewRealFuncs returns the real-allocator table backed by the process-wide
// real heap. There is exactly one such heap per process, matching the
// singleton real allocator a libc exposes.
func NewRealFuncs() *RealFuncs {
	h := defaultRealHeap

	return &RealFuncs{
		Malloc:             h.malloc,
		Calloc:             h.calloc,
		Realloc:            h.realloc,
		Free:               h.free,
		PosixMemalign:      h.posixMemalign,
		AlignedAllocLegacy: h.alignedAllocLegacy,
		MemalignModulo:     h.memalignModulo,
		PageAlign:          h.pageAlign,
		PageRound:          h.pageRound,
		MallocSize:         h.mallocSize,
	}
}

func (h *realHeap) track(ptr unsafe.Pointer, raw, buf []byte) {
	h.mu.Lock()
	h.live[ptr] = &region{raw: raw, buf: buf, usize: uintptr(cap(buf))}
	h.mu.Unlock()
}

func (h *realHeap) malloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	buf, ok := acquireRegion(size)
	if !ok {
		return nil
	}

	ptr := unsafe.Pointer(&buf[0])
	h.track(ptr, buf, buf)

	return ptr
}

func (h *realHeap) calloc(nmemb, size uintptr) unsafe.Pointer {
	total := nmemb * size
	if nmemb != 0 && total/nmemb != size {
		return nil // overflow
	}

	if total == 0 {
		return nil
	}

	buf, ok := acquireRegion(total) // acquireRegion already returns zero-filled memory
	if !ok {
		return nil
	}

	ptr := unsafe.Pointer(&buf[0])
	h.track(ptr, buf, buf)

	return ptr
}

func (h *realHeap) free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h.mu.Lock()
	r, ok := h.live[ptr]
	delete(h.live, ptr)
	h.mu.Unlock()

	if ok {
		releaseRegion(r.raw)
	}
}

func (h *realHeap) realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return h.malloc(size)
	}

	if size == 0 {
		h.free(ptr)

		return nil
	}

	h.mu.Lock()
	old, ok := h.live[ptr]
	h.mu.Unlock()

	newPtr := h.malloc(size)
	if newPtr == nil {
		return nil
	}

	if ok {
		n := uintptr(len(old.buf))
		if size < n {
			n = size
		}

		dst := (*[1 << 30]byte)(newPtr)[:n:n]
		src := (*[1 << 30]byte)(ptr)[:n:n]
		copy(dst, src)
	}

	h.free(ptr)

	return newPtr
}

func (h *realHeap) alignedAlloc(alignment, size uintptr) unsafe.Pointer {
	if alignment == 0 || size == 0 {
		return nil
	}

	// alignment-1 extra bytes guarantee an aligned address within the region.
	raw, ok := acquireRegion(size + alignment - 1)
	if !ok {
		return nil
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + alignment - 1) &^ (alignment - 1)
	off := aligned - base
	ptr := unsafe.Pointer(&raw[off])
	h.track(ptr, raw, raw[off:off+size:off+size])

	return ptr
}

func (h *realHeap) posixMemalign(alignment, size uintptr) (unsafe.Pointer, int) {
	if alignment == 0 || alignment&(alignment-1) != 0 || alignment%unsafe.Sizeof(uintptr(0)) != 0 {
		return nil, 22 // EINVAL
	}

	ptr := h.alignedAlloc(alignment, size)
	if ptr == nil && size != 0 {
		return nil, 12 // ENOMEM
	}

	return ptr, 0
}

func (h *realHeap) alignedAllocLegacy(alignment, size uintptr) unsafe.Pointer {
	return h.alignedAlloc(alignment, size)
}

// memalignModulo implements the aligned-allocate variant whose contract is
// phrased as "(size % alignment == 0)"-aligned — i.e. size must itself be a
// multiple of alignment, matching the memalign-family constraint.
func (h *realHeap) memalignModulo(alignment, size uintptr) unsafe.Pointer {
	if alignment == 0 || size%alignment != 0 {
		return nil
	}

	return h.alignedAlloc(alignment, size)
}

func (h *realHeap) pageAlign(size uintptr) unsafe.Pointer {
	return h.alignedAlloc(uintptr(pageSize), size)
}

func (h *realHeap) pageRound(size uintptr) unsafe.Pointer {
	rounded := (size + uintptr(pageSize) - 1) &^ (uintptr(pageSize) - 1)

	return h.alignedAlloc(uintptr(pageSize), rounded)
}

func (h *realHeap) mallocSize(ptr unsafe.Pointer) uintptr {
	if ptr == nil {
		return 0
	}

	h.mu.Lock()
	r, ok := h.live[ptr]
	h.mu.Unlock()

	if !ok {
		return 0
	}

	return r.usize
}
