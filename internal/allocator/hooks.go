package allocator

import (
	"os"
	"sync"
	"unsafe"
)

// HookSet is the pointer-table of nine hook functions covering the entire
// allocation API, per spec.md §4.1. Each hook receives the call's original
// arguments plus the caller's return address and is responsible for calling
// the real function itself; the replacement does not call it on the hook's
// behalf. A hook's failure is visible to the caller exactly as failure of
// the wrapped real function would be.
type HookSet struct {
	Malloc             func(size uintptr, retAddr uintptr) unsafe.Pointer
	Calloc             func(nmemb, size uintptr, retAddr uintptr) unsafe.Pointer
	Realloc            func(ptr unsafe.Pointer, size uintptr, retAddr uintptr) unsafe.Pointer
	Free               func(ptr unsafe.Pointer, retAddr uintptr)
	PosixMemalign      func(alignment, size uintptr, retAddr uintptr) (unsafe.Pointer, int)
	AlignedAllocLegacy func(alignment, size uintptr, retAddr uintptr) unsafe.Pointer
	MemalignModulo     func(alignment, size uintptr, retAddr uintptr) unsafe.Pointer
	PageAlign          func(size uintptr, retAddr uintptr) unsafe.Pointer
	PageRound          func(size uintptr, retAddr uintptr) unsafe.Pointer
}

// Interposer owns the replacement functions the host process calls instead
// of the real allocation entry points, the real-function table, and the
// currently-registered hook set (nil meaning "no hooks installed, forward
// directly").
type Interposer struct {
	mu    sync.Mutex
	hooks *HookSet
	real  *RealFuncs
	pid   int
}

// New constructs an Interposer with its real-function table resolved.
func New() *Interposer {
	in := &Interposer{
		real: NewRealFuncs(),
		pid:  os.Getpid(),
	}

	FreezeBootstrap()

	return in
}

// RealFuncs returns the caller-visible table of real allocation
// implementations (spec.md §4.1).
func (in *Interposer) RealFuncs() *RealFuncs {
	return in.real
}

// RegisterHooks installs hooksOrNil, returning whatever set was previously
// installed (nil if none). Passing nil removes the current hooks, reverting
// every replacement to a direct forward.
func (in *Interposer) RegisterHooks(hooksOrNil *HookSet) *HookSet {
	in.mu.Lock()
	prev := in.hooks
	in.hooks = hooksOrNil
	in.mu.Unlock()

	return prev
}

// currentHooks loads the installed hook set without blocking a concurrent
// RegisterHooks for long; the replacement functions below pay at most one
// mutex acquisition per call, mirroring spec.md's "minimal overhead when no
// hooks are registered" requirement as closely as a Go-level API allows.
func (in *Interposer) currentHooks() *HookSet {
	in.mu.Lock()
	h := in.hooks
	in.mu.Unlock()

	return h
}

// The replacement functions. Each forwards directly to the real allocator
// when no hooks are registered; otherwise it calls the matching hook and
// returns whatever the hook returns. retAddr is the caller's return
// address — in this Go-hosted model that is the PC of the replacement's own
// caller, obtained by the call site via runtime.Callers before invoking the
// replacement, since Go does not expose a portable "my caller's return
// address" intrinsic the way a C shim would read it off the stack.

func (in *Interposer) Malloc(size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.Malloc != nil {
		return h.Malloc(size, retAddr)
	}

	return in.real.Malloc(size)
}

func (in *Interposer) Calloc(nmemb, size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.Calloc != nil {
		return h.Calloc(nmemb, size, retAddr)
	}

	return in.real.Calloc(nmemb, size)
}

func (in *Interposer) Realloc(ptr unsafe.Pointer, size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.Realloc != nil {
		return h.Realloc(ptr, size, retAddr)
	}

	return in.real.Realloc(ptr, size)
}

func (in *Interposer) Free(ptr unsafe.Pointer, retAddr uintptr) {
	if in.isBootstrapPointer(ptr) {
		in.freeBootstrap(ptr)

		return
	}

	if h := in.currentHooks(); h != nil && h.Free != nil {
		h.Free(ptr, retAddr)

		return
	}

	in.real.Free(ptr)
}

func (in *Interposer) PosixMemalign(alignment, size uintptr, retAddr uintptr) (unsafe.Pointer, int) {
	if h := in.currentHooks(); h != nil && h.PosixMemalign != nil {
		return h.PosixMemalign(alignment, size, retAddr)
	}

	return in.real.PosixMemalign(alignment, size)
}

func (in *Interposer) AlignedAllocLegacy(alignment, size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.AlignedAllocLegacy != nil {
		return h.AlignedAllocLegacy(alignment, size, retAddr)
	}

	return in.real.AlignedAllocLegacy(alignment, size)
}

func (in *Interposer) MemalignModulo(alignment, size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.MemalignModulo != nil {
		return h.MemalignModulo(alignment, size, retAddr)
	}

	return in.real.MemalignModulo(alignment, size)
}

func (in *Interposer) PageAlign(size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.PageAlign != nil {
		return h.PageAlign(size, retAddr)
	}

	return in.real.PageAlign(size)
}

func (in *Interposer) PageRound(size uintptr, retAddr uintptr) unsafe.Pointer {
	if h := in.currentHooks(); h != nil && h.PageRound != nil {
		return h.PageRound(size, retAddr)
	}

	return in.real.PageRound(size)
}

// PostFork deregisters hooks in the child after a fork, per spec.md §1/§4.1:
// the profiler does not survive fork() in the child. Go programs rarely
// call the POSIX fork() directly (syscall.ForkExec is exec-then-fork and
// never returns into the child as Go code), but a cgo host or a
// syscall.RawSyscall(SYS_FORK) caller can still land here; PostFork is the
// narrow hook such a host calls once it detects os.Getpid() has changed.
func (in *Interposer) PostFork() {
	if cur := os.Getpid(); cur == in.pid {
		return // not actually in a child
	}

	in.pid = os.Getpid()
	in.RegisterHooks(nil)
}
