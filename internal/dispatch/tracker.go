// Package dispatch implements spec.md §4.2's hook dispatcher: the glue that
// turns an allocator.HookSet's nine entry points into calls against the
// stack-map and alloc-map maintained by internal/siteagg, using
// internal/capture to take the call stack. It lives in its own package
// because internal/siteagg already depends on internal/allocator, so neither
// of those two packages can host the dispatcher without an import cycle.
package dispatch

import (
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
	"github.com/orizon-lang/orizon-siteprof/internal/capture"
	"github.com/orizon-lang/orizon-siteprof/internal/siteagg"
	"github.com/orizon-lang/orizon-siteprof/internal/suspend"
)

// Tracker holds the per-call bookkeeping state a HookSet built by NewHookSet
// closes over. Every field the hot path reads is either atomic or owned by
// the sharded maps' own locks, so Configure can be called concurrently with
// in-flight hook calls (the control plane does so while holding its own
// mutex, but the hooks themselves never block on it).
type Tracker struct {
	stacks   *siteagg.StackMap
	allocs   *siteagg.AllocMap
	capturer *capture.Capturer
	real     *allocator.RealFuncs

	liveMode      atomic.Bool
	samplingLimit atomic.Uint64
	generation    atomic.Uint64

	missedFrees             atomic.Uint64
	transientAllocFailures  atomic.Uint64
	transientResizeFailures atomic.Uint64
}

// New builds a Tracker over an already-constructed stack map, alloc map, and
// capturer. The caller (the control plane) owns their lifetime across
// enable/disable cycles.
func New(stacks *siteagg.StackMap, allocs *siteagg.AllocMap, capturer *capture.Capturer, real *allocator.RealFuncs) *Tracker {
	return &Tracker{stacks: stacks, allocs: allocs, capturer: capturer, real: real}
}

// Configure updates the mode, sampling limit, and enable generation a
// Tracker uses. Called by the control plane once per enable/reset, never
// concurrently with itself.
func (t *Tracker) Configure(liveMode bool, samplingLimit uint64, generation uint64) {
	t.liveMode.Store(liveMode)
	t.samplingLimit.Store(samplingLimit)
	t.generation.Store(generation)
}

// Stats returns the best-effort failure counters spec.md §4.2/§7 says are
// silently counted rather than surfaced as returned errors.
func (t *Tracker) Stats() (missedFrees, transientAllocFailures, transientResizeFailures uint64) {
	return t.missedFrees.Load(), t.transientAllocFailures.Load(), t.transientResizeFailures.Load()
}

// trackable implements spec.md §4.2 step 3: untracked allocations, and every
// allocation made while the calling goroutine has suspended tracking (the
// reporter's own bookkeeping allocations), are left alone.
func (t *Tracker) trackable(ptrHash uint64) bool {
	if suspend.IsCurrentGoroutineSuspended() {
		return false
	}

	return siteagg.Trackable(ptrHash, t.samplingLimit.Load())
}

// creditAlloc implements spec.md §4.2 steps 4-6 for a freshly returned,
// trackable pointer: capture the stack, credit the StackAgg, and in live
// mode insert the alloc-map entry. calleePC identifies which API was called
// (e.g. the address of the replacement function itself); retAddr is the
// caller's return address captured at the hook's call site.
func (t *Tracker) creditAlloc(result unsafe.Pointer, calleePC, retAddr uintptr, creditSize uint64) {
	frames := t.capturer.Capture(calleePC, retAddr)

	stackHash := siteagg.StackHash(frames)
	packed := siteagg.PackFrameCount(stackHash, len(frames))

	agg := t.stacks.Update(packed, len(frames), frames, creditSize)
	if agg == nil {
		t.transientAllocFailures.Add(1)

		return
	}

	if t.liveMode.Load() {
		ptrHash := siteagg.FingerprintPointer(uintptr(result))
		t.allocs.Insert(ptrHash, agg, t.generation.Load())
	}
}

// debitFree implements the free side of spec.md §4.2/§4.4: look up ptr's
// alloc-map entry, debit the owning StackAgg by its usable size (queried
// before the real free runs, since malloc_size is undefined after free),
// and remove the entry. A miss is not necessarily an error: the pointer may
// predate the current enable session, or have been sampled out at
// allocation time.
func (t *Tracker) debitFree(ptr unsafe.Pointer) {
	if !t.liveMode.Load() {
		return
	}

	t.debitPointer(ptr)
}

// debitPointer performs the alloc-map removal and matching stack-shard
// debit shared by both a plain free and a resize's speculative first step.
// It returns the owning StackAgg and the size that was debited, or
// (nil, 0) on a legitimate miss, in which case it has already incremented
// missedFrees.
func (t *Tracker) debitPointer(ptr unsafe.Pointer) (*siteagg.StackAgg, uint64) {
	ptrHash := siteagg.FingerprintPointer(uintptr(ptr))

	size := t.real.MallocSize(ptr)

	agg := t.allocs.Remove(ptrHash)
	if agg == nil {
		t.missedFrees.Add(1)

		return nil, 0
	}

	shard := t.stacks.LockShardFor(agg.Hash)
	t.stacks.Debit(agg, size)
	t.stacks.UnlockShard(shard)

	return agg, size
}

// recreditAgg restores a StackAgg's counters after a failed resize,
// undoing a speculative debit (spec.md §4.2's resize algorithm).
func (t *Tracker) recreditAgg(agg *siteagg.StackAgg, size uint64) {
	shard := t.stacks.LockShardFor(agg.Hash)
	agg.Bytes += size
	agg.Count++
	t.stacks.UnlockShard(shard)
}
