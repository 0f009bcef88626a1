package siteagg

import (
	"sync"
	"unsafe"

	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
)

// maxLoadFactor is the fixed rebalancing load factor for both the stack map
// and the alloc map (spec.md §4.4, Open Question 1: retained as a package
// constant and not exposed to the operator).
const maxLoadFactor = 0.5

// defaultBuckets is the initial bucket-array size for a newly created
// shard (spec.md §4.4: "Initial buckets: 1024 stack, 1024 alloc").
const defaultBuckets = 1024

// StackAgg is the aggregate record for one unique call stack. Hash packs
// the masked stack hash together with FrameCount in its high bits (see
// PackFrameCount) so that within one shard no two StackAggs can share
// (stack_hash, frame_count, frames) without the packed Hash field colliding
// first. It is a fixed-size record so a Slab can back it directly.
type StackAgg struct {
	Hash       uint64
	Bytes      uint64
	Count      uint64
	FrameCount uint8
	Frames     [MaxFrames]uintptr
	Next       *StackAgg
}

// framesEqual reports whether the first n frames of agg match frames.
func (a *StackAgg) framesEqual(frames []uintptr) bool {
	n := int(a.FrameCount)
	if n != len(frames) {
		return false
	}

	for i := 0; i < n; i++ {
		if a.Frames[i] != frames[i] {
			return false
		}
	}

	return true
}

// AllocEntry links a live pointer fingerprint to the StackAgg that owns it.
// It borrows its StackAgg reference from the owning stack shard's slab
// arena; that reference is valid for the lifetime of the enable session
// because a reset tears down alloc shards (dropping all such borrows)
// before stack shards (spec.md §3.2, §9).
type AllocEntry struct {
	PtrHash  uint64
	StackAgg *StackAgg
	Next     *AllocEntry
}

var stackAggRecordSize = unsafe.Sizeof(StackAgg{})
var allocEntryRecordSize = unsafe.Sizeof(AllocEntry{})

// StackShard is one of N_S independently-locked stack-map shards: a
// bucketed hash map from a canonical call stack to its StackAgg, backed by
// its own Slab so growth never re-enters the allocation hooks.
type StackShard struct {
	mu      sync.Mutex
	buckets []*StackAgg
	mask    uint32
	size    uint32
	limit   uint32
	slab    *allocator.Slab
	enabled bool
}

// AllocShard is one of N_A independently-locked alloc-map shards, present
// only in live mode: a bucketed hash map from pointer fingerprint to the
// AllocEntry recording which StackAgg owns that live allocation.
type AllocShard struct {
	mu      sync.Mutex
	buckets []*AllocEntry
	mask    uint32
	size    uint32
	limit   uint32
	slab    *allocator.Slab
}

func newStackShard(real *allocator.RealFuncs) *StackShard {
	return &StackShard{
		buckets: make([]*StackAgg, defaultBuckets),
		mask:    defaultBuckets - 1,
		limit:   uint32(defaultBuckets * maxLoadFactor),
		slab:    allocator.NewSlab(real, stackAggRecordSize),
		enabled: true,
	}
}

func newAllocShard(real *allocator.RealFuncs) *AllocShard {
	return &AllocShard{
		buckets: make([]*AllocEntry, defaultBuckets),
		mask:    defaultBuckets - 1,
		limit:   uint32(defaultBuckets * maxLoadFactor),
		slab:    allocator.NewSlab(real, allocEntryRecordSize),
	}
}

// StackShardIndex implements spec.md §4.3: stack_hash & (N_S - 1).
func StackShardIndex(stackHash uint64, numShards uint32) uint32 {
	return uint32(stackHash) & (numShards - 1)
}

// AllocShardIndex implements spec.md §4.3: ptr_hash & (N_A - 1).
func AllocShardIndex(ptrHash uint64, numShards uint32) uint32 {
	return uint32(ptrHash) & (numShards - 1)
}

// stackBucketIndex implements spec.md §4.3: dividing the hash by the shard
// count before masking to low bits, which keeps buckets in different
// shards from colliding just because they share the same low bits.
func stackBucketIndex(stackHash uint64, numShards uint32, mask uint32) uint32 {
	return uint32(stackHash/uint64(numShards)) & mask
}

func allocBucketIndex(ptrHash uint64, numShards uint32, mask uint32) uint32 {
	return uint32(ptrHash/uint64(numShards)) & mask
}

func newStackAggFromSlab(slab *allocator.Slab, hash uint64, frameCount int, frames []uintptr, size uint64) *StackAgg {
	ptr := slab.Alloc()
	if ptr == nil {
		return nil
	}

	agg := (*StackAgg)(ptr)
	agg.Hash = hash
	agg.FrameCount = uint8(frameCount)

	for i, pc := range frames {
		agg.Frames[i] = pc
	}

	agg.Bytes = size
	agg.Count = 1

	return agg
}

func newAllocEntryFromSlab(slab *allocator.Slab, ptrHash uint64, owner *StackAgg) *AllocEntry {
	ptr := slab.Alloc()
	if ptr == nil {
		return nil
	}

	e := (*AllocEntry)(ptr)
	e.PtrHash = ptrHash
	e.StackAgg = owner

	return e
}
