package siteagg

import (
	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
)

// StackMap is the sharded stack-site aggregation table described in
// spec.md §2/§4.3/§4.4: NumShards (a power of two) independently-locked
// shards, each a bucketed hash map from a canonical call stack to its
// StackAgg.
type StackMap struct {
	shards    []*StackShard
	numShards uint32
}

// NewStackMap creates a StackMap with numShards shards (must be a power of
// two), each backed by its own Slab drawing from real.
func NewStackMap(numShards uint32, real *allocator.RealFuncs) *StackMap {
	shards := make([]*StackShard, numShards)
	for i := range shards {
		shards[i] = newStackShard(real)
	}

	return &StackMap{shards: shards, numShards: numShards}
}

// NumShards returns the shard count.
func (m *StackMap) NumShards() uint32 { return m.numShards }

// Shard returns the shard responsible for stackHash, per
// StackShardIndex.
func (m *StackMap) Shard(stackHash uint64) *StackShard {
	return m.shards[StackShardIndex(stackHash, m.numShards)]
}

// ShardAt returns the i'th shard directly, used by the reporter to iterate
// every shard for a snapshot.
func (m *StackMap) ShardAt(i uint32) *StackShard {
	return m.shards[i]
}

// SetEnabled marks every shard enabled or disabled. Called by the control
// plane under its global mutex.
func (m *StackMap) SetEnabled(enabled bool) {
	for _, s := range m.shards {
		s.mu.Lock()
		s.enabled = enabled
		s.mu.Unlock()
	}
}

// Update implements spec.md §4.4's stack-map update algorithm: find or
// create the StackAgg for (stackHash, frameCount, frames), credit
// (sizeToCredit, +1), and return it (nil if the shard is disabled or the
// slab could not supply a new record).
func (m *StackMap) Update(stackHash uint64, frameCount int, frames []uintptr, sizeToCredit uint64) *StackAgg {
	shard := m.Shard(stackHash)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if !shard.enabled {
		return nil
	}

	idx := stackBucketIndex(stackHash, m.numShards, shard.mask)

	for cur := shard.buckets[idx]; cur != nil; cur = cur.Next {
		if cur.Hash == stackHash && int(cur.FrameCount) == frameCount && cur.framesEqual(frames) {
			cur.Bytes += sizeToCredit
			cur.Count++

			return cur
		}
	}

	agg := newStackAggFromSlab(shard.slab, stackHash, frameCount, frames, sizeToCredit)
	if agg == nil {
		return nil
	}

	agg.Next = shard.buckets[idx]
	shard.buckets[idx] = agg
	shard.size++

	if shard.size > shard.limit {
		shard.resizeLocked(m.numShards)
	}

	return agg
}

// Debit implements spec.md §4.4's stack-map debit: must be called while
// holding the mutex of the shard that owns agg (StackShardIndex(agg.Hash,
// numShards)), which the alloc-map removal path guarantees by locking
// shards in the order spec.md §4.4 mandates. The StackAgg itself is never
// deleted, even once Count reaches zero.
func (m *StackMap) Debit(agg *StackAgg, size uint64) {
	agg.Bytes -= size
	agg.Count--
}

// LockShardFor locks (and returns, for later Unlock) the stack shard that
// owns a StackAgg with the given hash, so a caller that already knows the
// hash (e.g. the free/resize dispatcher, which takes it from the StackAgg
// that AllocMap.Remove returned) can take the lock ahead of calling Debit.
func (m *StackMap) LockShardFor(stackHash uint64) *StackShard {
	shard := m.Shard(stackHash)
	shard.mu.Lock()

	return shard
}

// UnlockShard releases a shard previously returned by LockShardFor.
func (m *StackMap) UnlockShard(shard *StackShard) {
	shard.mu.Unlock()
}

// resizeLocked doubles the bucket array and re-masks every entry, per
// spec.md §4.4's "Resize rules". Must be called with shard.mu held. If the
// new bucket array cannot be obtained, the old table is kept and the shard
// accepts a degraded load factor.
func (s *StackShard) resizeLocked(numShards uint32) {
	newMask := s.mask*2 + 1

	defer func() {
		// A make() failure here would be an OOM panic in Go, not a nil
		// return; guard with recover so a failed grow degrades gracefully
		// exactly as spec.md §4.4 prescribes for a real allocator's
		// failure to supply a new table.
		if r := recover(); r != nil {
			_ = r
		}
	}()

	newBuckets := make([]*StackAgg, newMask+1)

	for _, head := range s.buckets {
		for cur := head; cur != nil; {
			next := cur.Next
			idx := stackBucketIndex(cur.Hash, numShards, newMask)
			cur.Next = newBuckets[idx]
			newBuckets[idx] = cur
			cur = next
		}
	}

	s.buckets = newBuckets
	s.mask = newMask
	s.limit = uint32(float64(newMask+1) * maxLoadFactor)
}

// Reset clears every shard back to its freshly-created state. Used by the
// control plane's disable/reset path; per spec.md §3.2 a reset always tears
// down alloc shards first, then stack shards, so by the time Reset is
// called here no AllocEntry still borrows from these shards.
func (m *StackMap) Reset(real *allocator.RealFuncs) {
	for i := range m.shards {
		m.shards[i] = newStackShard(real)
	}
}

// ShardLoads reports each shard's live entry count (including zero-count
// StackAggs), used by the reporter's internal-statistics block.
func (m *StackMap) ShardLoads() []uint32 {
	loads := make([]uint32, len(m.shards))

	for i, s := range m.shards {
		s.mu.Lock()
		loads[i] = s.size
		s.mu.Unlock()
	}

	return loads
}

// StackAggSnapshot is a point-in-time copy of one StackAgg's counters,
// taken under the owning shard's lock by the reporter (spec.md §4.6).
type StackAggSnapshot struct {
	Agg   *StackAgg
	Bytes uint64
	Count uint64
}

// Snapshot copies every entry with Count > 0 (every entry, when includeZero
// is true) out of a single shard while holding its mutex, then releases it.
// This is the per-shard half of the reporter's dump algorithm (spec.md §4.6
// step 2); totalUnique counts every entry in the shard, including the
// Count == 0 entries left out of the returned slice when includeZero is
// false.
func (m *StackMap) Snapshot(shardIndex uint32, includeZero bool) (live []StackAggSnapshot, totalUnique int) {
	shard := m.shards[shardIndex]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	for _, head := range shard.buckets {
		for cur := head; cur != nil; cur = cur.Next {
			totalUnique++

			if cur.Count > 0 || includeZero {
				live = append(live, StackAggSnapshot{Agg: cur, Bytes: cur.Bytes, Count: cur.Count})
			}
		}
	}

	return live, totalUnique
}
