package siteagg

import (
	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
)

// AllocMap is the sharded alloc-map described in spec.md §2/§4.3/§4.4,
// present only in live mode: NumShards shards, each a bucketed hash map
// from pointer fingerprint to the AllocEntry recording its owning
// StackAgg.
type AllocMap struct {
	shards     []*AllocShard
	numShards  uint32
	liveMode   bool
	enabled    bool
	generation uint64
}

// NewAllocMap creates an AllocMap with numShards shards (a power of two).
func NewAllocMap(numShards uint32, real *allocator.RealFuncs) *AllocMap {
	shards := make([]*AllocShard, numShards)
	for i := range shards {
		shards[i] = newAllocShard(real)
	}

	return &AllocMap{shards: shards, numShards: numShards}
}

// NumShards returns the shard count.
func (m *AllocMap) NumShards() uint32 { return m.numShards }

// SetMode configures live-mode, enabled, and the current enable generation.
// Called by the control plane under its global mutex.
func (m *AllocMap) SetMode(liveMode, enabled bool, generation uint64) {
	m.liveMode = liveMode
	m.enabled = enabled
	m.generation = generation
}

// Shard returns the shard responsible for ptrHash.
func (m *AllocMap) Shard(ptrHash uint64) *AllocShard {
	return m.shards[AllocShardIndex(ptrHash, m.numShards)]
}

// ShardAt returns the i'th shard directly.
func (m *AllocMap) ShardAt(i uint32) *AllocShard {
	return m.shards[i]
}

// Insert implements spec.md §4.4's alloc-map insert. enableGeneration is
// the generation captured by the caller at the moment the matching
// stack-map credit happened; if the global generation has since moved on
// (a reset crossed the session boundary), the insert is skipped — the
// StackAgg persists but no later debit is possible for this allocation,
// matching the specified semantics exactly.
func (m *AllocMap) Insert(ptrHash uint64, owner *StackAgg, enableGeneration uint64) {
	if !m.liveMode || !m.enabled {
		return
	}

	if m.generation != enableGeneration {
		return
	}

	shard := m.Shard(ptrHash)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	idx := allocBucketIndex(ptrHash, m.numShards, shard.mask)

	e := newAllocEntryFromSlab(shard.slab, ptrHash, owner)
	if e == nil {
		return
	}

	e.Next = shard.buckets[idx]
	shard.buckets[idx] = e
	shard.size++

	if shard.size > shard.limit {
		shard.resizeLocked(m.numShards)
	}
}

// Remove implements spec.md §4.4's alloc-map remove: unlink and return the
// owning StackAgg, or nil on a legitimate miss (an allocation made before
// enabling, or one whose fingerprint was never tracked).
func (m *AllocMap) Remove(ptrHash uint64) *StackAgg {
	shard := m.Shard(ptrHash)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	idx := allocBucketIndex(ptrHash, m.numShards, shard.mask)

	var prev *AllocEntry

	for cur := shard.buckets[idx]; cur != nil; cur = cur.Next {
		if cur.PtrHash == ptrHash {
			if prev == nil {
				shard.buckets[idx] = cur.Next
			} else {
				prev.Next = cur.Next
			}

			shard.size--

			return cur.StackAgg
		}

		prev = cur
	}

	return nil
}

// LockShard locks and returns the alloc shard owning ptrHash, for a caller
// that takes spec.md §4.4's locking order itself: alloc shard first, then
// stack shard. The dispatcher does not call it; it uses Remove.
func (m *AllocMap) LockShard(ptrHash uint64) *AllocShard {
	shard := m.Shard(ptrHash)
	shard.mu.Lock()

	return shard
}

// UnlockShard releases a shard previously returned by LockShard.
func (m *AllocMap) UnlockShard(shard *AllocShard) {
	shard.mu.Unlock()
}

func (s *AllocShard) resizeLocked(numShards uint32) {
	newMask := s.mask*2 + 1
	newBuckets := make([]*AllocEntry, newMask+1)

	for _, head := range s.buckets {
		for cur := head; cur != nil; {
			next := cur.Next
			idx := allocBucketIndex(cur.PtrHash, numShards, newMask)
			cur.Next = newBuckets[idx]
			newBuckets[idx] = cur
			cur = next
		}
	}

	s.buckets = newBuckets
	s.mask = newMask
	s.limit = uint32(float64(newMask+1) * maxLoadFactor)
}

// Reset clears every shard back to its freshly-created state. Per
// spec.md §3.2/§9, the control plane always resets the alloc map before the
// stack map, since AllocEntries hold borrowed references into stack-shard
// slabs.
func (m *AllocMap) Reset(real *allocator.RealFuncs) {
	for i := range m.shards {
		m.shards[i] = newAllocShard(real)
	}
}

// Len reports the live entry count across all shards, used by tests and
// internal statistics.
func (m *AllocMap) Len() int {
	total := 0

	for _, s := range m.shards {
		s.mu.Lock()
		total += int(s.size)
		s.mu.Unlock()
	}

	return total
}

// ShardLoads reports each shard's live entry count, used by the reporter's
// internal-statistics block (spec.md §4.6 step 6).
func (m *AllocMap) ShardLoads() []uint32 {
	loads := make([]uint32, len(m.shards))

	for i, s := range m.shards {
		s.mu.Lock()
		loads[i] = s.size
		s.mu.Unlock()
	}

	return loads
}
