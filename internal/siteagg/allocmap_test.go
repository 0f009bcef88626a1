package siteagg

import (
	"testing"

	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
)

func newTestAllocMap(t *testing.T, numShards uint32) *AllocMap {
	t.Helper()

	m := NewAllocMap(numShards, allocator.NewRealFuncs())
	m.SetMode(true, true, 1)

	return m
}

func TestAllocMapInsertAndRemove(t *testing.T) {
	m := newTestAllocMap(t, 4)

	owner := &StackAgg{Hash: 1}
	ptrHash := FingerprintPointer(0x1000)

	m.Insert(ptrHash, owner, 1)

	got := m.Remove(ptrHash)
	if got != owner {
		t.Fatalf("Remove returned %v, want the inserted owner", got)
	}

	// A second Remove on the same fingerprint is a legitimate miss.
	if second := m.Remove(ptrHash); second != nil {
		t.Error("Remove after the entry was already removed should return nil")
	}
}

func TestAllocMapSkipsWhenDisabledOrNotLive(t *testing.T) {
	owner := &StackAgg{Hash: 1}
	ptrHash := FingerprintPointer(0x2000)

	t.Run("NotLiveMode", func(t *testing.T) {
		m := NewAllocMap(4, allocator.NewRealFuncs())
		m.SetMode(false, true, 1)
		m.Insert(ptrHash, owner, 1)

		if m.Len() != 0 {
			t.Error("Insert in non-live mode should be a no-op")
		}
	})

	t.Run("NotEnabled", func(t *testing.T) {
		m := NewAllocMap(4, allocator.NewRealFuncs())
		m.SetMode(true, false, 1)
		m.Insert(ptrHash, owner, 1)

		if m.Len() != 0 {
			t.Error("Insert while disabled should be a no-op")
		}
	})
}

func TestAllocMapGenerationMismatchDropsInsert(t *testing.T) {
	m := newTestAllocMap(t, 4) // generation 1

	owner := &StackAgg{Hash: 1}
	ptrHash := FingerprintPointer(0x3000)

	// Caller captured generation 0 before a reset bumped the map to 1.
	m.Insert(ptrHash, owner, 0)

	if m.Len() != 0 {
		t.Error("Insert with a stale enable generation should be dropped")
	}
}

func TestAllocMapLenAndShardLoadsAgree(t *testing.T) {
	m := newTestAllocMap(t, 8)

	owner := &StackAgg{Hash: 1}
	for i := 0; i < 20; i++ {
		m.Insert(FingerprintPointer(uintptr(0x1000+i)), owner, 1)
	}

	total := uint32(0)
	for _, l := range m.ShardLoads() {
		total += l
	}

	if int(total) != m.Len() {
		t.Errorf("sum of ShardLoads()=%d, Len()=%d, want equal", total, m.Len())
	}

	if m.Len() != 20 {
		t.Errorf("got Len()=%d, want 20", m.Len())
	}
}

func TestAllocMapResetClearsEntries(t *testing.T) {
	m := newTestAllocMap(t, 4)

	owner := &StackAgg{Hash: 1}
	m.Insert(FingerprintPointer(0x4000), owner, 1)

	m.Reset(allocator.NewRealFuncs())

	if m.Len() != 0 {
		t.Errorf("expected Len()=0 after Reset, got %d", m.Len())
	}
}
