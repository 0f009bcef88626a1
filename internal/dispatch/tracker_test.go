package dispatch

import (
	"testing"

	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
	"github.com/orizon-lang/orizon-siteprof/internal/capture"
	"github.com/orizon-lang/orizon-siteprof/internal/siteagg"
	"github.com/orizon-lang/orizon-siteprof/internal/suspend"
)

func newTestTracker(t *testing.T, liveMode bool) (*Tracker, *allocator.RealFuncs) {
	t.Helper()

	real := allocator.NewRealFuncs()
	stacks := siteagg.NewStackMap(4, real)
	stacks.SetEnabled(true)

	allocs := siteagg.NewAllocMap(4, real)
	allocs.SetMode(liveMode, true, 1)

	capturer := &capture.Capturer{Method: capture.MethodUnwinder, StackDepth: 8}

	tr := New(stacks, allocs, capturer, real)
	tr.Configure(liveMode, siteagg.SamplingLimit(1), 1)

	return tr, real
}

func TestTrackerCreditAllocIncreasesStackTotals(t *testing.T) {
	tr, real := newTestTracker(t, false)

	ptr := real.Malloc(64)
	defer real.Free(ptr)

	hooks := NewHookSet(tr)
	_ = hooks

	tr.creditAlloc(ptr, 0x1111, 0x2222, 64)

	var total uint64

	for i := uint32(0); i < 4; i++ {
		live, _ := tr.stacks.Snapshot(i, false)
		for _, e := range live {
			total += e.Bytes
		}
	}

	if total != 64 {
		t.Errorf("got total credited bytes %d, want 64", total)
	}
}

func TestTrackerDebitFreeRemovesLiveEntry(t *testing.T) {
	tr, real := newTestTracker(t, true)

	ptr := real.Malloc(128)
	tr.creditAlloc(ptr, 0x1111, 0x2222, 128)

	if tr.allocs.Len() != 1 {
		t.Fatalf("expected one live alloc entry after credit, got %d", tr.allocs.Len())
	}

	tr.debitFree(ptr)

	if tr.allocs.Len() != 0 {
		t.Errorf("expected zero live alloc entries after debit, got %d", tr.allocs.Len())
	}

	missed, _, _ := tr.Stats()
	if missed != 0 {
		t.Errorf("a legitimate debit should not count as a missed free, got %d", missed)
	}

	real.Free(ptr)
}

func TestTrackerDebitFreeOnUntrackedPointerCountsMissedFree(t *testing.T) {
	tr, real := newTestTracker(t, true)

	ptr := real.Malloc(32)
	defer real.Free(ptr)

	// Never credited, so the alloc map has no entry for this pointer.
	tr.debitFree(ptr)

	missed, _, _ := tr.Stats()
	if missed != 1 {
		t.Errorf("got missedFrees=%d, want 1", missed)
	}
}

func TestTrackerDebitFreeNoOpWhenNotLive(t *testing.T) {
	tr, real := newTestTracker(t, false)

	ptr := real.Malloc(32)
	defer real.Free(ptr)

	tr.debitFree(ptr)

	missed, _, _ := tr.Stats()
	if missed != 0 {
		t.Error("debitFree outside live mode should not touch the missed-free counter")
	}
}

func TestTrackerRecreditAggRestoresCounters(t *testing.T) {
	tr, real := newTestTracker(t, true)

	ptr := real.Malloc(64)
	tr.creditAlloc(ptr, 0x1111, 0x2222, 64)

	agg, size := tr.debitPointer(ptr)
	if agg == nil {
		t.Fatal("debitPointer returned nil agg for a tracked pointer")
	}

	if agg.Count != 0 || agg.Bytes != 0 {
		t.Fatalf("expected debited agg to read 0/0, got Count=%d Bytes=%d", agg.Count, agg.Bytes)
	}

	tr.recreditAgg(agg, size)

	if agg.Count != 1 || agg.Bytes != 64 {
		t.Errorf("got Count=%d Bytes=%d after recredit, want 1/64", agg.Count, agg.Bytes)
	}

	real.Free(ptr)
}

func TestTrackerTrackableRespectsSuspendedGoroutine(t *testing.T) {
	tr, _ := newTestTracker(t, false)

	fp := siteagg.FingerprintPointer(0x1000)
	if !tr.trackable(fp) {
		t.Fatal("expected trackable() to be true for an un-suspended goroutine at only_nth=1")
	}

	suspend.SuspendCurrentGoroutine()
	defer suspend.ClearCurrentGoroutine()

	if tr.trackable(fp) {
		t.Error("expected trackable() to be false while the calling goroutine has suspended tracking")
	}
}
