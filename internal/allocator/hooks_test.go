package allocator

import (
	"testing"
	"unsafe"
)

func TestInterposerForwardsDirectlyWithoutHooks(t *testing.T) {
	in := New()

	ptr := in.Malloc(64, 0)
	if ptr == nil {
		t.Fatal("Malloc without hooks installed should forward to the real allocator")
	}

	in.Free(ptr, 0)
}

func TestInterposerRegisterHooksRoutesCalls(t *testing.T) {
	in := New()

	var (
		mallocCalls int
		freeCalls   int
	)

	hooks := &HookSet{
		Malloc: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			mallocCalls++
			return in.RealFuncs().Malloc(size)
		},
		Free: func(ptr unsafe.Pointer, retAddr uintptr) {
			freeCalls++
		},
	}

	prev := in.RegisterHooks(hooks)
	if prev != nil {
		t.Fatal("expected no previously installed hook set")
	}

	ptr := in.Malloc(32, 0x1234)
	if mallocCalls != 1 {
		t.Errorf("malloc hook called %d times, want 1", mallocCalls)
	}

	in.Free(ptr, 0x5678)
	if freeCalls != 1 {
		t.Errorf("free hook called %d times, want 1", freeCalls)
	}

	// Free still must actually free since the hook above didn't.
	in.RealFuncs().Free(ptr)
}

func TestInterposerRegisterHooksNilReverts(t *testing.T) {
	in := New()

	called := false
	in.RegisterHooks(&HookSet{
		Malloc: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			called = true
			return in.RealFuncs().Malloc(size)
		},
	})

	prev := in.RegisterHooks(nil)
	if prev == nil {
		t.Fatal("expected RegisterHooks(nil) to return the previously installed set")
	}

	in.Malloc(16, 0)
	if called {
		t.Error("hook still firing after RegisterHooks(nil)")
	}
}

func TestInterposerMissingHookFieldFallsBackToReal(t *testing.T) {
	in := New()

	// An empty HookSet; Calloc must still forward to real.
	in.RegisterHooks(&HookSet{})

	ptr := in.Calloc(4, 4, 0)
	if ptr == nil {
		t.Fatal("Calloc with a HookSet lacking a Calloc hook should still forward to the real allocator")
	}
}

func TestInterposerPostForkDeregistersOnPidChange(t *testing.T) {
	in := New()
	in.RegisterHooks(&HookSet{
		Malloc: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			t.Error("hook should not fire after a simulated fork")
			return in.RealFuncs().Malloc(size)
		},
	})

	in.pid = in.pid - 1 // simulate "we are now a forked child with a different pid"
	in.PostFork()

	in.Malloc(8, 0)
}
