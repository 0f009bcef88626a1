// Package suspend implements the thread-local "suspend tracking" flag from
// spec.md §5, kept in its own leaf package (no dependency on the control
// plane or the hook dispatcher) so both can import it without a cycle.
package suspend

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// These variables hold the "suspend tracking" flag from spec.md §5,
// checked at hook entry, so the reporter's own allocations made while
// producing a dump are never recorded. Go has no native thread-local
// storage; a goroutine is this runtime's unit of "thread", so this is
// implemented as goroutine-local storage: suspendSet holds the ids of the
// goroutines that have suspended tracking, the idiomatic Go stand-in used by
// several tracing/logging libraries for the same need. The slow
// goroutine-id lookup is gated behind suspendUseFlag, a single process-wide
// flag that is written under suspendMu and read without a lock or atomic
// load, mirroring spec.md §5's cheap process-wide check_suspend boolean.
var (
	suspendMu      sync.Mutex
	suspendSet     = make(map[int64]struct{})
	suspendUseFlag int32
)

// goroutineID extracts the calling goroutine's numeric id by parsing the
// header line of runtime.Stack's output ("goroutine 123 [running]:"). This
// is the same technique several Go goroutine-local-storage shims use in
// lieu of an exported runtime intrinsic; it is isolated to this one
// function, the façade spec.md §9 calls for around unsafe/non-portable
// boundaries.
func goroutineID() int64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "

	if !bytes.HasPrefix(b, []byte(prefix)) {
		return -1
	}

	b = b[len(prefix):]

	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return -1
	}

	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return -1
	}

	return id
}

// SuspendCurrentGoroutine sets the calling goroutine's suspend-tracking
// flag. Called by the reporter before it performs its own allocations.
func SuspendCurrentGoroutine() {
	suspendMu.Lock()
	suspendSet[goroutineID()] = struct{}{}
	suspendUseFlag = 1
	suspendMu.Unlock()
}

// ClearCurrentGoroutine clears the calling goroutine's suspend-tracking
// flag, restoring normal hook behavior.
func ClearCurrentGoroutine() {
	suspendMu.Lock()
	delete(suspendSet, goroutineID())
	if len(suspendSet) == 0 {
		suspendUseFlag = 0
	}
	suspendMu.Unlock()
}

// IsCurrentGoroutineSuspended is checked at hook entry. It pays the
// goroutine-id-lookup cost only while at least one goroutine has tracking
// suspended.
func IsCurrentGoroutineSuspended() bool {
	if suspendUseFlag == 0 {
		return false
	}

	suspendMu.Lock()
	_, ok := suspendSet[goroutineID()]
	suspendMu.Unlock()

	return ok
}
