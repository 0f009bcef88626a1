// Package capture implements the two stack-capture methods from spec.md
// §4.5: a library-unwinder path and a frame-pointer-walker fallback, plus
// the two-frame synthesis guarantee and the capture time/count counters.
package capture

import (
	"runtime"
	"sync/atomic"
)

// Method selects which capture strategy Capturer.Capture uses.
type Method int

const (
	// MethodUnwinder uses runtime.Callers, the Go-hosted equivalent of an
	// OS-provided backtrace routine (spec.md §4.5 "library unwinder").
	MethodUnwinder Method = iota
	// MethodFramePointer is the frame-pointer-walker method, used when the
	// library unwinder is not selected. See the doc comment on
	// captureFramePointer in internal/capture/fallback.go for why this is a
	// runtime.Callers-based capture rather than a raw frame-pointer walk in
	// this Go-hosted adaptation.
	MethodFramePointer
)

// Capturer captures call stacks on behalf of the hook dispatcher, gated on
// a configured maximum depth and maintaining the capture time/count
// counters from spec.md §4.5 when DetailedStats is enabled.
type Capturer struct {
	Method        Method
	StackDepth    int
	DetailedStats bool

	captureCount int64
	captureNanos int64
}

// MaxFrames mirrors siteagg.MaxFrames; duplicated here (rather than
// imported) to keep this package free of a dependency on the aggregation
// engine — stack capture is usable standalone.
const MaxFrames = 31

// Capture captures up to c.StackDepth frames starting at the caller of
// Capture's caller (skip=3 drops runtime.Callers' frame, Capture's own frame
// and the frame of the function that called Capture).
// If fewer than two frames are captured, it synthesizes a two-frame stack
// of (calleePC, callerPC) so the most important information — which API
// was called and from where — is never lost, per spec.md §4.5.
func (c *Capturer) Capture(calleePC, callerPC uintptr) []uintptr {
	start := nowIfDetailed(c.DetailedStats)

	depth := c.StackDepth
	if depth <= 0 || depth > MaxFrames {
		depth = MaxFrames
	}

	pcs := make([]uintptr, depth)

	var n int
	switch c.Method {
	case MethodFramePointer:
		n = captureFramePointer(pcs)
	default:
		n = runtime.Callers(3, pcs)
	}

	if c.DetailedStats {
		atomic.AddInt64(&c.captureCount, 1)
		atomic.AddInt64(&c.captureNanos, sinceIfDetailed(start))
	}

	if n < 2 {
		synth := make([]uintptr, 0, 2)
		if calleePC != 0 {
			synth = append(synth, calleePC)
		}

		if callerPC != 0 {
			synth = append(synth, callerPC)
		}

		return synth
	}

	return pcs[:n]
}

// Warm pre-captures a dummy stack once, at enable time, so that the first
// real hook call does not pay the cost of an unwinder that allocates
// internally on first use (spec.md §9).
func (c *Capturer) Warm() {
	var buf [2]uintptr
	_ = runtime.Callers(0, buf[:])
}

// Stats returns the capture time/count counters (spec.md §4.5), valid only
// when DetailedStats was enabled during capture.
func (c *Capturer) Stats() (count int64, nanos int64) {
	return atomic.LoadInt64(&c.captureCount), atomic.LoadInt64(&c.captureNanos)
}
