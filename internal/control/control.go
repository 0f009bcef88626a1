// Package control implements the control plane named in spec.md §4.7: the
// enable/disable/dump entry points that own the global profiler state and
// wire together the interposer, the aggregation engine, stack capture, and
// the reporter.
package control

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
	"github.com/orizon-lang/orizon-siteprof/internal/capture"
	"github.com/orizon-lang/orizon-siteprof/internal/config"
	"github.com/orizon-lang/orizon-siteprof/internal/dispatch"
	"github.com/orizon-lang/orizon-siteprof/internal/errorsx"
	"github.com/orizon-lang/orizon-siteprof/internal/report"
	"github.com/orizon-lang/orizon-siteprof/internal/sink"
	"github.com/orizon-lang/orizon-siteprof/internal/siteagg"
	"github.com/orizon-lang/orizon-siteprof/internal/suspend"
	"github.com/orizon-lang/orizon-siteprof/internal/symbolize"

	"github.com/google/pprof/profile"
)

// maxFrames bounds stack_depth, per spec.md §3.1.
const maxFrames = siteagg.MaxFrames

// Profiler owns every piece of state spec.md §4.7 names: the interposer,
// the sharded maps, the capturer/tracker pair, and the rainy-day reserve.
//
// spec.md §5 calls the global control mutex recursive, so an emergency
// dump can take it from a context that may already hold it. This Go-hosted
// adaptation never actually nests: an emergency dump is just an ordinary
// Dump call (with OnError set) made by whichever goroutine the host's
// fatal-error path runs on, not a re-entry into a held lock from inside a
// signal handler (which Go programs do not install the way a C host does;
// see SPEC_FULL.md's Open Questions). A plain sync.Mutex is therefore
// sufficient and is what's used here; blockingHookSet below locks this same
// mutex to realize spec.md §4.6 step 1's "blocks on a recursive lock held by
// the reporter" for the duration of an emergency dump.
type Profiler struct {
	mu sync.Mutex

	interposer *allocator.Interposer

	numStackShards uint32
	numAllocShards uint32

	enabled          atomic.Bool
	liveMode         atomic.Bool
	enableGeneration atomic.Uint64

	stacks   *siteagg.StackMap
	allocs   *siteagg.AllocMap
	capturer *capture.Capturer
	tracker  *dispatch.Tracker

	sym symbolize.Symbolizer

	rainyDayReserve unsafe.Pointer
	rainyDayUsed    atomic.Bool
}

// New constructs a Profiler. numStackShards and numAllocShards must each be
// a power of two (spec.md §2's N_S / N_A).
func New(numStackShards, numAllocShards uint32) *Profiler {
	in := allocator.New()

	return &Profiler{
		interposer:     in,
		numStackShards: numStackShards,
		numAllocShards: numAllocShards,
		sym:            symbolize.NewRuntimeSymbolizer(),
	}
}

// Enable implements spec.md §4.7's enable(): validate input, tear down an
// existing session if force was requested, allocate fresh per-shard state,
// and install the dispatcher's hooks.
func (p *Profiler) Enable(spec config.EnableSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled.Load() {
		if !spec.Force {
			return errorsx.AlreadyEnabled()
		}

		if err := p.disableLocked(); err != nil {
			return err
		}
	}

	if spec.StackDepth < 2 || spec.StackDepth > maxFrames {
		return errorsx.ConfigError("stack_depth", spec.StackDepth, fmt.Sprintf("must be in [2, %d]", maxFrames))
	}

	real := p.interposer.RealFuncs()

	p.stacks = siteagg.NewStackMap(p.numStackShards, real)
	p.allocs = siteagg.NewAllocMap(p.numAllocShards, real)

	method := capture.MethodFramePointer
	if spec.UseBacktrace {
		method = capture.MethodUnwinder
	}

	p.capturer = &capture.Capturer{
		Method:        method,
		StackDepth:    spec.StackDepth,
		DetailedStats: spec.DetailedStats,
	}
	p.capturer.Warm()

	p.tracker = dispatch.New(p.stacks, p.allocs, p.capturer, real)

	// Incrementing enable_generation twice around initialization means any
	// hook already in flight across the transition observes a generation
	// that matches neither the one it captured before this Enable nor the
	// one this Enable settles on, so its alloc-map insert is dropped rather
	// than landing in a map built for a different session (spec.md §4.7).
	p.enableGeneration.Add(1)

	liveMode := spec.TrackFree
	samplingLimit := siteagg.SamplingLimit(spec.OnlyNth)

	p.allocs.SetMode(liveMode, true, p.enableGeneration.Load())
	p.stacks.SetEnabled(true)
	p.tracker.Configure(liveMode, samplingLimit, p.enableGeneration.Load())

	p.enableGeneration.Add(1)
	p.allocs.SetMode(liveMode, true, p.enableGeneration.Load())
	p.tracker.Configure(liveMode, samplingLimit, p.enableGeneration.Load())

	p.liveMode.Store(liveMode)

	if spec.RainyDayFund > 0 {
		p.rainyDayReserve = real.Malloc(uintptr(spec.RainyDayFund))
	}

	p.rainyDayUsed.Store(false)

	p.interposer.RegisterHooks(dispatch.NewHookSet(p.tracker))
	p.enabled.Store(true)

	return nil
}

// Disable implements spec.md §4.7's disable().
func (p *Profiler) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.disableLocked()
}

func (p *Profiler) disableLocked() error {
	if !p.enabled.Load() {
		return errorsx.AlreadyDisabled()
	}

	p.enabled.Store(false)
	p.interposer.RegisterHooks(nil)

	real := p.interposer.RealFuncs()

	// Alloc shards first, then stack shards: an AllocEntry borrows a
	// reference into a stack shard's slab, so tearing down stack shards
	// first would leave dangling borrows behind (spec.md §3.2/§9).
	p.allocs.Reset(real)
	p.stacks.Reset(real)

	if p.rainyDayReserve != nil {
		real.Free(p.rainyDayReserve)
		p.rainyDayReserve = nil
	}

	return nil
}

// Dump implements spec.md §4.6's dump algorithm: suspend the calling
// goroutine's own tracking, snapshot/merge/sort/filter, render to spec.dump
// options' chosen sink and format, then restore tracking.
func (p *Profiler) Dump(spec config.DumpSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if spec.OnError {
		if !p.rainyDayUsed.CompareAndSwap(false, true) {
			return errorsx.EmergencyDumpAlreadyRan()
		}

		prevHooks := p.interposer.RegisterHooks(p.blockingHookSet())
		defer p.interposer.RegisterHooks(prevHooks)

		real := p.interposer.RealFuncs()
		if p.rainyDayReserve != nil {
			real.Free(p.rainyDayReserve)
			p.rainyDayReserve = nil
		}
	}

	if !p.enabled.Load() {
		return errorsx.AlreadyDisabled()
	}

	suspend.SuspendCurrentGoroutine()
	defer suspend.ClearCurrentGoroutine()

	s, err := sink.Open(spec.DumpFile)
	if err != nil {
		return err
	}

	method := "library unwinder"
	if p.capturer.Method == capture.MethodFramePointer {
		method = "frame-pointer walker"
	}

	opts := report.Options{
		Filter:         spec.Filter,
		MaxEntries:     spec.MaxEntries,
		Percentage:     spec.Percentage,
		SortByCount:    spec.SortByCount,
		HideDumpAllocs: spec.HideDumpAlloc,
		InternalStats:  spec.InternalStats,
		LiveMode:       p.liveMode.Load(),
		Method:         method,
	}

	rpt := report.Generate(p.stacks, p.sym, opts)

	var stats *report.InternalStats
	if spec.InternalStats {
		stats = p.collectInternalStats()
	}

	if spec.CSV {
		report.WriteCSV(s, rpt, p.sym, opts)
	} else {
		report.WriteText(s, rpt, p.sym, opts, stats)
	}

	return nil
}

// Profile produces a pprof profile of the current aggregation state,
// SPEC_FULL.md's pprof-export expansion grounded on DataDog's cmemprof.
func (p *Profiler) Profile() (*profile.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled.Load() {
		return nil, errorsx.AlreadyDisabled()
	}

	return report.WriteProfile(p.stacks, p.sym, p.liveMode.Load()), nil
}

func (p *Profiler) collectInternalStats() *report.InternalStats {
	stats := &report.InternalStats{
		StackShardLoad: p.stacks.ShardLoads(),
		AllocShardLoad: p.allocs.ShardLoads(),
	}

	missed, transientAlloc, transientResize := p.tracker.Stats()
	stats.MissedFrees = missed
	stats.TransientAllocFailures = transientAlloc
	stats.TransientResizeFailures = transientResize

	count, nanos := p.capturer.Stats()
	stats.CaptureCount = count
	stats.CaptureNanos = nanos

	return stats
}

// Interposer exposes the underlying interposer so a host binary can wire
// its own allocation entry points to it directly (SPEC_FULL.md §0's
// adaptation note).
func (p *Profiler) Interposer() *allocator.Interposer { return p.interposer }

// blockingHookSet builds the trivial hook set spec.md §4.6 step 1 installs
// for the duration of an emergency dump: every entry point blocks on p.mu —
// already held by Dump's own goroutine for the call's whole duration —
// before forwarding to the real allocator. Any other goroutine that calls
// into an allocation entry point while the dump is in flight blocks in the
// hook until p.mu is released, so nothing can consume memory just freed
// from the rainy-day reserve, or otherwise race the reporter's snapshot,
// mid-dump. The dumping goroutine itself never re-enters these hooks: its
// own frees go through RealFuncs directly, not the interposer.
func (p *Profiler) blockingHookSet() *allocator.HookSet {
	real := p.interposer.RealFuncs()

	return &allocator.HookSet{
		Malloc: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.Malloc(size)
		},

		Calloc: func(nmemb, size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.Calloc(nmemb, size)
		},

		Realloc: func(ptr unsafe.Pointer, size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.Realloc(ptr, size)
		},

		Free: func(ptr unsafe.Pointer, retAddr uintptr) {
			p.mu.Lock()
			defer p.mu.Unlock()

			real.Free(ptr)
		},

		PosixMemalign: func(alignment, size uintptr, retAddr uintptr) (unsafe.Pointer, int) {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.PosixMemalign(alignment, size)
		},

		AlignedAllocLegacy: func(alignment, size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.AlignedAllocLegacy(alignment, size)
		},

		MemalignModulo: func(alignment, size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.MemalignModulo(alignment, size)
		},

		PageAlign: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.PageAlign(size)
		},

		PageRound: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			p.mu.Lock()
			defer p.mu.Unlock()

			return real.PageRound(size)
		},
	}
}
