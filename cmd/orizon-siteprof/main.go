// Command orizon-siteprof hosts the allocation call-site profiler as a
// standalone process: it builds a control.Profiler, drives it from the
// startup-flag surface spec.md §6 describes (enable at startup, periodic
// dumps, a trigger-file watcher for out-of-band dumps), and optionally
// exercises the wiring with a small demo allocation workload.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unsafe"

	"github.com/orizon-lang/orizon-siteprof/internal/cli"
	"github.com/orizon-lang/orizon-siteprof/internal/config"
	"github.com/orizon-lang/orizon-siteprof/internal/control"
	"github.com/orizon-lang/orizon-siteprof/internal/scheduler"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")

		enableAtStartup = flag.Bool("enable-at-startup", true, "enable the profiler as soon as the process starts")
		enableDelay     = flag.String("enable-delay", "0s", "delay before the initial enable, as a time span (e.g. 2s, 1m)")

		dumpCount         = flag.Int("dump-count", 0, "number of periodic dumps to perform (0 = unlimited)")
		dumpInterval      = flag.String("dump-interval", "0s", "interval between periodic dumps (0s disables periodic dumping)")
		dumpDelay         = flag.String("dump-delay", "0s", "delay before the first periodic dump")
		dumpOutput        = flag.String("dump-output", "stdout", `dump destination: "stdout", "stderr", or a path (may contain @pid)`)
		dumpFilter        = flag.String("dump-filter", "", "substring filter applied to symbolized frames")
		dumpPercentage    = flag.Int("dump-percentage", 0, "stop emitting once this percentage of total bytes is printed (0 = ignore)")
		dumpMaxEntries    = flag.Int("dump-max-entries", 10, "maximum number of stacks per dump")
		dumpSortByCount   = flag.Bool("dump-sort-by-count", false, "sort by allocation count instead of bytes")
		dumpHideAllocs    = flag.Bool("dump-hide-allocs", true, "hide stacks that resolve entirely into this tool's own packages")
		dumpInternalStats = flag.Bool("dump-internal-stats", false, "include the internal-statistics block in each dump")
		dumpCSV           = flag.Bool("dump-csv", false, "emit dumps as CSV instead of text")

		stackDepth    = flag.Int("stack-depth", 12, "maximum captured stack depth")
		useBacktrace  = flag.Bool("use-backtrace", false, "use the library unwinder instead of the frame-pointer-walker method")
		onlyNth       = flag.Int("only-nth", 1, "track roughly 1/only_nth of allocations")
		trackFree     = flag.Bool("track-free", false, "live mode: track frees so dumps report only outstanding allocations")
		detailedStats = flag.Bool("detailed-stats", false, "maintain stack-capture timing counters")
		dumpOnError   = flag.Bool("dump-on-error", false, "perform an emergency dump if the demo workload panics")

		rainyDayFund      = flag.Uint64("rainy-day-fund", 0, "bytes to pre-reserve for the emergency-dump path")
		exitIfEnableFails = flag.Bool("exit-if-enable-fails", false, "exit non-zero if the initial enable fails")

		triggerFile  = flag.String("trigger-file", "", "watch this path; a create/write triggers an out-of-band dump")
		demoWorkload = flag.Bool("demo-workload", false, "run a small allocation workload through the interposer to exercise the profiler")

		numStackShards = flag.Uint("stack-shards", 64, "number of stack-map shards (power of two)")
		numAllocShards = flag.Uint("alloc-shards", 64, "number of alloc-map shards (power of two)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Always-on allocation call-site profiler host process.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("orizon-siteprof", *jsonOutput)
		os.Exit(0)
	}

	logger := cli.NewLogger(true, false)

	flags := parseFlags(logger, *enableDelay)

	p := control.New(uint32(*numStackShards), uint32(*numAllocShards))

	if *enableAtStartup {
		if flags.EnableDelay > 0 {
			time.Sleep(flags.EnableDelay)
		}

		spec := config.EnableSpec{
			StackDepth:    *stackDepth,
			UseBacktrace:  *useBacktrace,
			OnlyNth:       *onlyNth,
			TrackFree:     *trackFree,
			DetailedStats: *detailedStats,
			RainyDayFund:  *rainyDayFund,
		}

		if err := p.Enable(spec); err != nil {
			logger.Error("enable failed: %v", err)

			if *exitIfEnableFails {
				os.Exit(1)
			}
		} else {
			logger.Info("profiler enabled (stack_depth=%d, only_nth=%d, track_free=%v)", *stackDepth, *onlyNth, *trackFree)
		}
	}

	dumpSpec := config.DumpSpec{
		DumpFile:      *dumpOutput,
		Filter:        *dumpFilter,
		MaxEntries:    *dumpMaxEntries,
		Percentage:    *dumpPercentage,
		SortByCount:   *dumpSortByCount,
		HideDumpAlloc: *dumpHideAllocs,
		InternalStats: *dumpInternalStats,
		CSV:           *dumpCSV,
	}

	var sched *scheduler.Scheduler

	if interval, err := parseSpan(*dumpInterval); err == nil && interval > 0 {
		delay, _ := parseSpan(*dumpDelay)
		remaining := *dumpCount

		sched = scheduler.Every(interval, delay, func() {
			if err := p.Dump(dumpSpec); err != nil {
				logger.Error("periodic dump failed: %v", err)
			}

			if remaining > 0 {
				remaining--
				if remaining == 0 {
					sched.Stop()
				}
			}
		})
	}

	var trigger *scheduler.TriggerWatcher

	if *triggerFile != "" {
		var err error

		trigger, err = scheduler.WatchFile(*triggerFile)
		if err != nil {
			logger.Warn("could not watch trigger file %q: %v", *triggerFile, err)
		} else {
			go func() {
				for range trigger.Events() {
					if err := p.Dump(dumpSpec); err != nil {
						logger.Error("triggered dump failed: %v", err)
					}
				}
			}()
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	if *demoWorkload {
		runDemoWorkload(p, logger, dumpSpec, *dumpOnError)
	}

	<-sigc

	if sched != nil {
		sched.Stop()
	}

	if trigger != nil {
		trigger.Close()
	}

	if err := p.Disable(); err != nil {
		logger.Warn("disable: %v", err)
	}
}

func parseFlags(logger *cli.Logger, enableDelay string) config.StartupFlags {
	ed, err := parseSpan(enableDelay)
	if err != nil {
		logger.Warn("invalid enable-delay %q: %v", enableDelay, err)
	}

	return config.StartupFlags{EnableDelay: ed}
}

func parseSpan(s string) (time.Duration, error) {
	return config.ParseTimeSpan(s)
}

// runDemoWorkload drives the interposer directly with a small pseudo-random
// allocation mix, standing in for "the host process's own calls into the
// allocation API" since this Go-hosted profiler has no libc to interpose
// on (SPEC_FULL.md §0). It exists to exercise the wiring end to end. If it
// panics and dumpOnError is set, it performs the emergency dump spec.md
// §4.6/§7 describes before letting the panic continue to propagate.
func runDemoWorkload(p *control.Profiler, logger *cli.Logger, dumpSpec config.DumpSpec, dumpOnError bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("demo workload panicked: %v", r)

			if dumpOnError {
				errSpec := dumpSpec
				errSpec.OnError = true

				if err := p.Dump(errSpec); err != nil {
					logger.Error("emergency dump failed: %v", err)
				}
			}

			panic(r)
		}
	}()

	in := p.Interposer()
	rng := rand.New(rand.NewSource(1))

	var live []unsafe.Pointer

	for i := 0; i < 1000; i++ {
		size := uintptr(rng.Intn(256) + 1)
		ptr := in.Malloc(size, 0)

		if ptr == nil {
			continue
		}

		if rng.Intn(3) != 0 {
			live = append(live, ptr)
		} else {
			in.Free(ptr, 0)
		}
	}

	for _, ptr := range live {
		in.Free(ptr, 0)
	}
}
