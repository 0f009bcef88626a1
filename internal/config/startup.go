package config

import "time"

// StartupFlags mirrors the flags spec.md §6 says host-process collaborators
// pass in, unchanged in meaning.
type StartupFlags struct {
	EnableAtStartup   bool
	EnableDelay       time.Duration
	DumpCount         int
	DumpInterval      time.Duration
	DumpDelay         time.Duration
	DumpOutput        string
	DumpFilter        string
	DumpPercentage    int
	DumpMaxEntries    int
	DumpSortByCount   bool
	DumpHideAllocs    bool
	DumpInternalStats bool
	StackDepth        int
	UseBacktrace      bool
	OnlyNth           int
	TrackFree         bool
	DetailedStats     bool
	DumpOnError       bool
	RainyDayFundBytes uint64
	ExitIfEnableFails bool
}

// EnableSpec is the option set for the enable() operator command
// (spec.md §6).
type EnableSpec struct {
	StackDepth    int
	UseBacktrace  bool
	OnlyNth       int
	Force         bool
	TrackFree     bool
	DetailedStats bool
	RainyDayFund  uint64
}

// DefaultEnableSpec returns the defaults named in spec.md §6.
func DefaultEnableSpec() EnableSpec {
	return EnableSpec{
		StackDepth:   12,
		UseBacktrace: false,
		OnlyNth:      1,
		Force:        false,
		TrackFree:    false,
	}
}

// DumpSpec is the option set for the dump() operator command
// (spec.md §6).
type DumpSpec struct {
	DumpFile      string
	Filter        string
	MaxEntries    int
	Percentage    int
	SortByCount   bool
	HideDumpAlloc bool
	InternalStats bool
	OnError       bool
	CSV           bool
}

// DefaultDumpSpec returns the defaults named in spec.md §6.
func DefaultDumpSpec() DumpSpec {
	return DumpSpec{
		DumpFile:      "stdout",
		MaxEntries:    10,
		Percentage:    0,
		HideDumpAlloc: true,
	}
}
