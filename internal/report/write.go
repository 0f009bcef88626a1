package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orizon-lang/orizon-siteprof/internal/sink"
	"github.com/orizon-lang/orizon-siteprof/internal/symbolize"
)

// WriteText renders rpt in the text format spec.md §6 describes: a header
// naming the capture method, mode, and filter; one block per entry with
// rank, size/percentage, count/percentage, and indented frame lines; a
// trailer with totals; and an optional internal-statistics block.
func WriteText(s sink.Sink, rpt *Report, sym symbolize.Symbolizer, opts Options, stats *InternalStats) {
	mode := "cumulative"
	if opts.LiveMode {
		mode = "live"
	}

	header := fmt.Sprintf("capture method: %s, mode: %s", opts.Method, mode)
	if opts.Filter != "" {
		header += fmt.Sprintf(", filter: %q", opts.Filter)
	}

	s.Println(header)

	for i, e := range rpt.Entries {
		s.Println(fmt.Sprintf("Stack %d of %d: %d bytes (%.1f %%), %d allocations (%.1f %%)",
			i+1, len(rpt.Entries), e.Bytes, percent(e.Bytes, rpt.TotalBytes), e.Count, percent(e.Count, rpt.TotalCount)))

		for _, line := range formatFrames(e.Agg, sym) {
			s.Println("  " + line)
		}
	}

	uniqueSuffix := ""
	if opts.LiveMode {
		uniqueSuffix = " (including stacks with no alive allocations)"
	}

	s.Println(fmt.Sprintf("total: %d bytes, %d allocations, %d unique stacks%s", rpt.TotalBytes, rpt.TotalCount, rpt.TotalUnique, uniqueSuffix))
	s.Println(fmt.Sprintf("printed: %d bytes, %d allocations", rpt.PrintedBytes, rpt.PrintedCount))

	if opts.InternalStats && stats != nil {
		writeInternalStatsText(s, stats)
	}

	_ = s.Flush()
}

func writeInternalStatsText(s sink.Sink, stats *InternalStats) {
	s.Println("internal stats:")
	s.Println(fmt.Sprintf("  stack shard load: %v", stats.StackShardLoad))
	s.Println(fmt.Sprintf("  alloc shard load: %v", stats.AllocShardLoad))
	s.Println(fmt.Sprintf("  stack bucket array bytes: %d", stats.StackBucketBytes))
	s.Println(fmt.Sprintf("  slab bytes owned: %d", stats.SlabBytes))
	s.Println(fmt.Sprintf("  stack capture: %d calls, %d ns total", stats.CaptureCount, stats.CaptureNanos))
	s.Println(fmt.Sprintf("  missed frees: %d", stats.MissedFrees))
	s.Println(fmt.Sprintf("  transient allocation failures: %d", stats.TransientAllocFailures))
	s.Println(fmt.Sprintf("  transient resize failures: %d", stats.TransientResizeFailures))
	s.Println(fmt.Sprintf("  tracked/untracked: %d/%d", stats.TrackedAllocations, stats.UntrackedAllocations))
}

// WriteCSV renders rpt as a header-then-row CSV table with quoted string
// fields, spec.md §6's CSV mode.
func WriteCSV(s sink.Sink, rpt *Report, sym symbolize.Symbolizer, opts Options) {
	s.Println("rank,bytes,bytes_pct,count,count_pct,frames")

	for i, e := range rpt.Entries {
		frames := strings.Join(formatFrames(e.Agg, sym), " | ")

		row := strings.Join([]string{
			strconv.Itoa(i + 1),
			strconv.FormatUint(e.Bytes, 10),
			strconv.FormatFloat(percent(e.Bytes, rpt.TotalBytes), 'f', 1, 64),
			strconv.FormatUint(e.Count, 10),
			strconv.FormatFloat(percent(e.Count, rpt.TotalCount), 'f', 1, 64),
			quoteCSV(frames),
		}, ",")

		s.Println(row)
	}

	_ = s.Flush()
}

func quoteCSV(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
