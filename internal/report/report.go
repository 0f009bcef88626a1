// Package report implements the reporter described in spec.md §4.6: a
// cross-shard snapshot, merge, sort, filter, and render pipeline that turns
// the live contents of a siteagg.StackMap into a text report, a CSV table,
// or a pprof profile.
package report

import (
	"sort"
	"strings"

	"github.com/orizon-lang/orizon-siteprof/internal/siteagg"
	"github.com/orizon-lang/orizon-siteprof/internal/symbolize"
)

// Entry is one merged, ranked line of a report.
type Entry struct {
	Agg   *siteagg.StackAgg
	Bytes uint64
	Count uint64
}

// Options configures report generation, mirroring spec.md §6's dump()
// operator command.
type Options struct {
	Filter         string
	MaxEntries     int
	Percentage     int
	SortByCount    bool
	HideDumpAllocs bool
	InternalStats  bool
	LiveMode       bool
	Method         string
}

// InternalStats is the optional internal-statistics block spec.md §4.6 step
// 6 allows a dump to include.
type InternalStats struct {
	StackShardLoad          []uint32
	AllocShardLoad          []uint32
	StackBucketBytes        uint64
	SlabBytes               uint64
	CaptureCount            int64
	CaptureNanos            int64
	MissedFrees             uint64
	TransientAllocFailures  uint64
	TransientResizeFailures uint64
	TrackedAllocations      uint64
	UntrackedAllocations    uint64
}

// Report is the result of Generate: the ranked, filtered entries plus the
// totals spec.md §4.6 step 6 requires a dump to print.
type Report struct {
	Entries      []Entry
	TotalBytes   uint64
	TotalCount   uint64
	TotalUnique  int
	PrintedBytes uint64
	PrintedCount uint64
}

// Generate implements spec.md §4.6 steps 2-4: snapshot every stack shard,
// merge into one ranked list, and cut it at max_entries or percentage,
// applying the substring filter along the way.
//
// A native implementation streams a k-way merge across per-shard snapshots
// to bound peak memory; Go's garbage collector makes that optimization
// unnecessary here; materializing every live entry and sorting once with
// sort.SliceStable produces the exact same externally observable order and is
// the idiomatic Go approach the retrieval pack's own sort-heavy code favors
// over hand-rolled heaps.
func Generate(stacks *siteagg.StackMap, sym symbolize.Symbolizer, opts Options) *Report {
	var (
		totalBytes  uint64
		totalCount  uint64
		totalUnique int
		all         []Entry
	)

	for i := uint32(0); i < stacks.NumShards(); i++ {
		live, unique := stacks.Snapshot(i, false)
		totalUnique += unique

		for _, s := range live {
			totalBytes += s.Bytes
			totalCount += s.Count
			all = append(all, Entry{Agg: s.Agg, Bytes: s.Bytes, Count: s.Count})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if opts.SortByCount {
			if all[i].Count != all[j].Count {
				return all[i].Count > all[j].Count
			}
		} else {
			if all[i].Bytes != all[j].Bytes {
				return all[i].Bytes > all[j].Bytes
			}
		}

		return all[i].Agg.Hash < all[j].Agg.Hash
	})

	limit := opts.MaxEntries
	if limit <= 0 {
		limit = len(all)
	}

	cache := symbolize.NewAddressSet(256)

	var (
		printed      []Entry
		printedBytes uint64
		printedCount uint64
	)

	for _, e := range all {
		if len(printed) >= limit {
			break
		}

		if opts.Percentage > 0 {
			if opts.SortByCount {
				if totalCount > 0 && printedCount >= totalCount*uint64(opts.Percentage)/100 {
					break
				}
			} else if totalBytes > 0 && printedBytes >= totalBytes*uint64(opts.Percentage)/100 {
				break
			}
		}

		if opts.HideDumpAllocs && isOwnPackageStack(e.Agg, sym) {
			continue
		}

		if opts.Filter != "" && !stackMatchesFilter(e.Agg, sym, opts.Filter, cache) {
			continue
		}

		printed = append(printed, e)
		printedBytes += e.Bytes
		printedCount += e.Count
	}

	return &Report{
		Entries:      printed,
		TotalBytes:   totalBytes,
		TotalCount:   totalCount,
		TotalUnique:  totalUnique,
		PrintedBytes: printedBytes,
		PrintedCount: printedCount,
	}
}

// isOwnPackageStack reports whether every frame of agg resolves into this
// module's own packages, the operator-facing safety net spec.md §6's
// hide_dump_allocs option describes, layered on top of (not a replacement
// for) the suspend-tracking flag the reporter already sets before its own
// allocations happen.
func isOwnPackageStack(agg *siteagg.StackAgg, sym symbolize.Symbolizer) bool {
	n := int(agg.FrameCount)
	if n == 0 {
		return false
	}

	for i := 0; i < n; i++ {
		name, _, ok := sym.Symbolize(uint64(agg.Frames[i]))
		if !ok || !strings.Contains(name, "orizon-siteprof/internal/") {
			return false
		}
	}

	return true
}

// stackMatchesFilter implements spec.md §4.6 step 4: an entry survives a
// substring filter if at least one frame's symbolized form contains it. The
// address set caches frames already known not to match, since the same
// instruction address recurs across many StackAggs sharing a tail.
func stackMatchesFilter(agg *siteagg.StackAgg, sym symbolize.Symbolizer, filter string, cache *symbolize.AddressSet) bool {
	n := int(agg.FrameCount)

	for i := 0; i < n; i++ {
		addr := uint64(agg.Frames[i])
		if cache.Contains(addr) {
			continue
		}

		line := symbolize.FormatFrame(sym, addr)
		if strings.Contains(line, filter) {
			return true
		}

		cache.Add(addr)
	}

	return false
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}

	return float64(part) / float64(total) * 100
}

// formatFrames renders every frame of agg the way the text and CSV writers
// both need it, one "[addr]  name  library" line per frame.
func formatFrames(agg *siteagg.StackAgg, sym symbolize.Symbolizer) []string {
	n := int(agg.FrameCount)
	lines := make([]string, 0, n)

	for i := 0; i < n; i++ {
		lines = append(lines, symbolize.FormatFrame(sym, uint64(agg.Frames[i])))
	}

	return lines
}
