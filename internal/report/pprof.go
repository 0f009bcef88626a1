package report

import (
	"os"

	"github.com/google/pprof/profile"

	"github.com/orizon-lang/orizon-siteprof/internal/siteagg"
	"github.com/orizon-lang/orizon-siteprof/internal/symbolize"
)

// WriteProfile builds a pprof profile.Profile out of every StackAgg in
// stacks, including ones whose count has dropped to zero (they become
// zero-valued samples), grounded directly on DataDog's dd-trace-go cmemprof package,
// which does the same "aggregate C allocations by call stack, export as
// pprof" job for a cgo-wrapped interposer. Sample values follow cmemprof's
// convention of four columns so the result merges cleanly against a Go
// runtime allocation profile: alloc_objects, alloc_space, inuse_objects,
// inuse_space. In cumulative mode the inuse_* columns are left at zero,
// since there is no notion of "currently live" without track_free.
func WriteProfile(stacks *siteagg.StackMap, sym symbolize.Symbolizer, liveMode bool) *profile.Profile {
	p := &profile.Profile{}
	m := &profile.Mapping{ID: 1, File: os.Args[0]}

	p.PeriodType = &profile.ValueType{Type: "space", Unit: "bytes"}
	p.Period = 1
	p.Mapping = []*profile.Mapping{m}
	p.SampleType = []*profile.ValueType{
		{Type: "alloc_objects", Unit: "count"},
		{Type: "alloc_space", Unit: "bytes"},
		{Type: "inuse_objects", Unit: "count"},
		{Type: "inuse_space", Unit: "bytes"},
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[uint64]*profile.Location)

	for i := uint32(0); i < stacks.NumShards(); i++ {
		live, _ := stacks.Snapshot(i, true)

		for _, entry := range live {
			values := []int64{int64(entry.Count), int64(entry.Bytes), 0, 0}
			if liveMode {
				values[2] = int64(entry.Count)
				values[3] = int64(entry.Bytes)
			}

			psample := &profile.Sample{Value: values}

			n := int(entry.Agg.FrameCount)
			for fi := 0; fi < n; fi++ {
				addr := uint64(entry.Agg.Frames[fi])

				loc, ok := locations[addr]
				if !ok {
					loc = buildLocation(addr, uint64(len(locations))+1, sym, m, functions, &p.Function)
					locations[addr] = loc
					p.Location = append(p.Location, loc)
				}

				psample.Location = append(psample.Location, loc)
			}

			p.Sample = append(p.Sample, psample)
		}
	}

	return p
}

func buildLocation(addr, id uint64, sym symbolize.Symbolizer, m *profile.Mapping, functions map[string]*profile.Function, allFuncs *[]*profile.Function) *profile.Location {
	loc := &profile.Location{
		ID:      id,
		Mapping: m,
		Address: addr,
	}

	name, _, ok := sym.Symbolize(addr)
	if !ok {
		name = "<unknown code>"
	}

	function, ok := functions[name]
	if !ok {
		function = &profile.Function{
			ID:   uint64(len(*allFuncs)) + 1,
			Name: name,
		}
		functions[name] = function
		*allFuncs = append(*allFuncs, function)
	}

	loc.Line = append(loc.Line, profile.Line{Function: function})

	return loc
}
