// Package symbolize provides the Symbolizer collaborator named in
// spec.md §6 ("symbolize(address, out_buf) -> (name, library)") along with
// the address-set cache the reporter uses to avoid re-symbolizing frames
// it has already classified during a filter pass.
//
// The core profiler treats symbolization as an external collaborator
// behind this narrow interface; this package also ships one concrete,
// Go-idiomatic implementation so the reporter is runnable standalone,
// adapted from Orizon's internal/debug Frame/PCMap types (see Frame and
// runtimeSymbolizer below) generalized from Orizon's pseudo-PC bytecode
// addressing to real process return addresses.
package symbolize

import (
	"fmt"
	"runtime"
)

// Frame is one symbolized stack frame, grounded on
// internal/debug/stacktrace.go's Frame type in the teacher repository.
type Frame struct {
	Function string
	File     string
	Library  string
	PC       uint64
	Line     int
}

// Symbolizer is the narrow interface spec.md §6 assumes an external
// collaborator satisfies: resolve one instruction address to a symbol name
// and owning library/module.
type Symbolizer interface {
	Symbolize(addr uint64) (name, library string, ok bool)
}

// runtimeSymbolizer resolves addresses captured from the current Go
// process via runtime.FuncForPC — the real, always-available symbolizer
// this module ships, distinct from (and swappable for) a DWARF- or
// addr2line-backed one a deployment might prefer. The library it reports
// is the source file of the function containing addr, not a module name.
type runtimeSymbolizer struct{}

// NewRuntimeSymbolizer returns the default Symbolizer.
func NewRuntimeSymbolizer() Symbolizer { return runtimeSymbolizer{} }

func (runtimeSymbolizer) Symbolize(addr uint64) (string, string, bool) {
	fn := runtime.FuncForPC(uintptr(addr))
	if fn == nil {
		return "", "", false
	}

	file, _ := fn.FileLine(uintptr(addr))

	return fn.Name(), file, true
}

// FormatFrame renders one frame the way the reporter's per-stack lines do:
// "[0x....]  symbol  library", or "[0x....]  symbol" when the library is
// empty. No "+ offset" is printed after the symbol: Symbolizer reports no
// function start address to compute one from.
// SymbolizationFailure (spec.md §7) prints "<unknown code>" and continues
// rather than aborting the dump.
func FormatFrame(sym Symbolizer, addr uint64) string {
	name, lib, ok := sym.Symbolize(addr)
	if !ok || name == "" {
		name = "<unknown code>"
	}

	if lib == "" {
		return fmt.Sprintf("[0x%016x]  %s", addr, name)
	}

	return fmt.Sprintf("[0x%016x]  %s  %s", addr, name, lib)
}
