package dispatch

import (
	"unsafe"

	"github.com/orizon-lang/orizon-siteprof/internal/allocator"
	"github.com/orizon-lang/orizon-siteprof/internal/siteagg"
)

// The site variables below give each allocating replacement a stable,
// distinct "calleePC" to pass to Tracker.creditAlloc, standing in for the
// address of the real C entry point a native interposer would report
// (spec.md §4.2 step 4's "which API was called"). Declaring one tiny
// function per allocating entry point (Free credits nothing and has none)
// and taking the address of the package-level variable itself (never a
// by-value copy of it) is the simplest portable way to get eight stable,
// distinct non-zero values without relying on reflect.
var (
	mallocSite             = func() {}
	callocSite             = func() {}
	reallocSite            = func() {}
	posixMemalignSite      = func() {}
	alignedAllocLegacySite = func() {}
	memalignModuloSite     = func() {}
	pageAlignSite          = func() {}
	pageRoundSite          = func() {}
)

// siteAddr returns the address of one of the package-level site variables
// above. It must be called as siteAddr(&mallocSite) etc. — taking the
// address of a by-value func() parameter would instead yield a fresh,
// heap-escaped copy's address on every call, which is neither stable nor
// distinct across sites.
func siteAddr(fn *func()) uintptr {
	return uintptr(unsafe.Pointer(fn))
}

// creditIfTrackable is the common tail shared by every non-realloc
// allocating hook: fingerprint the result, bail out untracked, else credit.
func (t *Tracker) creditIfTrackable(result unsafe.Pointer, calleePC, retAddr uintptr) {
	ptrHash := siteagg.FingerprintPointer(uintptr(result))
	if !t.trackable(ptrHash) {
		return
	}

	t.creditAlloc(result, calleePC, retAddr, uint64(t.real.MallocSize(result)))
}

// NewHookSet builds the allocator.HookSet spec.md §4.2 describes, closing
// over t. Installing it (via Interposer.RegisterHooks) turns every
// replacement call into a dispatch through this tracker.
func NewHookSet(t *Tracker) *allocator.HookSet {
	return &allocator.HookSet{
		Malloc: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			result := t.real.Malloc(size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&mallocSite), retAddr)
			}

			return result
		},

		Calloc: func(nmemb, size uintptr, retAddr uintptr) unsafe.Pointer {
			result := t.real.Calloc(nmemb, size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&callocSite), retAddr)
			}

			return result
		},

		Realloc: func(ptr unsafe.Pointer, size uintptr, retAddr uintptr) unsafe.Pointer {
			return t.dispatchRealloc(ptr, size, retAddr)
		},

		Free: func(ptr unsafe.Pointer, retAddr uintptr) {
			if ptr == nil {
				t.real.Free(ptr)

				return
			}

			t.debitFree(ptr)
			t.real.Free(ptr)
		},

		PosixMemalign: func(alignment, size uintptr, retAddr uintptr) (unsafe.Pointer, int) {
			result, rc := t.real.PosixMemalign(alignment, size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&posixMemalignSite), retAddr)
			}

			return result, rc
		},

		AlignedAllocLegacy: func(alignment, size uintptr, retAddr uintptr) unsafe.Pointer {
			result := t.real.AlignedAllocLegacy(alignment, size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&alignedAllocLegacySite), retAddr)
			}

			return result
		},

		MemalignModulo: func(alignment, size uintptr, retAddr uintptr) unsafe.Pointer {
			result := t.real.MemalignModulo(alignment, size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&memalignModuloSite), retAddr)
			}

			return result
		},

		PageAlign: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			result := t.real.PageAlign(size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&pageAlignSite), retAddr)
			}

			return result
		},

		PageRound: func(size uintptr, retAddr uintptr) unsafe.Pointer {
			result := t.real.PageRound(size)
			if result != nil {
				t.creditIfTrackable(result, siteAddr(&pageRoundSite), retAddr)
			}

			return result
		},
	}
}

// dispatchRealloc implements spec.md §4.2's resize algorithm: speculative
// debit of the old pointer, then the real call, then either a re-credit (on
// failure with new_size > 0), a debit-only (new_size == 0, the
// free-equivalent case), or a credit of the new pointer (success).
func (t *Tracker) dispatchRealloc(ptr unsafe.Pointer, size uintptr, retAddr uintptr) unsafe.Pointer {
	if !t.liveMode.Load() || ptr == nil {
		result := t.real.Realloc(ptr, size)
		if result != nil {
			t.creditIfTrackable(result, siteAddr(&reallocSite), retAddr)
		}

		return result
	}

	agg, debitedSize := t.debitPointer(ptr)

	result := t.real.Realloc(ptr, size)

	if result == nil {
		if size > 0 && agg != nil {
			t.recreditAgg(agg, debitedSize)
		}

		return nil
	}

	if size == 0 {
		// resize-as-free: already debited above, nothing more to do.
		return result
	}

	t.creditIfTrackable(result, siteAddr(&reallocSite), retAddr)

	return result
}
