//go:build linux || darwin

package allocator

import "golang.org/x/sys/unix"

// acquireRegion obtains an anonymous, zero-filled mapping of n bytes
// directly from the kernel via mmap, mirroring what the real C allocator
// families ultimately do for any allocation past the small-object
// fast path. Using unix.Mmap here (rather than make([]byte, n)) means the
// real heap backing this profiler's RealFuncs table is genuinely
// page-granular and independently releasable with unix.Munmap.
func acquireRegion(n uintptr) ([]byte, bool) {
	if n == 0 {
		return nil, true
	}

	buf, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false
	}

	return buf, true
}

// releaseRegion returns a region obtained from acquireRegion back to the
// kernel. Best-effort: spec.md §7 treats a failure here the same as any
// other TransientAllocationFailure inside the real allocator — it is not
// surfaced, since a failed unmap leaks memory but never corrupts state.
func releaseRegion(buf []byte) {
	if len(buf) == 0 {
		return
	}

	_ = unix.Munmap(buf)
}
