package allocator

import (
	"testing"
	"unsafe"
)

func TestRealFuncsMallocFree(t *testing.T) {
	real := NewRealFuncs()

	t.Run("BasicRoundTrip", func(t *testing.T) {
		ptr := real.Malloc(128)
		if ptr == nil {
			t.Fatal("Malloc(128) returned nil")
		}

		data := (*[128]byte)(ptr)
		for i := range data {
			data[i] = byte(i)
		}

		if real.MallocSize(ptr) != 128 {
			t.Errorf("MallocSize = %d, want 128", real.MallocSize(ptr))
		}

		real.Free(ptr)

		if real.MallocSize(ptr) != 0 {
			t.Error("MallocSize after Free should be 0 (pointer no longer tracked)")
		}
	})

	t.Run("ZeroSizeReturnsNil", func(t *testing.T) {
		if ptr := real.Malloc(0); ptr != nil {
			t.Error("Malloc(0) should return nil")
		}
	})

	t.Run("FreeNilIsNoOp", func(t *testing.T) {
		real.Free(nil) // must not panic
	})
}

func TestRealFuncsCalloc(t *testing.T) {
	real := NewRealFuncs()

	ptr := real.Calloc(16, 8)
	if ptr == nil {
		t.Fatal("Calloc(16, 8) returned nil")
	}

	data := (*[128]byte)(ptr)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}

	if real.MallocSize(ptr) != 128 {
		t.Errorf("MallocSize = %d, want 128", real.MallocSize(ptr))
	}

	t.Run("OverflowReturnsNil", func(t *testing.T) {
		huge := ^uintptr(0)
		if ptr := real.Calloc(huge, 2); ptr != nil {
			t.Error("Calloc with overflowing nmemb*size should return nil")
		}
	})
}

func TestRealFuncsRealloc(t *testing.T) {
	real := NewRealFuncs()

	t.Run("NilPointerActsAsMalloc", func(t *testing.T) {
		ptr := real.Realloc(nil, 64)
		if ptr == nil {
			t.Fatal("Realloc(nil, 64) should behave like Malloc(64)")
		}

		real.Free(ptr)
	})

	t.Run("ZeroSizeActsAsFree", func(t *testing.T) {
		ptr := real.Malloc(64)

		result := real.Realloc(ptr, 0)
		if result != nil {
			t.Error("Realloc(ptr, 0) should return nil")
		}

		if real.MallocSize(ptr) != 0 {
			t.Error("original pointer should no longer be tracked after Realloc(ptr, 0)")
		}
	})

	t.Run("GrowPreservesData", func(t *testing.T) {
		ptr := real.Malloc(32)

		data := (*[32]byte)(ptr)
		for i := range data {
			data[i] = byte(i + 1)
		}

		grown := real.Realloc(ptr, 64)
		if grown == nil {
			t.Fatal("grow realloc returned nil")
		}

		grownData := (*[64]byte)(grown)
		for i := 0; i < 32; i++ {
			if grownData[i] != byte(i+1) {
				t.Fatalf("data corrupted at byte %d after grow", i)
			}
		}
	})
}

func TestRealFuncsAlignedVariants(t *testing.T) {
	real := NewRealFuncs()

	t.Run("PosixMemalignRejectsBadAlignment", func(t *testing.T) {
		_, rc := real.PosixMemalign(3, 16) // not a power of two
		if rc == 0 {
			t.Error("expected non-zero error code for a non-power-of-two alignment")
		}
	})

	t.Run("PosixMemalignSucceeds", func(t *testing.T) {
		ptr, rc := real.PosixMemalign(16, 64)
		if rc != 0 || ptr == nil {
			t.Fatalf("PosixMemalign(16, 64) failed: ptr=%v rc=%d", ptr, rc)
		}

		if uintptr(ptr)%16 != 0 {
			t.Errorf("returned pointer %#x is not 16-byte aligned", uintptr(ptr))
		}
	})

	t.Run("MemalignModuloRequiresSizeMultiple", func(t *testing.T) {
		if ptr := real.MemalignModulo(8, 10); ptr != nil {
			t.Error("MemalignModulo should reject a size that is not a multiple of alignment")
		}

		ptr := real.MemalignModulo(8, 16)
		if ptr == nil {
			t.Fatal("MemalignModulo(8, 16) should succeed")
		}
	})

	t.Run("PageAlignAndPageRound", func(t *testing.T) {
		ptr := real.PageAlign(100)
		if ptr == nil {
			t.Fatal("PageAlign(100) returned nil")
		}

		rounded := real.PageRound(100)
		if rounded == nil {
			t.Fatal("PageRound(100) returned nil")
		}

		if real.MallocSize(rounded)%uintptr(pageSize) != 0 {
			t.Errorf("PageRound result size %d not a multiple of page size %d", real.MallocSize(rounded), pageSize)
		}
	})
}

func TestRealFuncsMallocSizeUnknownPointer(t *testing.T) {
	real := NewRealFuncs()

	var stackVar byte

	if size := real.MallocSize(unsafe.Pointer(&stackVar)); size != 0 {
		t.Errorf("MallocSize of an untracked pointer = %d, want 0", size)
	}
}
