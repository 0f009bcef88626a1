package symbolize

import "reflect"

// testTargetFuncPC returns a program counter inside this function (its
// entry address), a stable target for symbolizer tests to resolve.
func testTargetFuncPC() uint64 {
	return uint64(reflect.ValueOf(testTargetFuncPC).Pointer())
}
