package channel

import "unsafe"

// Byte alignment requested for every channel plane so that vectorized
// kernels can process pixel runs without peeling.
const alignment = 64

// Allocate a zeroed slice of n elements whose first element is aligned to
// alignment bytes. If the element size makes the alignment unreachable the
// allocator's natural alignment is used instead.
func alignedSlice[T any](n int) []T {
	buf := make([]T, n+alignment)
	for off := 0; off < alignment; off++ {
		if uintptr(unsafe.Pointer(&buf[off]))%alignment == 0 {
			return buf[off : off+n : off+n]
		}
	}
	return buf[:n:n]
}

// Get the address of the first element of a slice or nil if the slice is empty.
func basePointer[T any](s []T) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}
