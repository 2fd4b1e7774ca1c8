package channel

import (
	"unsafe"

	"github.com/achilleasa/polaris-accum/types"
)

// Get the size in bytes of a single element of the given channel.
func ElementSize(ch Channel, format ColorFormat) int {
	switch ch {
	case Color:
		switch format {
		case RGBA8, SRGBA:
			return 4
		case RGBA32F:
			return 16
		}
		return 0
	case Depth:
		return 4
	case Accum, Variance:
		return 16
	case Normal, Albedo:
		return 12
	}
	return 0
}

// View a mapped packed color plane as a uint32 slice with n elements.
func AsUint32(ptr unsafe.Pointer, n int) []uint32 {
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*uint32)(ptr), n)
}

// View a mapped depth plane as a float32 slice with n elements.
func AsFloat32(ptr unsafe.Pointer, n int) []float32 {
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(ptr), n)
}

// View a mapped normal or albedo plane as a Vec3 slice with n elements.
func AsVec3(ptr unsafe.Pointer, n int) []types.Vec3 {
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*types.Vec3)(ptr), n)
}

// View a mapped float color, accumulation or variance plane as a Vec4 slice with n elements.
func AsVec4(ptr unsafe.Pointer, n int) []types.Vec4 {
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*types.Vec4)(ptr), n)
}
