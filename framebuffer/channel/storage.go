package channel

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/achilleasa/polaris-accum/types"
)

// Storage holds one flat row-major plane per enabled channel. Dimensions and
// the enabled channel set are fixed at construction time.
//
// Storage is a shared-ownership handle: it is created with a single reference
// held by its owner and additional references are taken for every outstanding
// external mapping. The planes are released when the last reference is dropped.
type Storage struct {
	width  int
	height int
	format ColorFormat
	mask   Mask

	color8   []uint32
	color32F []types.Vec4
	depth    []float32
	accum    []types.Vec4
	variance []types.Vec4
	normal   []types.Vec3
	albedo   []types.Vec3

	// Linear color of every pixel after tile operations. The color plane is
	// rebuilt from it before frame operations run.
	resolved []types.Vec4

	// Total accumulated sample weight per pixel and the weight of the
	// odd passes folded into the variance plane.
	weight         []float32
	varianceWeight []float32

	// Plane addresses captured at allocation time.
	pointers [numChannels]unsafe.Pointer

	refs     atomic.Int32
	freeOnce sync.Once
	onFree   func()
}

// Allocate storage for a width x height buffer. The color plane is allocated
// whenever format is not None; the remaining planes follow the mask. All
// accumulation related planes start zeroed.
func NewStorage(width, height int, format ColorFormat, mask Mask) (*Storage, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}
	if format > RGBA32F {
		return nil, ErrUnknownFormat
	}

	n := width * height
	s := &Storage{
		width:  width,
		height: height,
		format: format,
		mask:   mask &^ ColorBit,
	}

	switch format {
	case RGBA8, SRGBA:
		s.color8 = alignedSlice[uint32](n)
		s.pointers[Color] = basePointer(s.color8)
		s.mask |= ColorBit
	case RGBA32F:
		s.color32F = alignedSlice[types.Vec4](n)
		s.pointers[Color] = basePointer(s.color32F)
		s.mask |= ColorBit
	}
	if format != None {
		s.resolved = alignedSlice[types.Vec4](n)
	}

	if mask.Has(Depth) {
		s.depth = alignedSlice[float32](n)
		s.pointers[Depth] = basePointer(s.depth)
	}
	if mask.Has(Accum) {
		s.accum = alignedSlice[types.Vec4](n)
		s.pointers[Accum] = basePointer(s.accum)
	}
	if mask.Has(Variance) {
		s.variance = alignedSlice[types.Vec4](n)
		s.varianceWeight = alignedSlice[float32](n)
		s.pointers[Variance] = basePointer(s.variance)
	}
	if mask.Has(Normal) {
		s.normal = alignedSlice[types.Vec3](n)
		s.pointers[Normal] = basePointer(s.normal)
	}
	if mask.Has(Albedo) {
		s.albedo = alignedSlice[types.Vec3](n)
		s.pointers[Albedo] = basePointer(s.albedo)
	}
	if mask&(AccumBit|DepthBit|NormalBit|AlbedoBit) != 0 {
		s.weight = alignedSlice[float32](n)
	}

	s.refs.Store(1)
	return s, nil
}

// Register a callback that is invoked once the planes have been released.
func (s *Storage) OnFree(fn func()) {
	s.onFree = fn
}

// Get buffer width.
func (s *Storage) Width() int { return s.width }

// Get buffer height.
func (s *Storage) Height() int { return s.height }

// Get the number of pixels in each plane.
func (s *Storage) Len() int { return s.width * s.height }

// Get the color representation.
func (s *Storage) Format() ColorFormat { return s.format }

// Get the enabled channel mask.
func (s *Storage) Mask() Mask { return s.mask }

func (s *Storage) HasColor() bool    { return s.mask.Has(Color) }
func (s *Storage) HasDepth() bool    { return s.mask.Has(Depth) }
func (s *Storage) HasAccum() bool    { return s.mask.Has(Accum) }
func (s *Storage) HasVariance() bool { return s.mask.Has(Variance) }
func (s *Storage) HasNormal() bool   { return s.mask.Has(Normal) }
func (s *Storage) HasAlbedo() bool   { return s.mask.Has(Albedo) }

// Returns true if a per-pixel weight plane is maintained.
func (s *Storage) HasWeight() bool { return s.weight != nil }

// Raw plane accessors. A disabled channel returns a nil slice.
func (s *Storage) Color8() []uint32          { return s.color8 }
func (s *Storage) Color32F() []types.Vec4    { return s.color32F }
func (s *Storage) Depth() []float32          { return s.depth }
func (s *Storage) AccumSum() []types.Vec4    { return s.accum }
func (s *Storage) VarianceSum() []types.Vec4 { return s.variance }
func (s *Storage) Normal() []types.Vec3      { return s.normal }
func (s *Storage) Albedo() []types.Vec3      { return s.albedo }
func (s *Storage) Weight() []float32         { return s.weight }
func (s *Storage) VarianceWeight() []float32 { return s.varianceWeight }
func (s *Storage) Resolved() []types.Vec4    { return s.resolved }

// Rebuild the color plane from the resolved linear colors.
func (s *Storage) ResolveColor() {
	switch s.format {
	case RGBA8, SRGBA:
		for i, c := range s.resolved {
			s.color8[i] = EncodeColor(s.format, c)
		}
	case RGBA32F:
		copy(s.color32F, s.resolved)
	}
}

// Get the address of a channel plane or nil if the channel is disabled or
// the storage has been released.
func (s *Storage) Pointer(ch Channel) unsafe.Pointer {
	if ch >= numChannels || s.Released() {
		return nil
	}
	return s.pointers[ch]
}

// Check whether ptr is the address of one of the planes of this storage.
func (s *Storage) Owns(ptr unsafe.Pointer) (Channel, bool) {
	if ptr == nil || s.Released() {
		return 0, false
	}
	for ch := Color; ch < numChannels; ch++ {
		if s.pointers[ch] == ptr {
			return ch, true
		}
	}
	return 0, false
}

// Take an additional reference. Returns false if the storage has already
// been released.
func (s *Storage) Retain() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// Drop a reference. When the last reference is dropped the planes are
// released and true is returned.
func (s *Storage) Release() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs-1) {
			if refs > 1 {
				return false
			}
			break
		}
	}

	s.freeOnce.Do(func() {
		s.color8, s.color32F = nil, nil
		s.depth, s.accum, s.variance = nil, nil, nil
		s.normal, s.albedo = nil, nil
		s.weight, s.varianceWeight = nil, nil
		s.resolved = nil
		if s.onFree != nil {
			s.onFree()
		}
	})
	return true
}

// Get the current reference count.
func (s *Storage) RefCount() int32 {
	return s.refs.Load()
}

// Returns true once the planes have been released.
func (s *Storage) Released() bool {
	return s.refs.Load() <= 0
}

// Build a view covering every enabled displayable plane.
func (s *Storage) View() *View {
	return &View{
		Width:    s.width,
		Height:   s.height,
		Format:   s.format,
		Color8:   s.color8,
		Color32F: s.color32F,
		Depth:    s.depth,
		Normal:   s.normal,
		Albedo:   s.albedo,
	}
}
