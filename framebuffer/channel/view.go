package channel

import "github.com/achilleasa/polaris-accum/types"

// View exposes the displayable planes of a whole buffer to frame operations.
// Disabled planes are nil. Frame operations may rewrite the planes in place.
type View struct {
	Width  int
	Height int
	Format ColorFormat

	// Exactly one of the color planes is populated, depending on Format.
	Color8   []uint32
	Color32F []types.Vec4

	Depth  []float32
	Normal []types.Vec3
	Albedo []types.Vec3
}

// Get the number of pixels covered by the view.
func (v *View) Len() int {
	return v.Width * v.Height
}

// Returns true if the view exposes a color plane.
func (v *View) HasColor() bool {
	return v.Color8 != nil || v.Color32F != nil
}

// Get the linear color of pixel i regardless of the stored representation.
func (v *View) Color(i int) types.Vec4 {
	if v.Color32F != nil {
		return v.Color32F[i]
	}
	return DecodeColor(v.Format, v.Color8[i])
}

// Store the linear color c at pixel i using the stored representation.
func (v *View) SetColor(i int, c types.Vec4) {
	if v.Color32F != nil {
		v.Color32F[i] = c
		return
	}
	v.Color8[i] = EncodeColor(v.Format, c)
}

// Encode a linear color into the packed representation used by format.
func EncodeColor(format ColorFormat, c types.Vec4) uint32 {
	if format == SRGBA {
		c[0] = types.LinearToSRGB(c[0])
		c[1] = types.LinearToSRGB(c[1])
		c[2] = types.LinearToSRGB(c[2])
	}
	return types.PackRGBA8(c)
}

// Decode a packed color back to linear space.
func DecodeColor(format ColorFormat, p uint32) types.Vec4 {
	c := types.UnpackRGBA8(p)
	if format == SRGBA {
		c[0] = types.SRGBToLinear(c[0])
		c[1] = types.SRGBToLinear(c[1])
		c[2] = types.SRGBToLinear(c[2])
	}
	return c
}
