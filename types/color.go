package types

import "math"

// Convert a linear color component to its sRGB encoded value.
func LinearToSRGB(c float32) float32 {
	c = Clamp(c, 0, 1)
	if c <= 0.0031308 {
		return c * 12.92
	}
	return float32(1.055*math.Pow(float64(c), 1.0/2.4) - 0.055)
}

// Convert an sRGB encoded color component back to linear space.
func SRGBToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return float32(math.Pow((float64(c)+0.055)/1.055, 2.4))
}

// Pack a [0, 1] RGBA color into a little-endian uint32 (r in the low byte).
func PackRGBA8(c Vec4) uint32 {
	return uint32(toByte(c[0])) |
		uint32(toByte(c[1]))<<8 |
		uint32(toByte(c[2]))<<16 |
		uint32(toByte(c[3]))<<24
}

// Unpack a color previously packed with PackRGBA8.
func UnpackRGBA8(p uint32) Vec4 {
	return Vec4{
		float32(p&0xff) / 255.0,
		float32((p>>8)&0xff) / 255.0,
		float32((p>>16)&0xff) / 255.0,
		float32(p>>24) / 255.0,
	}
}

// Relative luminance of a linear color.
func Luminance(c Vec3) float32 {
	return 0.2126*c[0] + 0.7152*c[1] + 0.0722*c[2]
}

func toByte(c float32) uint8 {
	return uint8(Clamp(c, 0, 1)*255.0 + 0.5)
}
