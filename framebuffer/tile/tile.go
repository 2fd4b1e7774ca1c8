// Package tile defines the unit of work handed from rendering workers to a
// frame buffer.
package tile

import (
	"image"

	"github.com/achilleasa/polaris-accum/types"
)

// Edge length of a tile in pixels.
const Size = 32

// Number of pixel slots in a tile.
const Pixels = Size * Size

// A tile carries the per-pixel sample contributions of one rendering pass over
// a rectangular frame region. Contributions are stored as planes indexed by
// Index(x, y) relative to the region origin. Region is clipped to the frame so
// edge tiles may cover fewer than Size x Size pixels.
type Tile struct {
	// Pixel region covered by this tile.
	Region image.Rectangle

	// Dimensions of the target frame buffer.
	FbSize image.Point

	// Number of passes this tile position received before this one.
	AccumID int32

	// Color contribution.
	R, G, B, A [Pixels]float32

	// Depth contribution.
	Z [Pixels]float32

	// Normal and albedo contributions.
	Nx, Ny, Nz [Pixels]float32
	Ar, Ag, Ab [Pixels]float32

	// Accumulation weight for each pixel; zero is treated as one.
	W [Pixels]float32
}

// Create a tile for the tile grid cell at pos, clipped to the frame dimensions.
func New(pos image.Point, fbSize image.Point) *Tile {
	t := &Tile{FbSize: fbSize}
	t.Region = RegionAt(pos, fbSize)
	return t
}

// Get the pixel region of the tile grid cell at pos clipped to the frame.
func RegionAt(pos image.Point, fbSize image.Point) image.Rectangle {
	min := pos.Mul(Size)
	return image.Rectangle{Min: min, Max: min.Add(image.Pt(Size, Size))}.
		Intersect(image.Rectangle{Max: fbSize})
}

// Get the number of tiles required to cover a frame with the given dimensions.
func GridSize(fbSize image.Point) image.Point {
	return image.Pt((fbSize.X+Size-1)/Size, (fbSize.Y+Size-1)/Size)
}

// Get the tile grid position of this tile.
func (t *Tile) Position() image.Point {
	return t.Region.Min.Div(Size)
}

// Get the plane index of the pixel at (x, y) relative to the region origin.
func Index(x, y int) int {
	return y*Size + x
}

// Get the color contribution of plane slot i.
func (t *Tile) Color(i int) types.Vec4 {
	return types.Vec4{t.R[i], t.G[i], t.B[i], t.A[i]}
}

// Set the color contribution of plane slot i.
func (t *Tile) SetColor(i int, c types.Vec4) {
	t.R[i], t.G[i], t.B[i], t.A[i] = c[0], c[1], c[2], c[3]
}

// Get the normal contribution of plane slot i.
func (t *Tile) Normal(i int) types.Vec3 {
	return types.Vec3{t.Nx[i], t.Ny[i], t.Nz[i]}
}

// Get the albedo contribution of plane slot i.
func (t *Tile) Albedo(i int) types.Vec3 {
	return types.Vec3{t.Ar[i], t.Ag[i], t.Ab[i]}
}

// Get the accumulation weight of plane slot i.
func (t *Tile) Weight(i int) float32 {
	if t.W[i] == 0 {
		return 1
	}
	return t.W[i]
}

// Fill every color slot of the tile with c.
func (t *Tile) Fill(c types.Vec4) {
	for i := 0; i < Pixels; i++ {
		t.SetColor(i, c)
	}
}

// Zero all contributions while keeping the region.
func (t *Tile) Reset() {
	region, fbSize := t.Region, t.FbSize
	*t = Tile{Region: region, FbSize: fbSize}
}
