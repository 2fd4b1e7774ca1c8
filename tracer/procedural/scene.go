package procedural

import (
	"math"
	"math/rand"

	"github.com/achilleasa/polaris-accum/types"
)

// Depth reported for rays that escape the scene.
const farPlane float32 = 1000

// Scene describes an analytic scene: a single diffuse sphere lit by a
// directional light and a sky dome, viewed by a pinhole camera placed at the
// origin looking down the negative Z axis.
type Scene struct {
	SphereCenter types.Vec3
	SphereRadius float32
	Albedo       types.Vec3

	// Direction towards the light and its radiance.
	LightDir   types.Vec3
	LightColor types.Vec3

	// Sky radiance at the horizon and at the zenith.
	Horizon types.Vec3
	Zenith  types.Vec3

	// Vertical field of view in degrees.
	FOV float32
}

// Get the default test scene.
func DefaultScene() Scene {
	return Scene{
		SphereCenter: types.XYZ(0, 0, -3),
		SphereRadius: 1,
		Albedo:       types.XYZ(0.8, 0.3, 0.2),
		LightDir:     types.XYZ(1, 1, 1).Normalize(),
		LightColor:   types.XYZ(1, 1, 0.95),
		Horizon:      types.XYZ(1, 1, 1),
		Zenith:       types.XYZ(0.3, 0.5, 0.9),
		FOV:          45,
	}
}

// The result of tracing a single camera ray.
type sample struct {
	color  types.Vec3
	depth  float32
	normal types.Vec3
	albedo types.Vec3
}

// Generate a primary ray direction for the normalized image coordinates
// (u, v) in [0, 1].
func (sc *Scene) primaryRay(u, v, aspect float32) types.Vec3 {
	h := float32(math.Tan(float64(sc.FOV) * math.Pi / 360))
	x := (2*u - 1) * h * aspect
	y := (1 - 2*v) * h
	return types.XYZ(x, y, -1).Normalize()
}

// Intersect a ray starting at the origin with the sphere and return the
// closest positive distance.
func (sc *Scene) intersect(origin, dir types.Vec3) (float32, bool) {
	oc := origin.Sub(sc.SphereCenter)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - sc.SphereRadius*sc.SphereRadius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}

	sq := float32(math.Sqrt(float64(disc)))
	t := -b - sq
	if t <= 1e-4 {
		t = -b + sq
	}
	if t <= 1e-4 {
		return 0, false
	}
	return t, true
}

// Get the sky radiance along dir.
func (sc *Scene) sky(dir types.Vec3) types.Vec3 {
	t := 0.5 * (dir[1] + 1)
	return sc.Horizon.Mul(1 - t).Add(sc.Zenith.Mul(t))
}

// Trace a camera ray. Hits receive direct lighting plus a single bounce
// towards the sky sampled from a cosine weighted hemisphere.
func (sc *Scene) trace(dir types.Vec3, rng *rand.Rand) sample {
	t, hit := sc.intersect(types.Vec3{}, dir)
	if !hit {
		return sample{color: sc.sky(dir), depth: farPlane}
	}

	p := dir.Mul(t)
	n := p.Sub(sc.SphereCenter).Normalize()

	direct := sc.LightColor.Mul(float32(math.Max(0, float64(n.Dot(sc.LightDir)))))

	// The sphere is convex so bounce rays never hit it again.
	bounce := cosineSampleHemisphere(n, rng.Float32(), rng.Float32())
	indirect := sc.sky(bounce)

	return sample{
		color:  sc.Albedo.MulVec(direct.Add(indirect)),
		depth:  t,
		normal: n,
		albedo: sc.Albedo,
	}
}

// Map two uniform random numbers to a direction on the hemisphere around n
// with a pdf proportional to the cosine of the angle to n.
func cosineSampleHemisphere(n types.Vec3, u1, u2 float32) types.Vec3 {
	r := float32(math.Sqrt(float64(u1)))
	phi := 2 * math.Pi * float64(u2)
	x := r * float32(math.Cos(phi))
	y := r * float32(math.Sin(phi))
	z := float32(math.Sqrt(math.Max(0, float64(1-u1))))

	// Build an orthonormal basis around n.
	up := types.XYZ(0, 1, 0)
	if math.Abs(float64(n[1])) > 0.999 {
		up = types.XYZ(1, 0, 0)
	}
	tangent := up.Cross(n).Normalize()
	bitangent := n.Cross(tangent)

	return tangent.Mul(x).Add(bitangent.Mul(y)).Add(n.Mul(z)).Normalize()
}
