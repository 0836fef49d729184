package voxel

import "gonum.org/v1/gonum/spatial/r3"

// CameraIntrinsics carries the focal lengths of the saliency camera in
// pixels. Full pixel-to-ray unprojection lives with the caller (see
// RayProjector); the core only needs fx/fy for pixel-density estimates.
type CameraIntrinsics struct {
	Fx float64
	Fy float64
}

// PixelArea returns the approximate number of pixels covering one voxel
// face at the given depth.
func (c CameraIntrinsics) PixelArea(depth float64) float64 {
	if depth == 0 {
		return 0
	}
	return (c.Fx * c.Fy) / (depth * depth)
}

// AreaPerPixel returns the world area covered by one pixel at depth.
func (c CameraIntrinsics) AreaPerPixel(depth float64) float64 {
	if c.Fx == 0 || c.Fy == 0 {
		return 0
	}
	return (depth * depth) / (c.Fx * c.Fy)
}

// RayProjector supplies the world-frame ray direction for an image pixel.
// Implementations own the camera model and the sensor pose; the map core
// never unprojects pixels itself.
type RayProjector interface {
	PixelRay(u, v int) r3.Vec
}

// IntensityImage is a dense single-channel intensity grid, row-major.
type IntensityImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// At returns the intensity at (u,v); zero outside bounds.
func (im *IntensityImage) At(u, v int) uint8 {
	if u < 0 || v < 0 || u >= im.Width || v >= im.Height {
		return 0
	}
	return im.Pix[v*im.Width+u]
}

// SaliencyFrame is one camera observation to fuse: where the camera was,
// how to turn pixels into world rays, and the intensity grid to sample.
type SaliencyFrame struct {
	Origin r3.Vec
	Rays   RayProjector
	Image  *IntensityImage

	// Intrinsics, when nonzero, replaces the map's camera calibration
	// so later viewpoint credits use this frame's focal lengths.
	Intrinsics CameraIntrinsics

	// ProjectionLimit bounds the per-pixel ray march, in meters.
	ProjectionLimit float64
	// GroundZ discards hits at or below this height so floor voxels do
	// not soak up saliency.
	GroundZ float64
	// Stride subsamples the pixel grid; 0 means the default of 5.
	Stride int

	Config SaliencyConfig
}
