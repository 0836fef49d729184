package voxel

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Key identifies one cubic cell of the world at the configured resolution:
// the integer triple floor(coordinate / resolution) per axis.
type Key struct {
	X, Y, Z int32
}

// keyFor maps a world point to its voxel key at the given resolution.
func keyFor(p r3.Vec, resolution float64) Key {
	return Key{
		X: int32(math.Floor(p.X / resolution)),
		Y: int32(math.Floor(p.Y / resolution)),
		Z: int32(math.Floor(p.Z / resolution)),
	}
}

// center returns the world-space center of the key's cell.
func (k Key) center(resolution float64) r3.Vec {
	return r3.Vec{
		X: (float64(k.X) + 0.5) * resolution,
		Y: (float64(k.Y) + 0.5) * resolution,
		Z: (float64(k.Z) + 0.5) * resolution,
	}
}

// finitePoint reports whether all components are finite. Sensor drivers
// emit NaN/Inf for invalid returns; those are dropped before casting.
func finitePoint(p r3.Vec) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}

// Chunks bundle chunkEdge^3 voxels so bounding-box traversal only touches
// blocks that intersect the box.
const (
	chunkShift = 3
	chunkEdge  = 1 << chunkShift // 8
	chunkMask  = chunkEdge - 1
	chunkCells = chunkEdge * chunkEdge * chunkEdge
)

type chunkKey struct {
	X, Y, Z int32
}

// chunkOf maps a voxel key to its chunk. Arithmetic shift keeps floor
// semantics for negative coordinates.
func chunkOf(k Key) chunkKey {
	return chunkKey{X: k.X >> chunkShift, Y: k.Y >> chunkShift, Z: k.Z >> chunkShift}
}

// cellIndex returns the dense index of k within its chunk.
func cellIndex(k Key) int {
	return int(k.X&chunkMask)<<(2*chunkShift) | int(k.Y&chunkMask)<<chunkShift | int(k.Z&chunkMask)
}

// cellKey reconstructs the voxel key for cell index i of chunk c.
func cellKey(c chunkKey, i int) Key {
	return Key{
		X: c.X<<chunkShift | int32(i>>(2*chunkShift))&chunkMask,
		Y: c.Y<<chunkShift | int32(i>>chunkShift)&chunkMask,
		Z: c.Z<<chunkShift | int32(i)&chunkMask,
	}
}
