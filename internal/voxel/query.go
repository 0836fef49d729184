package voxel

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Read-only classification queries over the index. These never insert
// records; an unmapped key always classifies as StatusUnknown.

// pointStatus classifies the voxel containing p.
func pointStatus(idx *Index, p r3.Vec) CellStatus {
	rec := idx.Record(keyFor(p, idx.resolution))
	if rec == nil {
		return StatusUnknown
	}
	if idx.IsOccupied(rec) {
		return StatusOccupied
	}
	return StatusFree
}

// pointProbability classifies the voxel containing p and reports its
// occupancy probability, or -1 when unknown.
func pointProbability(idx *Index, p r3.Vec) (CellStatus, float64) {
	rec := idx.Record(keyFor(p, idx.resolution))
	if rec == nil {
		return StatusUnknown, -1
	}
	if idx.IsOccupied(rec) {
		return StatusOccupied, probability(rec.LogOdds)
	}
	return StatusFree, probability(rec.LogOdds)
}

// lineStatus walks the keys from a toward b in order and returns Unknown
// at the first unmapped key, Occupied at the first occupied key, else
// Free.
func lineStatus(idx *Index, a, b r3.Vec) CellStatus {
	result := StatusFree
	traverseRay(a, b, idx.resolution, func(k Key) bool {
		rec := idx.Record(k)
		if rec == nil {
			result = StatusUnknown
			return false
		}
		if idx.IsOccupied(rec) {
			result = StatusOccupied
			return false
		}
		return true
	})
	return result
}

// visibility walks from viewpoint toward target, excluding the target's
// own voxel from the occlusion test. With stopAtUnknown false, unknown
// cells are treated as passable (optimistic visibility); with it true the
// first unknown cell short-circuits to Unknown.
func visibility(idx *Index, viewpoint, target r3.Vec, stopAtUnknown bool) CellStatus {
	targetKey := keyFor(target, idx.resolution)
	result := StatusFree
	traverseRay(viewpoint, target, idx.resolution, func(k Key) bool {
		if k == targetKey {
			return true
		}
		rec := idx.Record(k)
		if rec == nil {
			if stopAtUnknown {
				result = StatusUnknown
				return false
			}
			return true
		}
		if idx.IsOccupied(rec) {
			result = StatusOccupied
			return false
		}
		return true
	})
	return result
}

// isSpeckle reports whether an occupied key is isolated noise: none of
// its 26 face/edge/corner neighbors is occupied. Each candidate offset is
// queried in its own right.
func isSpeckle(idx *Index, key Key) bool {
	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := Key{key.X + dx, key.Y + dy, key.Z + dz}
				if rec := idx.Record(n); rec != nil && idx.IsOccupied(rec) {
					return false
				}
			}
		}
	}
	return true
}

// bboxKeys returns the inclusive key range covering an axis-aligned box.
func bboxKeys(center, size r3.Vec, resolution float64) (Key, Key) {
	half := r3.Scale(0.5, size)
	return keyFor(r3.Sub(center, half), resolution), keyFor(r3.Add(center, half), resolution)
}

// bboxStatus classifies an axis-aligned box around center. Fast exit:
// when unknown counts as occupied, a non-free center voxel decides the
// query without scanning. Otherwise the box is scanned for an occupied
// voxel (optionally discounting speckles) and then probed for unmapped
// ones, which make the result Unknown. Both passes lean on the per-chunk
// counters to skip chunks that cannot change the answer.
func bboxStatus(idx *Index, center, size r3.Vec, treatUnknownAsOccupied, filterSpeckles bool) CellStatus {
	centerStatus := pointStatus(idx, center)
	if centerStatus != StatusFree && treatUnknownAsOccupied {
		return centerStatus
	}

	// A center that maps to no valid key at all decides without a scan.
	if !finitePoint(center) {
		if treatUnknownAsOccupied {
			return StatusUnknown
		}
		return StatusOccupied
	}

	min, max := bboxKeys(center, size, idx.resolution)

	result := StatusFree
	idx.IterateOccupiedBBox(min, max, func(k Key, rec *VoxelRecord) bool {
		if filterSpeckles && isSpeckle(idx, k) {
			return true
		}
		result = StatusOccupied
		return false
	})
	if result == StatusOccupied {
		return result
	}

	if idx.HasUnknownInBBox(min, max) {
		return StatusUnknown
	}
	return StatusFree
}

// lineStatusBoundingBox sweeps a box footprint from a to b: each axis of
// the box is discretized into ceil((size+eps)/resolution) steps so no
// voxel along the swept path can be skipped, and lineStatus runs once per
// offset. The first non-free result wins.
func lineStatusBoundingBox(idx *Index, a, b, boxSize r3.Vec) CellStatus {
	const epsilon = 0.001
	resolution := idx.resolution

	disc := func(size float64) float64 {
		d := size / math.Ceil((size+epsilon)/resolution)
		if d <= 0 {
			d = 1.0
		}
		return d
	}
	xDisc, yDisc, zDisc := disc(boxSize.X), disc(boxSize.Y), disc(boxSize.Z)

	half := r3.Scale(0.5, boxSize)
	for x := -half.X; x <= half.X; x += xDisc {
		for y := -half.Y; y <= half.Y; y += yDisc {
			for z := -half.Z; z <= half.Z; z += zDisc {
				offset := r3.Vec{X: x, Y: y, Z: z}
				if st := lineStatus(idx, r3.Add(a, offset), r3.Add(b, offset)); st != StatusFree {
					return st
				}
			}
		}
	}
	return StatusFree
}

// collides implements the collision rule: with unknown treated as
// occupied any non-free box is a collision, otherwise only an occupied
// box is.
func collides(idx *Index, position, footprint r3.Vec, treatUnknownAsOccupied, filterSpeckles bool) bool {
	st := bboxStatus(idx, position, footprint, treatUnknownAsOccupied, filterSpeckles)
	if treatUnknownAsOccupied {
		return st != StatusFree
	}
	return st == StatusOccupied
}
