package voxel

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// keySet is the working set type for batched ray casting.
type keySet map[Key]struct{}

// traverseRay walks the integer grid from origin toward target, visiting
// every voxel key the segment passes through in order, excluding the
// target's own key. Amanatides & Woo stepping: at each step advance along
// the axis whose next grid boundary is closest.
func traverseRay(origin, target r3.Vec, resolution float64, visit func(Key) bool) {
	cur := keyFor(origin, resolution)
	end := keyFor(target, resolution)
	if cur == end {
		return
	}

	dir := r3.Sub(target, origin)
	length := r3.Norm(dir)
	if length == 0 {
		return
	}
	dir = r3.Scale(1/length, dir)

	var step [3]int32
	var tMax, tDelta [3]float64
	d := [3]float64{dir.X, dir.Y, dir.Z}
	o := [3]float64{origin.X, origin.Y, origin.Z}
	c := [3]int32{cur.X, cur.Y, cur.Z}
	for a := 0; a < 3; a++ {
		switch {
		case d[a] > 0:
			step[a] = 1
			tMax[a] = ((float64(c[a])+1)*resolution - o[a]) / d[a]
			tDelta[a] = resolution / d[a]
		case d[a] < 0:
			step[a] = -1
			tMax[a] = (float64(c[a])*resolution - o[a]) / d[a]
			tDelta[a] = -resolution / d[a]
		default:
			step[a] = 0
			tMax[a] = math.Inf(1)
			tDelta[a] = math.Inf(1)
		}
	}

	e := [3]int32{end.X, end.Y, end.Z}
	// Upper bound on steps: the Manhattan distance between the two keys.
	maxSteps := int(math.Abs(float64(e[0]-c[0])) + math.Abs(float64(e[1]-c[1])) + math.Abs(float64(e[2]-c[2])))
	for n := 0; n <= maxSteps; n++ {
		if !visit(Key{c[0], c[1], c[2]}) {
			return
		}
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		c[axis] += step[axis]
		tMax[axis] += tDelta[axis]
		if c == e {
			return
		}
	}
}

// castRay accumulates one observation into the batch key sets. If the
// origin-to-target distance exceeds maxRange (and maxRange >= 0), the
// target is clipped to exactly maxRange along the ray and only free keys
// are produced; otherwise the target's own key lands in occupied.
//
// Free-space policy: with maxFreeSpace == 0 every traversed key is free.
// With maxFreeSpace > 0 a traversed cell is free only if its center is
// nearer than maxFreeSpace to the origin, or sits above
// origin.z - minHeightFreeSpace. Distant low cells are left unmarked so
// far-away terrain is never falsely cleared.
func castRay(origin, target r3.Vec, resolution, maxRange, maxFreeSpace, minHeightFreeSpace float64, free, occupied keySet) {
	clipped := false
	if maxRange >= 0 {
		if dist := r3.Norm(r3.Sub(target, origin)); dist > maxRange {
			if dist == 0 {
				return
			}
			target = r3.Add(origin, r3.Scale(maxRange/dist, r3.Sub(target, origin)))
			clipped = true
		}
	}

	markFree := func(k Key) bool {
		if maxFreeSpace > 0 {
			center := k.center(resolution)
			if r3.Norm(r3.Sub(center, origin)) >= maxFreeSpace &&
				center.Z <= origin.Z-minHeightFreeSpace {
				return true // beyond cutoff and below the height exemption
			}
		}
		free[k] = struct{}{}
		return true
	}
	traverseRay(origin, target, resolution, markFree)

	if !clipped {
		occupied[keyFor(target, resolution)] = struct{}{}
	}
}

// BatchFuse casts one ray per point and applies the combined evidence to
// the index. Points whose voxel key is already occupied in this batch are
// not re-cast: observed endpoints are far fewer than traversed free
// cells, so the short-circuit saves most of the work. Non-finite points
// are dropped. Returns the number of points actually cast.
//
// Conflict resolution is explicit policy: a key proposed as both free and
// occupied in the same batch ends occupied. Occupied keys are applied
// first, then free keys, then chunk aggregates are refreshed.
func BatchFuse(idx *Index, origin r3.Vec, points []r3.Vec, maxRange, maxFreeSpace, minHeightFreeSpace float64) int {
	if idx == nil || len(points) == 0 {
		return 0
	}
	free := make(keySet)
	occupied := make(keySet)
	cast := 0
	for _, p := range points {
		if !finitePoint(p) {
			continue
		}
		if _, seen := occupied[keyFor(p, idx.resolution)]; seen {
			continue
		}
		castRay(origin, p, idx.resolution, maxRange, maxFreeSpace, minHeightFreeSpace, free, occupied)
		cast++
	}
	applyKeySets(idx, free, occupied)
	return cast
}

// applyKeySets folds batch evidence into the index: occupied evidence
// wins, so occupied keys are removed from the free set before the free
// pass runs.
func applyKeySets(idx *Index, free, occupied keySet) {
	for k := range occupied {
		idx.Fuse(k, true)
		delete(free, k)
	}
	for k := range free {
		idx.Fuse(k, false)
	}
}

// firstOccupiedAlong marches from origin along dir (unit length not
// required) up to limit and returns the first occupied voxel, skipping
// unknown cells. Used by saliency projection, which treats unknown space
// as passable.
func firstOccupiedAlong(idx *Index, origin, dir r3.Vec, limit float64) (Key, *VoxelRecord, bool) {
	n := r3.Norm(dir)
	if n == 0 || limit <= 0 {
		return Key{}, nil, false
	}
	target := r3.Add(origin, r3.Scale(limit/n, dir))

	var hitKey Key
	var hit *VoxelRecord
	traverseRay(origin, target, idx.resolution, func(k Key) bool {
		rec := idx.Record(k)
		if rec != nil && idx.IsOccupied(rec) {
			hitKey, hit = k, rec
			return false
		}
		return true
	})
	if hit != nil {
		return hitKey, hit, true
	}
	// The end cell is excluded from traversal; give it the same check.
	k := keyFor(target, idx.resolution)
	if rec := idx.Record(k); rec != nil && idx.IsOccupied(rec) {
		return k, rec, true
	}
	return Key{}, nil, false
}
