package voxel

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestTraverseRay_ExcludesEndpointCell(t *testing.T) {
	var visited []Key
	traverseRay(r3.Vec{}, r3.Vec{X: 5}, 1.0, func(k Key) bool {
		visited = append(visited, k)
		return true
	})
	want := []Key{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0}}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("step %d: got %v, want %v", i, visited[i], want[i])
		}
	}
}

func TestTraverseRay_Diagonal(t *testing.T) {
	seen := map[Key]bool{}
	traverseRay(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 3.5, Y: 3.5, Z: 0.5}, 1.0, func(k Key) bool {
		if seen[k] {
			t.Fatalf("key %v visited twice", k)
		}
		seen[k] = true
		return true
	})
	if !seen[(Key{0, 0, 0})] {
		t.Fatal("origin cell not visited")
	}
	if seen[(Key{3, 3, 0})] {
		t.Fatal("endpoint cell visited")
	}
	// Every visited cell must lie on the segment's bounding box.
	for k := range seen {
		if k.X < 0 || k.X > 3 || k.Y < 0 || k.Y > 3 || k.Z != 0 {
			t.Fatalf("off-segment key %v", k)
		}
	}
}

func TestBatchFuse_SingleRay(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	points := []r3.Vec{{X: 5.5, Y: 0.5, Z: 0.5}}

	if n := BatchFuse(idx, origin, points, 10, 0, 0); n != 1 {
		t.Fatalf("cast %d rays, want 1", n)
	}
	for x := 0; x < 5; x++ {
		p := r3.Vec{X: float64(x) + 0.5, Y: 0.5, Z: 0.5}
		if got := pointStatus(idx, p); got != StatusFree {
			t.Fatalf("voxel %d along ray: %v, want Free", x, got)
		}
	}
	if got := pointStatus(idx, points[0]); got != StatusOccupied {
		t.Fatalf("endpoint: %v, want Occupied", got)
	}
	if got := pointStatus(idx, r3.Vec{X: 7.5, Y: 0.5, Z: 0.5}); got != StatusUnknown {
		t.Fatalf("beyond endpoint: %v, want Unknown", got)
	}
}

func TestBatchFuse_MaxRangeClipsToFreeOnly(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	// Endpoint at 9.5m, sensor limit 3m: the ray contributes free space
	// up to the limit and no occupied endpoint anywhere.
	BatchFuse(idx, origin, []r3.Vec{{X: 9.5, Y: 0.5, Z: 0.5}}, 3, 0, 0)

	occupied := 0
	idx.IterateAll(func(_ Key, rec *VoxelRecord) bool {
		if idx.IsOccupied(rec) {
			occupied++
		}
		return true
	})
	if occupied != 0 {
		t.Fatalf("clipped ray produced %d occupied voxels", occupied)
	}
	if got := pointStatus(idx, r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}); got != StatusFree {
		t.Fatalf("near cell: %v, want Free", got)
	}
	// The clipped endpoint cell itself stays outside the carved segment.
	if got := pointStatus(idx, r3.Vec{X: 9.5, Y: 0.5, Z: 0.5}); got != StatusUnknown {
		t.Fatalf("original endpoint: %v, want Unknown", got)
	}
}

func TestBatchFuse_OccupiedWinsWithinBatch(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	// First ray ends at (2.5,0.5,0.5); second passes through that cell on
	// its way to (5.5,...). Within one batch the occupied endpoint wins.
	points := []r3.Vec{
		{X: 2.5, Y: 0.5, Z: 0.5},
		{X: 5.5, Y: 0.5, Z: 0.5},
	}
	BatchFuse(idx, origin, points, 10, 0, 0)
	if got := pointStatus(idx, points[0]); got != StatusOccupied {
		t.Fatalf("contested cell: %v, want Occupied", got)
	}
	if got := pointStatus(idx, points[1]); got != StatusOccupied {
		t.Fatalf("far endpoint: %v, want Occupied", got)
	}
	if got := pointStatus(idx, r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}); got != StatusFree {
		t.Fatalf("uncontested near cell: %v, want Free", got)
	}
}

func TestBatchFuse_DropsNonFinitePoints(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	points := []r3.Vec{
		{X: math.NaN(), Y: 0.5, Z: 0.5},
		{X: math.Inf(1), Y: 0.5, Z: 0.5},
		{X: 2.5, Y: 0.5, Z: 0.5},
	}
	if n := BatchFuse(idx, origin, points, 10, 0, 0); n != 1 {
		t.Fatalf("cast %d rays, want 1", n)
	}
	if got := pointStatus(idx, r3.Vec{X: 2.5, Y: 0.5, Z: 0.5}); got != StatusOccupied {
		t.Fatalf("valid endpoint: %v, want Occupied", got)
	}
}

func TestBatchFuse_MaxFreeSpaceLimitsCarving(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	// Free-space carving capped at 2m, endpoint at 6.5m. With a zero
	// height margin a level ray gets no overhang exemption.
	BatchFuse(idx, origin, []r3.Vec{{X: 6.5, Y: 0.5, Z: 0.5}}, 10, 2, 0)

	if got := pointStatus(idx, r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}); got != StatusFree {
		t.Fatalf("cell inside carve limit: %v, want Free", got)
	}
	if got := pointStatus(idx, r3.Vec{X: 4.5, Y: 0.5, Z: 0.5}); got != StatusUnknown {
		t.Fatalf("cell beyond carve limit: %v, want Unknown", got)
	}
	// The measured endpoint still fuses as occupied.
	if got := pointStatus(idx, r3.Vec{X: 6.5, Y: 0.5, Z: 0.5}); got != StatusOccupied {
		t.Fatalf("endpoint: %v, want Occupied", got)
	}
}

func TestBatchFuse_MinHeightExemptsOverheadCells(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 3.5}
	// Cells above minHeightFreeSpace are carved regardless of the cap.
	BatchFuse(idx, origin, []r3.Vec{{X: 6.5, Y: 0.5, Z: 3.5}}, 10, 2, 3)

	if got := pointStatus(idx, r3.Vec{X: 4.5, Y: 0.5, Z: 3.5}); got != StatusFree {
		t.Fatalf("high cell beyond carve limit: %v, want Free", got)
	}
}

func TestFirstOccupiedAlong(t *testing.T) {
	idx := makeTestIndex(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	BatchFuse(idx, origin, []r3.Vec{{X: 4.5, Y: 0.5, Z: 0.5}}, 10, 0, 0)

	dir := r3.Vec{X: 1}
	k, rec, ok := firstOccupiedAlong(idx, origin, dir, 10)
	if !ok {
		t.Fatal("no hit found along occupied ray")
	}
	if k != (Key{4, 0, 0}) {
		t.Fatalf("hit key %v, want {4 0 0}", k)
	}
	if rec == nil || !idx.IsOccupied(rec) {
		t.Fatal("hit record not occupied")
	}

	// A direction with nothing mapped returns no hit.
	if _, _, ok := firstOccupiedAlong(idx, origin, r3.Vec{Y: 1}, 10); ok {
		t.Fatal("hit reported through unmapped space")
	}
}
