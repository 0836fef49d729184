package voxel

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ExplorationTracker derives the explored fraction of a fixed scoring
// region and its rate of change. The rescan after each fusion batch is
// linear in the region's mapped voxel count, which is acceptable once per
// frame. Time is supplied by the caller so the core never reads a wall
// clock.
type ExplorationTracker struct {
	RegionMin r3.Vec
	RegionMax r3.Vec

	fraction     float64
	prevFraction float64
	rate         float64
	elapsed      float64

	lastTime time.Time
	started  bool
}

// ExplorationStats is the snapshot handed to exploration planners.
type ExplorationStats struct {
	Fraction    float64 // (free+occupied) / total voxels in region
	Rate        float64 // fraction change per second
	ElapsedTime float64 // seconds accumulated across Stats calls
}

// NewExplorationTracker scores the axis-aligned region [min,max].
func NewExplorationTracker(min, max r3.Vec) *ExplorationTracker {
	return &ExplorationTracker{RegionMin: min, RegionMax: max}
}

// Refresh rescans the region and updates the explored fraction.
func (t *ExplorationTracker) Refresh(idx *Index) {
	if t == nil || idx == nil {
		return
	}
	res := idx.resolution
	total := (t.RegionMax.X - t.RegionMin.X) *
		(t.RegionMax.Y - t.RegionMin.Y) *
		(t.RegionMax.Z - t.RegionMin.Z) / (res * res * res)
	if total <= 0 {
		t.fraction = 0
		return
	}

	free, occupied := 0, 0
	min := keyFor(t.RegionMin, res)
	max := keyFor(t.RegionMax, res)
	idx.IterateBBox(min, max, func(k Key, rec *VoxelRecord) bool {
		c := k.center(res)
		if c.X < t.RegionMin.X || c.X > t.RegionMax.X ||
			c.Y < t.RegionMin.Y || c.Y > t.RegionMax.Y ||
			c.Z < t.RegionMin.Z || c.Z > t.RegionMax.Z {
			return true
		}
		if idx.IsOccupied(rec) {
			occupied++
		} else {
			free++
		}
		return true
	})
	t.fraction = float64(free+occupied) / total
}

// VolumeFraction converts a voxel count to a fraction of the scoring
// region, or -1 when the region is degenerate.
func (t *ExplorationTracker) VolumeFraction(voxels float64, resolution float64) float64 {
	total := (t.RegionMax.X - t.RegionMin.X) *
		(t.RegionMax.Y - t.RegionMin.Y) *
		(t.RegionMax.Z - t.RegionMin.Z) / (resolution * resolution * resolution)
	if total <= 0 {
		return -1
	}
	return voxels / total
}

// Stats reports the current fraction, its rate since the previous call,
// and the accumulated elapsed time. now must be monotone across calls;
// the first call anchors the clock and reports zero rate.
func (t *ExplorationTracker) Stats(now time.Time) ExplorationStats {
	if !t.started {
		t.lastTime = now
		t.started = true
	}
	step := now.Sub(t.lastTime).Seconds()
	if step > 0 {
		t.rate = (t.fraction - t.prevFraction) / step
	} else {
		t.rate = 0
	}
	t.elapsed += step
	t.prevFraction = t.fraction
	t.lastTime = now

	return ExplorationStats{
		Fraction:    t.fraction,
		Rate:        t.rate,
		ElapsedTime: t.elapsed,
	}
}
