package voxel

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/volumetric.map/internal/monitoring"
)

// VoxelMap is the map controller: the single entry and exit point for
// sensor fusion and queries. All mutation is serialized behind one
// RWMutex (single-writer discipline); queries take the read side.
// A started batch update always runs to completion.
type VoxelMap struct {
	mu     sync.RWMutex
	params MapParams
	idx    *Index

	// frame advances once per saliency-fusion call, never for
	// occupancy-only updates. Saliency bookkeeping keys off it.
	frame uint64

	tracker *ExplorationTracker
	camera  CameraIntrinsics

	// robotFootprint is the default collision box when a caller passes a
	// zero footprint.
	robotFootprint r3.Vec
}

// NewVoxelMap builds an empty map from params. The scoring region for
// exploration metrics defaults to empty; use SetExplorationRegion.
func NewVoxelMap(params MapParams) (*VoxelMap, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &VoxelMap{
		params:  params,
		idx:     newIndex(params),
		tracker: NewExplorationTracker(r3.Vec{}, r3.Vec{}),
	}, nil
}

// SetExplorationRegion fixes the bounding region scored by
// ExplorationStats.
func (m *VoxelMap) SetExplorationRegion(min, max r3.Vec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracker = NewExplorationTracker(min, max)
}

// SetCameraIntrinsics stores the saliency camera focal lengths used for
// pixel-density accounting.
func (m *VoxelMap) SetCameraIntrinsics(c CameraIntrinsics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera = c
}

// SetRobotFootprint stores the default collision bounding box.
func (m *VoxelMap) SetRobotFootprint(size r3.Vec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.robotFootprint = size
}

// Resolution returns the voxel edge length in meters.
func (m *VoxelMap) Resolution() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx.resolution
}

// FrameCounter returns the current saliency frame number.
func (m *VoxelMap) FrameCounter() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame
}

// Size returns the number of materialized voxels.
func (m *VoxelMap) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idx.Size()
}

// Reset clears all state and adopts a new resolution. Previously
// returned records and iteration handles are invalid afterwards.
func (m *VoxelMap) Reset(resolution float64) error {
	if resolution <= 0 {
		return fmt.Errorf("voxel: non-positive resolution %v", resolution)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params.Resolution = resolution
	m.idx.Reset(resolution)
	m.frame = 0
	return nil
}

// Prune compacts the index (releases empty chunks).
func (m *VoxelMap) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx.Prune()
}

// IngestSensorCloud fuses one batch of world-frame observations:
// occupancy evidence only, no saliency effect, frame counter untouched.
// An empty batch is a valid no-op. Non-finite points are dropped before
// casting.
func (m *VoxelMap) IngestSensorCloud(origin r3.Vec, points []r3.Vec, maxRange, maxFreeSpace, minHeightFreeSpace float64) {
	if len(points) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cast := BatchFuse(m.idx, origin, points, maxRange, maxFreeSpace, minHeightFreeSpace)
	if dropped := len(points) - cast; dropped > 0 {
		monitoring.Debugf("[VoxelMap] cloud batch: %d/%d points cast (%d non-finite or deduplicated)", cast, len(points), dropped)
	}
	m.tracker.Refresh(m.idx)
}

// IngestSaliencyFrame fuses one camera intensity frame: advances the
// frame counter, ray-casts a subsampled pixel grid onto occupied voxels
// above GroundZ, samples their saliency state, and runs one decay tick
// when decay is enabled. The frame's ray projector and image are
// required.
func (m *VoxelMap) IngestSaliencyFrame(f SaliencyFrame) error {
	if f.Rays == nil {
		return fmt.Errorf("voxel: saliency frame missing ray projector")
	}
	if f.Image == nil {
		return fmt.Errorf("voxel: saliency frame missing intensity image")
	}
	stride := f.Stride
	if stride <= 0 {
		stride = 5
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A frame carrying intrinsics calibrates subsequent density credits.
	if f.Intrinsics != (CameraIntrinsics{}) {
		m.camera = f.Intrinsics
	}

	m.frame++
	tick := m.frame

	sampled := 0
	for u := 0; u < f.Image.Width; u += stride {
		for v := 0; v < f.Image.Height; v += stride {
			intensity := f.Image.At(u, v)
			if intensity < f.Config.Threshold {
				continue
			}
			dir := f.Rays.PixelRay(u, v)
			k, rec, ok := firstOccupiedAlong(m.idx, f.Origin, dir, f.ProjectionLimit)
			if !ok {
				continue
			}
			if k.center(m.idx.resolution).Z <= f.GroundZ {
				continue
			}
			saliencySample(&rec.Saliency, intensity, tick, f.Config)
			sampled++
		}
	}
	monitoring.Debugf("[VoxelMap] saliency frame %d: %d pixels landed on occupied voxels", tick, sampled)

	if f.Config.DecayEnabled() {
		saliencyDecayTick(m.idx, tick, f.Config)
	}
	return nil
}

// MarkVoxelViewed credits an occupied voxel that is visible from origin
// with one viewpoint and the pixel density the camera achieves at the
// given depth. Used by viewpoint-evaluation consumers.
func (m *VoxelMap) MarkVoxelViewed(origin, point r3.Vec, depth float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.idx.Record(keyFor(point, m.idx.resolution))
	if rec == nil || !m.idx.IsOccupied(rec) {
		return
	}
	if visibility(m.idx, origin, point, false) != StatusFree {
		return
	}
	rec.Saliency.ViewpointCount++
	rec.Saliency.Density += uint32(m.camera.PixelArea(depth))
}

// PointStatus classifies the voxel containing p.
func (m *VoxelMap) PointStatus(p r3.Vec) CellStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pointStatus(m.idx, p)
}

// PointProbability classifies p and reports sigmoid(logOdds), or -1 when
// unknown.
func (m *VoxelMap) PointProbability(p r3.Vec) (CellStatus, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return pointProbability(m.idx, p)
}

// LineStatus classifies the segment from a to b.
func (m *VoxelMap) LineStatus(a, b r3.Vec) CellStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lineStatus(m.idx, a, b)
}

// Visibility reports whether target can be seen from viewpoint. The
// target's own voxel never occludes. With stopAtUnknown false, unknown
// space is optimistically passable.
func (m *VoxelMap) Visibility(viewpoint, target r3.Vec, stopAtUnknown bool) CellStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return visibility(m.idx, viewpoint, target, stopAtUnknown)
}

// BBoxStatus classifies an axis-aligned box using the configured
// unknown-as-occupied and speckle-filter policies.
func (m *VoxelMap) BBoxStatus(center, size r3.Vec) CellStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bboxStatus(m.idx, center, size, m.params.TreatUnknownAsOccupied, m.params.FilterSpeckles)
}

// LineStatusBoundingBox sweeps a box footprint from a to b and returns
// the first non-free classification.
func (m *VoxelMap) LineStatusBoundingBox(a, b, boxSize r3.Vec) CellStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lineStatusBoundingBox(m.idx, a, b, boxSize)
}

// CollisionCheck reports whether the footprint box at position collides.
// A zero footprint falls back to the configured robot footprint.
func (m *VoxelMap) CollisionCheck(position, footprint r3.Vec) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collisionLocked(position, footprint)
}

func (m *VoxelMap) collisionLocked(position, footprint r3.Vec) bool {
	if footprint == (r3.Vec{}) {
		footprint = m.robotFootprint
	}
	return collides(m.idx, position, footprint, m.params.TreatUnknownAsOccupied, m.params.FilterSpeckles)
}

// PathCollision checks poses in sequence order and returns the index of
// the first collision, or -1 and false when the path is clear.
func (m *VoxelMap) PathCollision(positions []r3.Vec, footprint r3.Vec) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, p := range positions {
		if m.collisionLocked(p, footprint) {
			return i, true
		}
	}
	return -1, false
}

// VoxelGain returns the saliency value of the voxel containing p when
// that voxel is occupied and salient, else 0.
func (m *VoxelMap) VoxelGain(p r3.Vec) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.idx.Record(keyFor(p, m.idx.resolution))
	if rec == nil || !m.idx.IsOccupied(rec) {
		return 0
	}
	if rec.Saliency.Phase != PhaseSalient {
		return 0
	}
	return float64(rec.Saliency.Value)
}

// ExplorationStats reports the explored fraction of the scoring region,
// its rate since the previous call, and accumulated elapsed time. The
// caller supplies the clock.
func (m *VoxelMap) ExplorationStats(now time.Time) ExplorationStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Stats(now)
}

// ChangedVoxel is one occupancy flip since the previous drain.
type ChangedVoxel struct {
	Position r3.Vec
	Occupied bool
}

// ChangedVoxels returns all voxels whose occupancy flipped since the
// previous call and clears the change log. Nil when change detection is
// off or nothing flipped.
func (m *VoxelMap) ChangedVoxels() []ChangedVoxel {
	m.mu.Lock()
	defer m.mu.Unlock()
	flips := m.idx.drainChanges()
	if len(flips) == 0 {
		return nil
	}
	out := make([]ChangedVoxel, 0, len(flips))
	for k, occ := range flips {
		out = append(out, ChangedVoxel{Position: k.center(m.idx.resolution), Occupied: occ})
	}
	return out
}

// ClearRegion forces every mapped voxel in the box to the clamp floor,
// regardless of accumulated evidence.
func (m *VoxelMap) ClearRegion(center, size r3.Vec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	min, max := bboxKeys(center, size, m.idx.resolution)
	var keys []Key
	m.idx.IterateBBox(min, max, func(k Key, _ *VoxelRecord) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		m.idx.SetLogOdds(k, m.idx.clampMin)
	}
}

// SetRegionFree clamps every voxel in the box (shifted by offset) to the
// log-odds floor, materializing records as needed.
func (m *VoxelMap) SetRegionFree(center, size, offset r3.Vec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillRegionLocked(r3.Add(center, offset), size, m.idx.clampMin)
}

// SetRegionOccupied clamps every voxel in the box to the log-odds
// ceiling, materializing records as needed.
func (m *VoxelMap) SetRegionOccupied(center, size r3.Vec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillRegionLocked(center, size, m.idx.clampMax)
}

func (m *VoxelMap) fillRegionLocked(center, size r3.Vec, logOddsValue float32) {
	min, max := bboxKeys(center, size, m.idx.resolution)
	for z := min.Z; z <= max.Z; z++ {
		for y := min.Y; y <= max.Y; y++ {
			for x := min.X; x <= max.X; x++ {
				m.idx.SetLogOdds(Key{x, y, z}, logOddsValue)
			}
		}
	}
}

// OccupiedPositions returns the centers of occupied voxels inside the
// box.
func (m *VoxelMap) OccupiedPositions(center, size r3.Vec) []r3.Vec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	min, max := bboxKeys(center, size, m.idx.resolution)
	var out []r3.Vec
	m.idx.IterateBBox(min, max, func(k Key, rec *VoxelRecord) bool {
		if m.idx.IsOccupied(rec) {
			out = append(out, k.center(m.idx.resolution))
		}
		return true
	})
	return out
}

// MapBounds returns the metric extent of all mapped voxels. ok is false
// for an empty map.
func (m *VoxelMap) MapBounds() (min, max r3.Vec, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := m.idx.resolution
	half := res / 2
	first := true
	m.idx.IterateAll(func(k Key, _ *VoxelRecord) bool {
		c := k.center(res)
		if first {
			min = r3.Vec{X: c.X - half, Y: c.Y - half, Z: c.Z - half}
			max = r3.Vec{X: c.X + half, Y: c.Y + half, Z: c.Z + half}
			first = false
			return true
		}
		if c.X-half < min.X {
			min.X = c.X - half
		}
		if c.Y-half < min.Y {
			min.Y = c.Y - half
		}
		if c.Z-half < min.Z {
			min.Z = c.Z - half
		}
		if c.X+half > max.X {
			max.X = c.X + half
		}
		if c.Y+half > max.Y {
			max.Y = c.Y + half
		}
		if c.Z+half > max.Z {
			max.Z = c.Z + half
		}
		return true
	})
	return min, max, !first
}

// MapCenter returns the center of the mapped extent.
func (m *VoxelMap) MapCenter() r3.Vec {
	min, max, ok := m.MapBounds()
	if !ok {
		return r3.Vec{}
	}
	return r3.Add(min, r3.Scale(0.5, r3.Sub(max, min)))
}

// MapSize returns the dimensions of the mapped extent.
func (m *VoxelMap) MapSize() r3.Vec {
	min, max, ok := m.MapBounds()
	if !ok {
		return r3.Vec{}
	}
	return r3.Sub(max, min)
}

// VolumeFraction converts a voxel count into a fraction of the scoring
// region volume, or -1 when the region is degenerate.
func (m *VoxelMap) VolumeFraction(voxels float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracker.VolumeFraction(voxels, m.idx.resolution)
}
