package voxel

import "math/bits"

// Index is the sparse voxel store: a hash grid of dense 8x8x8 chunks.
// Records are created lazily on first write and removed only by Reset,
// Prune of empty chunks, or a region clear driving them to the clamp
// floor. The Index is not self-locking: all access is serialized by the
// owning VoxelMap.
type Index struct {
	resolution float64

	logOddsHit   float32
	logOddsMiss  float32
	clampMin     float32
	clampMax     float32
	occupancyLog float32

	chunks map[chunkKey]*chunk

	changeTracking bool
	changes        map[Key]bool // key -> occupied after the flip
}

type chunk struct {
	present  [chunkCells / 64]uint64
	cells    [chunkCells]VoxelRecord
	known    int // present cell count, maintained on every write
	occupied int // occupied cell count, maintained on every flip
}

func (c *chunk) has(i int) bool { return c.present[i>>6]&(1<<uint(i&63)) != 0 }
func (c *chunk) mark(i int)     { c.present[i>>6] |= 1 << uint(i&63) }
func (c *chunk) empty() bool {
	for _, w := range c.present {
		if w != 0 {
			return false
		}
	}
	return true
}

// newIndex builds an empty index from validated params.
func newIndex(p MapParams) *Index {
	idx := &Index{
		resolution:   p.Resolution,
		logOddsHit:   logOdds(p.ProbabilityHit),
		logOddsMiss:  logOdds(p.ProbabilityMiss),
		clampMin:     logOdds(p.ThresholdMin),
		clampMax:     logOdds(p.ThresholdMax),
		occupancyLog: logOdds(p.ThresholdOccupancy),
		chunks:       make(map[chunkKey]*chunk),
	}
	if p.ChangeDetection {
		idx.changeTracking = true
		idx.changes = make(map[Key]bool)
	}
	return idx
}

// Resolution returns the voxel edge length in meters.
func (idx *Index) Resolution() float64 { return idx.resolution }

// ClampMin returns the log-odds clamp floor (used by forced clears).
func (idx *Index) ClampMin() float32 { return idx.clampMin }

// ClampMax returns the log-odds clamp ceiling.
func (idx *Index) ClampMax() float32 { return idx.clampMax }

// IsOccupied applies the occupancy invariant to a record.
func (idx *Index) IsOccupied(rec *VoxelRecord) bool {
	return rec.LogOdds >= idx.occupancyLog
}

// Record returns the record for a key, or nil if the key has never been
// written. Reads never create records.
func (idx *Index) Record(k Key) *VoxelRecord {
	c, ok := idx.chunks[chunkOf(k)]
	if !ok {
		return nil
	}
	i := cellIndex(k)
	if !c.has(i) {
		return nil
	}
	return &c.cells[i]
}

// ensure returns the chunk and cell slot for a key, creating the record
// at log-odds zero (probability 0.5) if absent. The created flag lets
// callers treat the prior state as unknown rather than as an occupancy
// reading of the zero value.
func (idx *Index) ensure(k Key) (*chunk, int, bool) {
	ck := chunkOf(k)
	c, ok := idx.chunks[ck]
	if !ok {
		c = &chunk{}
		idx.chunks[ck] = c
	}
	i := cellIndex(k)
	created := !c.has(i)
	if created {
		c.mark(i)
		c.cells[i] = VoxelRecord{}
		c.known++
	}
	return c, i, created
}

// Fuse folds one piece of evidence into a key: the hit increment for an
// observed endpoint, the miss decrement for a traversed free cell. The
// result stays clamped to [clampMin, clampMax] and occupancy flips are
// recorded when change tracking is on.
func (idx *Index) Fuse(k Key, occupied bool) {
	c, i, created := idx.ensure(k)
	rec := &c.cells[i]
	before := !created && idx.IsOccupied(rec)
	if occupied {
		rec.LogOdds += idx.logOddsHit
	} else {
		rec.LogOdds += idx.logOddsMiss
	}
	if rec.LogOdds > idx.clampMax {
		rec.LogOdds = idx.clampMax
	}
	if rec.LogOdds < idx.clampMin {
		rec.LogOdds = idx.clampMin
	}
	after := idx.IsOccupied(rec)
	if after != before {
		if after {
			c.occupied++
		} else {
			c.occupied--
		}
	}
	idx.noteFlip(k, before, after)
}

// SetLogOdds overrides a key's log-odds directly (forced clearing). The
// value is clamped like fused evidence.
func (idx *Index) SetLogOdds(k Key, v float32) {
	c, i, created := idx.ensure(k)
	rec := &c.cells[i]
	before := !created && idx.IsOccupied(rec)
	if v > idx.clampMax {
		v = idx.clampMax
	}
	if v < idx.clampMin {
		v = idx.clampMin
	}
	rec.LogOdds = v
	after := idx.IsOccupied(rec)
	if after != before {
		if after {
			c.occupied++
		} else {
			c.occupied--
		}
	}
	idx.noteFlip(k, before, after)
}

func (idx *Index) noteFlip(k Key, before, after bool) {
	if idx.changeTracking && before != after {
		idx.changes[k] = after
	}
}

// drainChanges returns and clears the occupancy flip log.
func (idx *Index) drainChanges() map[Key]bool {
	if !idx.changeTracking || len(idx.changes) == 0 {
		return nil
	}
	out := idx.changes
	idx.changes = make(map[Key]bool)
	return out
}

// IterateBBox visits every materialized record whose key lies in
// [min,max] (inclusive), calling fn until it returns false. Only chunks
// intersecting the box are touched, so the walk is sub-linear in total
// store size. Visit order is unspecified. Calling it again restarts.
func (idx *Index) IterateBBox(min, max Key, fn func(Key, *VoxelRecord) bool) {
	if min.X > max.X || min.Y > max.Y || min.Z > max.Z {
		return
	}
	cmin, cmax := chunkOf(min), chunkOf(max)
	span := int64(cmax.X-cmin.X+1) * int64(cmax.Y-cmin.Y+1) * int64(cmax.Z-cmin.Z+1)
	visit := func(ck chunkKey, c *chunk) bool {
		for i := 0; i < chunkCells; i++ {
			if !c.has(i) {
				continue
			}
			k := cellKey(ck, i)
			if k.X < min.X || k.X > max.X || k.Y < min.Y || k.Y > max.Y || k.Z < min.Z || k.Z > max.Z {
				continue
			}
			if !fn(k, &c.cells[i]) {
				return false
			}
		}
		return true
	}
	if span < int64(len(idx.chunks)) {
		for cz := cmin.Z; cz <= cmax.Z; cz++ {
			for cy := cmin.Y; cy <= cmax.Y; cy++ {
				for cx := cmin.X; cx <= cmax.X; cx++ {
					if c, ok := idx.chunks[chunkKey{cx, cy, cz}]; ok {
						if !visit(chunkKey{cx, cy, cz}, c) {
							return
						}
					}
				}
			}
		}
		return
	}
	for ck, c := range idx.chunks {
		if ck.X < cmin.X || ck.X > cmax.X || ck.Y < cmin.Y || ck.Y > cmax.Y || ck.Z < cmin.Z || ck.Z > cmax.Z {
			continue
		}
		if !visit(ck, c) {
			return
		}
	}
}

// IterateOccupiedBBox visits every occupied record whose key lies in
// [min,max] (inclusive). Chunks whose occupied counter is zero are
// skipped without touching their cells, so a scan over carved free space
// costs one map lookup per chunk.
func (idx *Index) IterateOccupiedBBox(min, max Key, fn func(Key, *VoxelRecord) bool) {
	if min.X > max.X || min.Y > max.Y || min.Z > max.Z {
		return
	}
	cmin, cmax := chunkOf(min), chunkOf(max)
	span := int64(cmax.X-cmin.X+1) * int64(cmax.Y-cmin.Y+1) * int64(cmax.Z-cmin.Z+1)
	visit := func(ck chunkKey, c *chunk) bool {
		if c.occupied == 0 {
			return true
		}
		for i := 0; i < chunkCells; i++ {
			if !c.has(i) || !idx.IsOccupied(&c.cells[i]) {
				continue
			}
			k := cellKey(ck, i)
			if k.X < min.X || k.X > max.X || k.Y < min.Y || k.Y > max.Y || k.Z < min.Z || k.Z > max.Z {
				continue
			}
			if !fn(k, &c.cells[i]) {
				return false
			}
		}
		return true
	}
	if span < int64(len(idx.chunks)) {
		for cz := cmin.Z; cz <= cmax.Z; cz++ {
			for cy := cmin.Y; cy <= cmax.Y; cy++ {
				for cx := cmin.X; cx <= cmax.X; cx++ {
					if c, ok := idx.chunks[chunkKey{cx, cy, cz}]; ok {
						if !visit(chunkKey{cx, cy, cz}, c) {
							return
						}
					}
				}
			}
		}
		return
	}
	for ck, c := range idx.chunks {
		if ck.X < cmin.X || ck.X > cmax.X || ck.Y < cmin.Y || ck.Y > cmax.Y || ck.Z < cmin.Z || ck.Z > cmax.Z {
			continue
		}
		if !visit(ck, c) {
			return
		}
	}
}

// HasUnknownInBBox reports whether any key in [min,max] (inclusive) has
// no record. Missing chunks decide immediately and fully known chunks
// (known == chunkCells) are skipped; only partially known chunks force a
// per-cell probe of the clipped box.
func (idx *Index) HasUnknownInBBox(min, max Key) bool {
	if min.X > max.X || min.Y > max.Y || min.Z > max.Z {
		return false
	}
	cmin, cmax := chunkOf(min), chunkOf(max)
	for cz := cmin.Z; cz <= cmax.Z; cz++ {
		for cy := cmin.Y; cy <= cmax.Y; cy++ {
			for cx := cmin.X; cx <= cmax.X; cx++ {
				c, ok := idx.chunks[chunkKey{cx, cy, cz}]
				if !ok {
					return true
				}
				if c.known == chunkCells {
					continue
				}
				x0, x1 := clipToChunk(min.X, max.X, cx)
				y0, y1 := clipToChunk(min.Y, max.Y, cy)
				z0, z1 := clipToChunk(min.Z, max.Z, cz)
				for z := z0; z <= z1; z++ {
					for y := y0; y <= y1; y++ {
						for x := x0; x <= x1; x++ {
							if !c.has(cellIndex(Key{X: x, Y: y, Z: z})) {
								return true
							}
						}
					}
				}
			}
		}
	}
	return false
}

// clipToChunk intersects an inclusive key range with chunk c's extent on
// one axis.
func clipToChunk(lo, hi, c int32) (int32, int32) {
	base := c << chunkShift
	if lo < base {
		lo = base
	}
	if hi > base+chunkMask {
		hi = base + chunkMask
	}
	return lo, hi
}

// IterateAll visits every materialized record.
func (idx *Index) IterateAll(fn func(Key, *VoxelRecord) bool) {
	for ck, c := range idx.chunks {
		for i := 0; i < chunkCells; i++ {
			if !c.has(i) {
				continue
			}
			if !fn(cellKey(ck, i), &c.cells[i]) {
				return
			}
		}
	}
}

// Size returns the number of materialized voxel records.
func (idx *Index) Size() int {
	n := 0
	for _, c := range idx.chunks {
		for _, w := range c.present {
			n += bits.OnesCount64(w)
		}
	}
	return n
}

// Reset clears all state and adopts a new resolution. Every previously
// returned record pointer is invalid afterwards.
func (idx *Index) Reset(resolution float64) {
	idx.resolution = resolution
	idx.chunks = make(map[chunkKey]*chunk)
	if idx.changeTracking {
		idx.changes = make(map[Key]bool)
	}
}

// Prune releases chunks with no materialized cells. The flat chunk layout
// has no sibling-merge concept, so this compaction is the whole contract.
func (idx *Index) Prune() {
	for ck, c := range idx.chunks {
		if c.empty() {
			delete(idx.chunks, ck)
		}
	}
}

// refreshAggregates recomputes the per-chunk known/occupied counters
// from scratch. Normal writes maintain the counters incrementally; this
// rebuild covers bulk loads that write cell state directly, such as
// snapshot restore.
func (idx *Index) refreshAggregates() {
	for _, c := range idx.chunks {
		known, occ := 0, 0
		for i := 0; i < chunkCells; i++ {
			if !c.has(i) {
				continue
			}
			known++
			if idx.IsOccupied(&c.cells[i]) {
				occ++
			}
		}
		c.known = known
		c.occupied = occ
	}
}
