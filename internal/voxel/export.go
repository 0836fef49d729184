package voxel

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// WriteOccupiedCSV writes the diagnostic dump consumed by analysis
// tooling: one line per occupied voxel,
// x,y,z,phase,value,viewpointCount,density. Lines are ordered by key so
// successive dumps of the same map diff cleanly. The writer is required.
func (m *VoxelMap) WriteOccupiedCSV(w io.Writer) error {
	if w == nil {
		return fmt.Errorf("export: nil writer")
	}

	m.mu.RLock()
	res := m.idx.resolution
	type row struct {
		k   Key
		rec VoxelRecord
	}
	var rows []row
	m.idx.IterateAll(func(k Key, rec *VoxelRecord) bool {
		if m.idx.IsOccupied(rec) {
			rows = append(rows, row{k: k, rec: *rec})
		}
		return true
	})
	m.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].k, rows[j].k
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})

	bw := bufio.NewWriter(w)
	for _, r := range rows {
		c := r.k.center(res)
		s := r.rec.Saliency
		if _, err := fmt.Fprintf(bw, "%g,%g,%g,%d,%d,%d,%d\n",
			c.X, c.Y, c.Z, s.Phase, s.Value, s.ViewpointCount, s.Density); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	return bw.Flush()
}
