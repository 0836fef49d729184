package voxel

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/volumetric.map/internal/monitoring"
)

// Snapshot/restore of full map state as an opaque blob: gob-encoded,
// zstd-compressed. The blob format is internal; external collaborators
// move it to disk or over the wire without interpreting it.

// snapshotCell flattens one materialized voxel for encoding.
type snapshotCell struct {
	Key      Key
	LogOdds  float32
	Saliency Saliency
}

type snapshotState struct {
	Resolution float64
	Frame      uint64
	Cells      []snapshotCell
}

// SnapshotStore persists opaque snapshot blobs. Implemented by
// voxeldb.Store; the core never touches SQL directly.
type SnapshotStore interface {
	InsertSnapshot(sensorID string, resolution float64, voxelCount int, reason string, blob []byte) (string, error)
}

// Snapshot serializes the full map state.
func (m *VoxelMap) Snapshot() ([]byte, error) {
	m.mu.RLock()
	state := snapshotState{
		Resolution: m.idx.resolution,
		Frame:      m.frame,
	}
	m.idx.IterateAll(func(k Key, rec *VoxelRecord) bool {
		state.Cells = append(state.Cells, snapshotCell{Key: k, LogOdds: rec.LogOdds, Saliency: rec.Saliency})
		return true
	})
	m.mu.RUnlock()

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(state); err != nil {
		zw.Close()
		return nil, fmt.Errorf("snapshot encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("snapshot flush: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the map contents from a Snapshot blob. A snapshot
// taken at a different resolution cannot be reinterpreted, so a mismatch
// resets the map at the configured resolution and logs a warning rather
// than failing: the map comes back empty but usable.
func (m *VoxelMap) Restore(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("restore: empty snapshot blob")
	}
	zr, err := zstd.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer zr.Close()
	var state snapshotState
	if err := gob.NewDecoder(zr).Decode(&state); err != nil {
		return fmt.Errorf("restore decode: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if state.Resolution != m.idx.resolution {
		monitoring.Logf("[VoxelMap] snapshot resolution %v != configured %v; resetting map",
			state.Resolution, m.idx.resolution)
		m.idx.Reset(m.idx.resolution)
		m.frame = 0
		return nil
	}

	m.idx.Reset(state.Resolution)
	for _, cell := range state.Cells {
		ch, i, _ := m.idx.ensure(cell.Key)
		ch.cells[i].LogOdds = cell.LogOdds
		ch.cells[i].Saliency = cell.Saliency
	}
	m.idx.refreshAggregates()
	m.frame = state.Frame
	return nil
}
