package voxel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestSnapshotRoundTrip(t *testing.T) {
	m := makeTestMap(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	m.IngestSensorCloud(origin, []r3.Vec{
		{X: 5.5, Y: 0.5, Z: 0.5},
		{X: 0.5, Y: 4.5, Z: 0.5},
	}, 10, 0, 0)
	// Give one voxel distinctive saliency state so the round trip covers
	// more than occupancy.
	m.mu.Lock()
	rec := m.idx.Record(Key{5, 0, 0})
	rec.Saliency = Saliency{Phase: PhaseSalient, Value: 180, SampleCount: 3, ViewpointCount: 2, Density: 9000}
	m.mu.Unlock()

	blob, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := makeTestMap(t)
	if err := restored.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if restored.Size() != m.Size() {
		t.Fatalf("restored %d voxels, want %d", restored.Size(), m.Size())
	}
	collect := func(vm *VoxelMap) map[Key]VoxelRecord {
		vm.mu.RLock()
		defer vm.mu.RUnlock()
		out := make(map[Key]VoxelRecord)
		vm.idx.IterateAll(func(k Key, rec *VoxelRecord) bool {
			out[k] = *rec
			return true
		})
		return out
	}
	if diff := cmp.Diff(collect(m), collect(restored)); diff != "" {
		t.Fatalf("restored state mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotPreservesFrameCounter(t *testing.T) {
	m := makeTestMap(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 1.5}
	m.IngestSensorCloud(origin, []r3.Vec{{X: 3.5, Y: 0.5, Z: 1.5}}, 10, 0, 0)
	frame := SaliencyFrame{
		Origin:          origin,
		Rays:            gridRays{dir: r3.Vec{X: 1}},
		Image:           solidImage(10, 10, 200),
		ProjectionLimit: 10,
		Config:          SaliencyConfig{Alpha: 0.5, Threshold: 128},
	}
	if err := m.IngestSaliencyFrame(frame); err != nil {
		t.Fatalf("IngestSaliencyFrame: %v", err)
	}

	blob, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	restored := makeTestMap(t)
	if err := restored.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.FrameCounter() != 1 {
		t.Fatalf("restored frame counter %d, want 1", restored.FrameCounter())
	}
}

func TestRestore_ResolutionMismatchResets(t *testing.T) {
	m := makeTestMap(t)
	m.IngestSensorCloud(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, []r3.Vec{{X: 3.5, Y: 0.5, Z: 0.5}}, 10, 0, 0)
	blob, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	p := DefaultMapParams()
	p.Resolution = 0.25 // snapshot was taken at 1.0
	other, err := NewVoxelMap(p)
	if err != nil {
		t.Fatalf("NewVoxelMap: %v", err)
	}
	other.IngestSensorCloud(r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, []r3.Vec{{X: 1.1, Y: 0.1, Z: 0.1}}, 10, 0, 0)

	// Mismatch is recoverable: no error, map comes back empty at its own
	// resolution.
	if err := other.Restore(blob); err != nil {
		t.Fatalf("Restore with mismatched resolution: %v", err)
	}
	if other.Size() != 0 {
		t.Fatalf("mismatch restore left %d voxels", other.Size())
	}
	if other.Resolution() != 0.25 {
		t.Fatalf("mismatch restore changed resolution to %v", other.Resolution())
	}
}

func TestRestore_EmptyBlob(t *testing.T) {
	m := makeTestMap(t)
	if err := m.Restore(nil); err == nil {
		t.Fatal("empty blob accepted")
	}
	if err := m.Restore([]byte{0x1, 0x2, 0x3}); err == nil {
		t.Fatal("garbage blob accepted")
	}
}
