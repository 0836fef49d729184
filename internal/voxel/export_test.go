package voxel

import (
	"bytes"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestWriteOccupiedCSV(t *testing.T) {
	m := makeTestMap(t)
	origin := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	m.IngestSensorCloud(origin, []r3.Vec{
		{X: 3.5, Y: 0.5, Z: 0.5},
		{X: 0.5, Y: 2.5, Z: 0.5},
	}, 10, 0, 0)
	m.mu.Lock()
	m.idx.Record(Key{3, 0, 0}).Saliency = Saliency{Phase: PhaseSalient, Value: 150, ViewpointCount: 4, Density: 1200}
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := m.WriteOccupiedCSV(&buf); err != nil {
		t.Fatalf("WriteOccupiedCSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("%d lines for 2 occupied voxels:\n%s", len(lines), buf.String())
	}
	// Rows are key-ordered: (0,2,0) before (3,0,0).
	if lines[0] != "0.5,2.5,0.5,0,0,0,0" {
		t.Errorf("first row %q", lines[0])
	}
	if lines[1] != "3.5,0.5,0.5,1,150,4,1200" {
		t.Errorf("second row %q", lines[1])
	}
}

func TestWriteOccupiedCSV_EmptyMapAndNilWriter(t *testing.T) {
	m := makeTestMap(t)
	if err := m.WriteOccupiedCSV(nil); err == nil {
		t.Fatal("nil writer accepted")
	}
	var buf bytes.Buffer
	if err := m.WriteOccupiedCSV(&buf); err != nil {
		t.Fatalf("empty map export: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("empty map produced output %q", buf.String())
	}
}
