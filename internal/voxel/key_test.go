package voxel

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestKeyFor_FloorSemantics(t *testing.T) {
	cases := []struct {
		p    r3.Vec
		res  float64
		want Key
	}{
		{r3.Vec{X: 0.1, Y: 0.1, Z: 0.1}, 1.0, Key{0, 0, 0}},
		{r3.Vec{X: -0.1, Y: -0.1, Z: -0.1}, 1.0, Key{-1, -1, -1}},
		{r3.Vec{X: 2.99, Y: 3.0, Z: -3.01}, 1.0, Key{2, 3, -4}},
		{r3.Vec{X: 0.31, Y: 0.0, Z: -0.01}, 0.1, Key{3, 0, -1}},
	}
	for _, c := range cases {
		if got := keyFor(c.p, c.res); got != c.want {
			t.Fatalf("keyFor(%v, %v) = %v, want %v", c.p, c.res, got, c.want)
		}
	}
}

func TestKeyCenter_RoundTrip(t *testing.T) {
	res := 0.25
	for _, k := range []Key{{0, 0, 0}, {5, -3, 17}, {-100, 42, -1}} {
		if got := keyFor(k.center(res), res); got != k {
			t.Fatalf("keyFor(center(%v)) = %v", k, got)
		}
	}
}

func TestChunkIndexing_RoundTrip(t *testing.T) {
	keys := []Key{
		{0, 0, 0}, {7, 7, 7}, {8, 8, 8}, {-1, -1, -1}, {-8, -9, 15}, {123, -456, 789},
	}
	for _, k := range keys {
		ck := chunkOf(k)
		i := cellIndex(k)
		if i < 0 || i >= chunkCells {
			t.Fatalf("cellIndex(%v) = %d out of range", k, i)
		}
		if got := cellKey(ck, i); got != k {
			t.Fatalf("cellKey(chunkOf(%v), cellIndex) = %v", k, got)
		}
	}
}

func TestFinitePoint(t *testing.T) {
	if !finitePoint(r3.Vec{X: 1, Y: 2, Z: 3}) {
		t.Fatal("finite point rejected")
	}
	if finitePoint(r3.Vec{X: 1, Y: math.NaN(), Z: 3}) {
		t.Fatal("NaN point accepted")
	}
	if finitePoint(r3.Vec{X: math.Inf(1), Y: 0, Z: 0}) {
		t.Fatal("Inf point accepted")
	}
}
