// Package voxeldb persists opaque voxel map snapshots in SQLite.
//
// It implements voxel.SnapshotStore. The blob column is the map core's
// compressed snapshot format and is never interpreted here; this package
// only owns identity, timing, and retention of snapshots.
package voxeldb
