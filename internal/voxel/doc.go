// Package voxel implements a sparse probabilistic 3D occupancy map with a
// per-voxel visual saliency state used to score exploration targets.
//
// Responsibilities: log-odds occupancy fusion from batched ray casting,
// the saliency accumulation/decay state machine, spatial classification
// queries (point, line, box, visibility, collision), and exploration
// coverage metrics. The single entry point for mutation is VoxelMap.
//
// Upstream concerns stay out of this package: pose estimation, coordinate
// frame transforms and pixel unprojection happen before data arrives here
// (see RayProjector), and wire encoding of results happens after.
// No SQL/database code is allowed in this package; persistence goes
// through the SnapshotStore interface.
package voxel
