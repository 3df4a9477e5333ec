// Package cloud owns the canonical in-memory point cloud model.
//
// Responsibilities: point storage in source order, tight axis-aligned
// bounds, per-channel availability flags and voxel keys.
// Key types: Point, PointCloud, Bounds, VoxelKey.
//
// Dependency rule: cloud imports no other internal package. Every stage
// (spatial, clean, thin, segment, pipeline) depends on it.
package cloud
