// Package thin reduces point density to a target spatial resolution.
//
// VoxelThinner keeps at most one point per occupied voxel. With boundary
// preservation enabled, voxels whose neighbourhood is planar collapse to
// their most central real point and all other voxels to their centroid.
// RandomThinner keeps a seeded uniform sample of fixed size.
//
// Both thinners are deterministic: output order follows the lowest source
// index of each voxel (or of each sampled point) regardless of worker count.
package thin
