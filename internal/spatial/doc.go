// Package spatial provides neighbour-search structures over a point cloud.
//
// Responsibilities: exact radius queries and deterministic k-nearest
// neighbour queries, backed by either a median-split k-d tree or a uniform
// voxel hash.
// Key types: Index, KDTree, VoxelGrid, Neighbor.
//
// An Index is immutable after Build and may be queried concurrently. It is
// bound to the point set it was built over and must be rebuilt whenever that
// set changes.
package spatial
