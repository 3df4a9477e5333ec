// Package segment extracts dominant planar surfaces from a point cloud.
//
// Extraction is iterative RANSAC over the points not yet assigned to a
// patch. Each accepted model is refined by least squares, grown over its
// spatially connected inliers with a flood fill on the spatial index, and
// removed from the working set. A final pass merges near-coincident
// adjacent patches.
//
// All randomness comes from one generator seeded by Params.Seed and consumed
// by the calling goroutine; worker goroutines only count inliers. The same
// seed, cloud and parameters therefore always produce the same patches.
package segment
