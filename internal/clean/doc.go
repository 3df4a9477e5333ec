// Package clean removes measurement noise from a point cloud.
//
// Two filters are provided. StatisticalFilter rejects points whose mean
// distance to their k nearest neighbours is far above the cloud-wide mean.
// RadiusFilter rejects points with too few neighbours inside a fixed radius.
// Cleaner evaluates any number of filters against one index built over its
// input and removes the union of their rejections, so the result does not
// depend on evaluation order.
package clean
