// Package pcio reads and writes point clouds as whitespace separated text
// (.xyz and .pts) and writes segmented patches as JSON.
//
// Loader and Exporter satisfy the pipeline capabilities of the same names.
// Binary formats (PLY, PCD, LAS, E57) are not handled here.
package pcio
