// Package pipeline sequences the processing stages for one point cloud:
// load, clean, thin, segment and export.
//
// This package is the composition root of the core: it imports clean, thin,
// segment and spatial, and none of those packages import pipeline. Loading
// and exporting are delegated to the Loader and Exporter capabilities; all
// progress and metrics leave through a Reporter.
//
// Clouds whose estimated working set exceeds the configured memory budget
// are cleaned and thinned tile by tile over XY, with each tile padded by the
// overlap margin so that filters see the same neighbourhoods at tile edges.
package pipeline
