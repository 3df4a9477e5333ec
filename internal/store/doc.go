// Package store persists run history in SQLite: one row per pipeline run,
// its per-stage metrics and the planar patches it produced.
//
// The schema is managed by embedded golang-migrate migrations, applied on
// Open.
package store
