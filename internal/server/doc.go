// Package server hosts the optional Fiber status endpoint of a restore run.
// It exposes the run's status table as JSON while workers are still busy, so
// build dashboards can poll progress without parsing the stdout stream.
// Keep exports narrow and accept explicit dependencies; the restore engine
// never imports this package.
package server
