// Package metrics defines the Prometheus collectors for the import
// pipeline, job queues, derived asset generation and integrity checks.
package metrics
