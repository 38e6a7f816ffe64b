// Package database manages the SQLite store holding media assets,
// import batches and the durable job queues. Queue state transitions
// are single atomic statements so concurrent workers never double-claim.
package database
