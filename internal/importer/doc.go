// Package importer drives the two-phase import pipeline: originals are
// fingerprinted, deduplicated and placed into the archive in chunks,
// then enrichment jobs are enqueued for each accepted file. Phase one
// is synchronous and all-or-nothing per file; phase two runs on the
// durable queues.
package importer
