// Package jobqueue drives the durable enrichment queues: a polling
// dispatcher with a bounded worker pool per queue, retry with backoff,
// dead-lettering and typed lifecycle events.
package jobqueue
