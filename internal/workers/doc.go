// Package workers calculates sensible worker pool sizes for the job
// queues based on available CPU resources.
package workers
