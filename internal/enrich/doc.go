// Package enrich binds the derived-asset generators, metadata adapters
// and manifest recorder to their job queues.
package enrich
