// Package handlers implements the HTTP API: import batch management,
// queue inspection, collection validation and regeneration, and the
// health endpoints.
package handlers
