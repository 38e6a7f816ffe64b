// Package integrity maintains the per-collection manifest: a flat text
// file of fingerprint, size and relative path for every archived
// original. The manifest lives next to the files it describes, so a
// collection can be verified with nothing but the files themselves.
package integrity
