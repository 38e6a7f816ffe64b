// Package archive decides where files live in the content-addressed
// archive and moves originals into place, preferring hardlinks on the
// same device and falling back to verified byte copies.
package archive
