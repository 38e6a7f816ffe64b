// Package media generates the derived assets that accompany archived
// originals: tiered thumbnails, embedded camera previews and playback
// proxies. Generators are idempotent and write through the archive's
// derived-asset layout.
package media
