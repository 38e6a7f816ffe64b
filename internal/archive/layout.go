package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DerivedDir is the directory under the archive root holding all
// derived assets, separate from the original-file hierarchy so the
// original tree is never polluted by generated data.
const DerivedDir = ".derived"

// Derived asset kind directories under DerivedDir.
const (
	DerivedThumbnails = "thumbnails"
	DerivedPreviews   = "previews"
	DerivedProxies    = "proxies"
)

// Shard returns the sharded subdirectory for a fingerprint: its first
// two hex bytes. Keeps any one directory from accumulating too many
// entries.
func Shard(fingerprint string) string {
	if len(fingerprint) < 2 {
		return "00"
	}
	return strings.ToLower(fingerprint[:2])
}

// OriginalPath returns the archive-relative path for an original file.
// Layout: <collection>/<shard>/<fingerprint><ext>
func OriginalPath(collectionID, fingerprint, ext string) string {
	return filepath.Join(collectionID, Shard(fingerprint), fingerprint+strings.ToLower(ext))
}

// DerivedPath returns the archive-relative path for a derived asset.
// Layout: .derived/<kind>/<shard>/<fingerprint>_<variant>.<ext>
func DerivedPath(kind, fingerprint, variant, ext string) string {
	name := fmt.Sprintf("%s_%s%s", fingerprint, variant, ext)
	return filepath.Join(DerivedDir, kind, Shard(fingerprint), name)
}
