package integrity

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"media-archive/internal/archive"
	"media-archive/internal/logging"
)

// ManifestName is the manifest's filename at the collection root.
const ManifestName = "archive-manifest.txt"

// Entry describes one archived original.
type Entry struct {
	Fingerprint string
	Size        int64
	RelPath     string
}

// Manifest is the integrity record of one collection.
type Manifest struct {
	Verified time.Time
	Entries  []Entry
}

// Load reads the manifest at the collection root. A missing manifest
// returns (nil, nil); a malformed one is an error.
func Load(root string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(root, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	m := &Manifest{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# verified ") {
			if t, err := time.Parse(time.RFC3339, strings.TrimPrefix(line, "# verified ")); err == nil {
				m.Verified = t
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("manifest line %d: expected 3 fields, got %d", lineNo, len(parts))
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: bad size: %w", lineNo, err)
		}
		m.Entries = append(m.Entries, Entry{
			Fingerprint: parts[0],
			Size:        size,
			RelPath:     parts[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return m, nil
}

// Write replaces the manifest at the collection root atomically.
// Entries are sorted by relative path so successive writes of the same
// collection are byte-identical.
func Write(root string, m *Manifest) error {
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].RelPath < m.Entries[j].RelPath
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# verified %s\n", m.Verified.UTC().Format(time.RFC3339))
	for _, e := range m.Entries {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", e.Fingerprint, e.Size, e.RelPath)
	}

	dest := filepath.Join(root, ManifestName)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize manifest: %w", err)
	}
	return nil
}

// Record upserts one entry and rewrites the manifest. Used by the
// integrity queue after each placement.
func Record(root string, entry Entry) error {
	m, err := Load(root)
	if err != nil {
		return err
	}
	if m == nil {
		m = &Manifest{}
	}

	replaced := false
	for i := range m.Entries {
		if m.Entries[i].RelPath == entry.RelPath {
			m.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		m.Entries = append(m.Entries, entry)
	}
	m.Verified = time.Now()

	return Write(root, m)
}

// walkOriginals yields the relative path and size of every original
// under the collection root, skipping derived assets and the manifest
// itself.
func walkOriginals(root string, fn func(relPath string, size int64) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == archive.DerivedDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == ManifestName || strings.HasSuffix(rel, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}

// Build scans the collection, hashes every original and writes a fresh
// manifest. Expensive; Record is the incremental path.
func Build(root string, hash func(path string) (string, error)) (*Manifest, error) {
	m := &Manifest{Verified: time.Now()}

	err := walkOriginals(root, func(relPath string, size int64) error {
		fp, err := hash(filepath.Join(root, relPath))
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", relPath, err)
		}
		m.Entries = append(m.Entries, Entry{Fingerprint: fp, Size: size, RelPath: relPath})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := Write(root, m); err != nil {
		return nil, err
	}
	logging.Info("Manifest rebuilt for %s (%d entries)", root, len(m.Entries))
	return m, nil
}
