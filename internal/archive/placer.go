package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"media-archive/internal/hasher"
	"media-archive/internal/logging"
)

// ErrVerificationFailed is returned when a hardlink or copy could not be
// verified after placement. The file must be treated as errored; no
// unverified archive entry is ever left behind.
var ErrVerificationFailed = errors.New("placement verification failed")

// linkFile is swapped in tests to force the copy fallback.
var linkFile = os.Link

// Placer decides where an original file lives in the archive and moves
// it there. It hardlinks when source and destination share a storage
// device, otherwise it performs a verified byte copy.
type Placer struct {
	root            string
	deleteOriginals bool
}

// NewPlacer creates a Placer rooted at the archive directory.
// When deleteOriginals is set, the source file is removed only after
// placement has been verified.
func NewPlacer(root string, deleteOriginals bool) *Placer {
	return &Placer{root: root, deleteOriginals: deleteOriginals}
}

// Root returns the archive root directory.
func (p *Placer) Root() string {
	return p.root
}

// Place stores sourcePath in the archive under its fingerprint and
// returns the archive-relative path. If the destination already exists
// the placement is skipped entirely: the fingerprint identifies the
// content, so an existing destination already holds the right bytes.
func (p *Placer) Place(sourcePath, fingerprint, collectionID string) (string, error) {
	relPath := OriginalPath(collectionID, fingerprint, filepath.Ext(sourcePath))
	destPath := filepath.Join(p.root, relPath)

	if _, err := os.Stat(destPath); err == nil {
		logging.Debug("Placement skipped, destination exists: %s", relPath)
		return relPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory for %s: %w", relPath, err)
	}

	if sameDevice(sourcePath, destPath) {
		if err := p.placeHardlink(sourcePath, destPath); err == nil {
			return relPath, p.maybeDeleteOriginal(sourcePath)
		} else if errors.Is(err, ErrVerificationFailed) {
			return "", err
		}
		// Hardlink refused (filesystem restrictions, races); fall back
		// to a verified copy.
		logging.Debug("Hardlink failed for %s, falling back to copy", sourcePath)
	}

	if err := p.placeCopy(sourcePath, destPath, fingerprint); err != nil {
		return "", err
	}
	return relPath, p.maybeDeleteOriginal(sourcePath)
}

// placeHardlink links dest to source and verifies both directory
// entries point at the same inode on the same device.
func (p *Placer) placeHardlink(sourcePath, destPath string) error {
	if err := linkFile(sourcePath, destPath); err != nil {
		return fmt.Errorf("hardlink failed: %w", err)
	}

	srcStat, err := statDevIno(sourcePath)
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: cannot stat source after link: %v", ErrVerificationFailed, err)
	}
	dstStat, err := statDevIno(destPath)
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: cannot stat destination after link: %v", ErrVerificationFailed, err)
	}

	if srcStat.dev != dstStat.dev || srcStat.ino != dstStat.ino {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: link does not share device+inode with source", ErrVerificationFailed)
	}

	logging.Debug("Hardlinked %s -> %s", sourcePath, destPath)
	return nil
}

// placeCopy copies source to a temp file, fsyncs, renames atomically,
// then verifies size and re-computed fingerprint before declaring
// success.
func (p *Placer) placeCopy(sourcePath, destPath, fingerprint string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", sourcePath, err)
	}
	defer src.Close()

	tmpPath := destPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("copy failed: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync failed: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close failed: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename failed: %w", err)
	}

	// Verify: identical size, identical fingerprint.
	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: cannot stat source after copy: %v", ErrVerificationFailed, err)
	}
	dstInfo, err := os.Stat(destPath)
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: cannot stat destination after copy: %v", ErrVerificationFailed, err)
	}
	if srcInfo.Size() != dstInfo.Size() {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: size mismatch after copy (%d != %d)", ErrVerificationFailed, srcInfo.Size(), dstInfo.Size())
	}

	destHash, err := hasher.Hash(destPath)
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: cannot re-hash destination: %v", ErrVerificationFailed, err)
	}
	if destHash != fingerprint {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: fingerprint mismatch after copy", ErrVerificationFailed)
	}

	logging.Debug("Copied and verified %s -> %s", sourcePath, destPath)
	return nil
}

func (p *Placer) maybeDeleteOriginal(sourcePath string) error {
	if !p.deleteOriginals {
		return nil
	}
	if err := os.Remove(sourcePath); err != nil {
		// Placement already verified; a failed delete is not a
		// placement failure.
		logging.Warn("Failed to delete original %s: %v", sourcePath, err)
	}
	return nil
}

type devIno struct {
	dev uint64
	ino uint64
}

func statDevIno(path string) (devIno, error) {
	info, err := os.Stat(path)
	if err != nil {
		return devIno{}, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return devIno{}, fmt.Errorf("no stat_t available for %s", path)
	}
	return devIno{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}

// sameDevice reports whether the source file and the destination's
// parent directory reside on the same storage device, which is the
// precondition for hardlinking.
func sameDevice(sourcePath, destPath string) bool {
	src, err := statDevIno(sourcePath)
	if err != nil {
		return false
	}
	dst, err := statDevIno(filepath.Dir(destPath))
	if err != nil {
		return false
	}
	return src.dev == dst.dev
}
