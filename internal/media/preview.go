package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"media-archive/internal/archive"
	"media-archive/internal/logging"
)

// previewTags are the embedded-image tags tried in order of fidelity.
// Cameras disagree on which tag carries the full-size JPEG.
var previewTags = []string{
	"JpgFromRaw",
	"PreviewImage",
	"OtherImage",
	"ThumbnailImage",
}

// runExiftool is swapped in tests.
var runExiftool = func(ctx context.Context, tag, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "exiftool", "-b", "-"+tag, path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exiftool failed: %w - %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// extractEmbeddedPreview pulls the camera-embedded JPEG out of a RAW
// file, trying each known tag in turn. Exhausting the chain returns
// ErrNoResult.
func extractEmbeddedPreview(ctx context.Context, path string) ([]byte, error) {
	for _, tag := range previewTags {
		data, err := runExiftool(ctx, tag, path)
		if err != nil {
			logging.Debug("exiftool %s failed for %s: %v", tag, path, err)
			continue
		}
		if len(data) > 0 {
			logging.Debug("Embedded preview for %s via %s (%d bytes)", path, tag, len(data))
			return data, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoResult)
}

// PreviewExtractor writes camera-embedded previews into the archive's
// derived-asset tree.
type PreviewExtractor struct {
	root string
}

// NewPreviewExtractor creates an extractor rooted at the archive
// directory.
func NewPreviewExtractor(root string) *PreviewExtractor {
	return &PreviewExtractor{root: root}
}

// Extract writes the embedded preview of a RAW original and returns its
// archive-relative path. A RAW file with no embedded image returns
// ErrNoResult; absence is recorded, not retried.
func (p *PreviewExtractor) Extract(ctx context.Context, archivePath, fingerprint string) (string, error) {
	relPath := archive.DerivedPath(archive.DerivedPreviews, fingerprint, "preview", ".jpg")
	dest := filepath.Join(p.root, relPath)

	if _, err := os.Stat(dest); err == nil {
		logging.Debug("Preview already present for %s", fingerprint)
		return relPath, nil
	}

	data, err := extractEmbeddedPreview(ctx, filepath.Join(p.root, archivePath))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create preview dir: %w", err)
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write preview: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize preview: %w", err)
	}

	return relPath, nil
}
