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
	"media-archive/internal/metadata"
)

// runFFmpegTranscode is swapped in tests.
var runFFmpegTranscode = func(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w, stderr: %s", err, stderr.String())
	}
	return nil
}

// ProxyGenerator transcodes videos that browsers cannot play into H.264
// MP4 proxies in the archive's derived-asset tree.
type ProxyGenerator struct {
	root string
}

// NewProxyGenerator creates a generator rooted at the archive
// directory.
func NewProxyGenerator(root string) *ProxyGenerator {
	return &ProxyGenerator{root: root}
}

// Generate transcodes the video when its codec or container is not
// directly playable and returns the proxy's archive-relative path. An
// already-playable video returns ErrNoResult.
func (p *ProxyGenerator) Generate(ctx context.Context, archivePath, fingerprint string) (string, error) {
	relPath := archive.DerivedPath(archive.DerivedProxies, fingerprint, "proxy", ".mp4")
	dest := filepath.Join(p.root, relPath)

	if _, err := os.Stat(dest); err == nil {
		logging.Debug("Proxy already present for %s", fingerprint)
		return relPath, nil
	}

	sourcePath := filepath.Join(p.root, archivePath)
	meta, err := metadata.ProbeVideo(ctx, sourcePath)
	if err != nil {
		return "", err
	}
	if !metadata.NeedsProxy(meta, sourcePath) {
		logging.Debug("No proxy needed for %s (codec %s)", fingerprint, meta.Codec)
		return "", fmt.Errorf("%s: %w", archivePath, ErrNoResult)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create proxy dir: %w", err)
	}

	// Transcode to a temp name so a killed run never leaves a partial
	// proxy at the final path.
	tmp := dest + ".tmp.mp4"
	err = runFFmpegTranscode(ctx, []string{
		"-i", sourcePath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		tmp,
	})
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize proxy: %w", err)
	}

	logging.Info("Proxy generated for %s", fingerprint)
	return relPath, nil
}
