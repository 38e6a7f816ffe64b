package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"

	"media-archive/internal/archive"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Thumbnail tiers, longest edge in pixels.
const (
	ThumbSmall  = 160
	ThumbMedium = 480
	ThumbLarge  = 1024

	thumbQuality = 80
)

// ThumbnailSet holds the archive-relative paths of the three tiers.
type ThumbnailSet struct {
	Small  string
	Medium string
	Large  string
}

// ThumbnailGenerator renders tiered thumbnails into the archive's
// derived-asset tree.
type ThumbnailGenerator struct {
	root string
}

// NewThumbnailGenerator creates a generator rooted at the archive
// directory.
func NewThumbnailGenerator(root string) *ThumbnailGenerator {
	return &ThumbnailGenerator{root: root}
}

// Generate renders all three thumbnail tiers for the asset from a
// single source decode. Already-existing outputs are kept as-is, so a
// retried job never redoes finished work.
func (g *ThumbnailGenerator) Generate(ctx context.Context, archivePath, fingerprint string, kind mediatypes.Kind) (*ThumbnailSet, error) {
	set := &ThumbnailSet{
		Small:  archive.DerivedPath(archive.DerivedThumbnails, fingerprint, "small", ".jpg"),
		Medium: archive.DerivedPath(archive.DerivedThumbnails, fingerprint, "medium", ".jpg"),
		Large:  archive.DerivedPath(archive.DerivedThumbnails, fingerprint, "large", ".jpg"),
	}

	if g.allExist(set) {
		logging.Debug("Thumbnails already present for %s", fingerprint)
		return set, nil
	}

	sourcePath := filepath.Join(g.root, archivePath)
	img, err := g.decodeSource(ctx, sourcePath, kind)
	if err != nil {
		return nil, fmt.Errorf("thumbnail source decode failed: %w", err)
	}

	tiers := []struct {
		relPath string
		size    int
	}{
		{set.Large, ThumbLarge},
		{set.Medium, ThumbMedium},
		{set.Small, ThumbSmall},
	}
	for _, tier := range tiers {
		if err := g.writeTier(img, tier.relPath, tier.size); err != nil {
			return nil, err
		}
	}

	logging.Debug("Thumbnails generated for %s", fingerprint)
	return set, nil
}

func (g *ThumbnailGenerator) allExist(set *ThumbnailSet) bool {
	for _, rel := range []string{set.Small, set.Medium, set.Large} {
		if _, err := os.Stat(filepath.Join(g.root, rel)); err != nil {
			return false
		}
	}
	return true
}

// writeTier scales and encodes one tier, writing through a temp file so
// a crash never leaves a truncated thumbnail behind.
func (g *ThumbnailGenerator) writeTier(img image.Image, relPath string, size int) error {
	dest := filepath.Join(g.root, relPath)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail dir: %w", err)
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize thumbnail: %w", err)
	}
	return nil
}

// decodeSource loads one image from the original, shrunk to the largest
// tier. Images decode via libvips when available, falling back to
// pure-Go decoding, then to ffmpeg. Videos always go through ffmpeg
// frame extraction.
func (g *ThumbnailGenerator) decodeSource(ctx context.Context, path string, kind mediatypes.Kind) (image.Image, error) {
	switch kind {
	case mediatypes.KindVideo:
		return extractVideoFrame(ctx, path)
	case mediatypes.KindImage:
		if mediatypes.IsRaw(path) {
			return decodeRawPreview(ctx, path)
		}
		if IsVipsAvailable() {
			if img, err := loadWithVips(path, ThumbLarge, ThumbLarge); err == nil {
				return img, nil
			}
		}
		if img, err := imaging.Open(path, imaging.AutoOrientation(true)); err == nil {
			return img, nil
		}
		logging.Debug("Standard decode failed for %s, trying ffmpeg fallback", path)
		return decodeImageWithFFmpeg(ctx, path)
	default:
		return nil, fmt.Errorf("no thumbnail source for kind %q", kind)
	}
}

// decodeRawPreview decodes the camera-embedded preview of a RAW file.
// RAW sensor data itself is never demosaiced here.
func decodeRawPreview(ctx context.Context, path string) (image.Image, error) {
	data, err := extractEmbeddedPreview(ctx, path)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedded preview: %w", err)
	}
	return img, nil
}

// runFFmpegFrame is swapped in tests.
var runFFmpegFrame = func(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func decodeImageWithFFmpeg(ctx context.Context, path string) (image.Image, error) {
	out, err := runFFmpegFrame(ctx, []string{
		"-i", path,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	})
	if err != nil {
		return nil, err
	}
	return decodeFrameBytes(out, path)
}

func extractVideoFrame(ctx context.Context, path string) (image.Image, error) {
	out, err := runFFmpegFrame(ctx, []string{
		"-i", path,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	})
	if err != nil {
		// Clips shorter than a second have no frame at the seek point.
		logging.Debug("Frame at 1s failed for %s, retrying from start: %v", path, err)
		out, err = runFFmpegFrame(ctx, []string{
			"-i", path,
			"-vframes", "1",
			"-f", "image2pipe",
			"-vcodec", "png",
			"-",
		})
		if err != nil {
			return nil, err
		}
	}
	return decodeFrameBytes(out, path)
}

func decodeFrameBytes(out []byte, path string) (image.Image, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", path)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}
