package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"media-archive/internal/archive"
	"media-archive/internal/mediatypes"
)

// writeArchivedImage places a real PNG at the archive path an imported
// asset would occupy and returns its fingerprint-relative locations.
func writeArchivedImage(t *testing.T, root string, w, h int) (archivePath, fingerprint string) {
	t.Helper()
	fingerprint = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	archivePath = archive.OriginalPath("col1", fingerprint, ".png")

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	full := filepath.Join(root, archivePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(full)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return archivePath, fingerprint
}

func decodeThumb(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("thumbnail missing: %v", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("thumbnail not decodable: %v", err)
	}
	return img
}

func TestThumbnailGenerateAllTiers(t *testing.T) {
	root := t.TempDir()
	archivePath, fingerprint := writeArchivedImage(t, root, 2048, 1536)

	g := NewThumbnailGenerator(root)
	set, err := g.Generate(context.Background(), archivePath, fingerprint, mediatypes.KindImage)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	tiers := map[string]int{
		set.Small:  ThumbSmall,
		set.Medium: ThumbMedium,
		set.Large:  ThumbLarge,
	}
	for rel, size := range tiers {
		if !strings.HasPrefix(rel, archive.DerivedDir+"/") {
			t.Errorf("thumbnail %s not under the derived tree", rel)
		}
		img := decodeThumb(t, filepath.Join(root, rel))
		b := img.Bounds()
		longest := b.Dx()
		if b.Dy() > longest {
			longest = b.Dy()
		}
		if longest != size {
			t.Errorf("tier %s longest edge = %d, want %d", rel, longest, size)
		}
		// 4:3 source must stay 4:3; Fit never crops.
		if b.Dx()*3 != b.Dy()*4 {
			t.Errorf("tier %s is %dx%d, aspect ratio not preserved", rel, b.Dx(), b.Dy())
		}
	}
}

func TestThumbnailGenerateIsIdempotent(t *testing.T) {
	root := t.TempDir()
	archivePath, fingerprint := writeArchivedImage(t, root, 800, 600)

	g := NewThumbnailGenerator(root)
	set, err := g.Generate(context.Background(), archivePath, fingerprint, mediatypes.KindImage)
	if err != nil {
		t.Fatal(err)
	}

	largePath := filepath.Join(root, set.Large)
	before, err := os.Stat(largePath)
	if err != nil {
		t.Fatal(err)
	}

	// Second run must keep the existing outputs untouched, even with the
	// source gone.
	if err := os.Remove(filepath.Join(root, archivePath)); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), archivePath, fingerprint, mediatypes.KindImage); err != nil {
		t.Fatalf("retry over existing outputs failed: %v", err)
	}

	after, err := os.Stat(largePath)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Error("existing thumbnail was rewritten")
	}
}

func TestThumbnailSmallSourceNotUpscaled(t *testing.T) {
	root := t.TempDir()
	archivePath, fingerprint := writeArchivedImage(t, root, 100, 80)

	g := NewThumbnailGenerator(root)
	set, err := g.Generate(context.Background(), archivePath, fingerprint, mediatypes.KindImage)
	if err != nil {
		t.Fatal(err)
	}

	img := decodeThumb(t, filepath.Join(root, set.Large))
	if img.Bounds().Dx() > 100 || img.Bounds().Dy() > 80 {
		t.Errorf("large tier is %v, source was 100x80; thumbnails never upscale", img.Bounds())
	}
}

func TestThumbnailUndecodableSourceFails(t *testing.T) {
	root := t.TempDir()
	fingerprint := "ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00"
	archivePath := archive.OriginalPath("col1", fingerprint, ".jpg")

	full := filepath.Join(root, archivePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Stub the ffmpeg fallback so the test does not depend on it.
	origFrame := runFFmpegFrame
	runFFmpegFrame = func(ctx context.Context, args []string) ([]byte, error) {
		return nil, errors.New("decode failed")
	}
	t.Cleanup(func() { runFFmpegFrame = origFrame })

	g := NewThumbnailGenerator(root)
	if _, err := g.Generate(context.Background(), archivePath, fingerprint, mediatypes.KindImage); err == nil {
		t.Error("undecodable source should fail thumbnail generation")
	}
}

func stubExiftool(t *testing.T, fn func(ctx context.Context, tag, path string) ([]byte, error)) {
	t.Helper()
	orig := runExiftool
	runExiftool = fn
	t.Cleanup(func() { runExiftool = orig })
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPreviewExtractFallsThroughTagChain(t *testing.T) {
	root := t.TempDir()
	fingerprint := "aa11bb22cc33aa11bb22cc33aa11bb22cc33aa11bb22cc33aa11bb22cc33aa11"
	archivePath := archive.OriginalPath("col1", fingerprint, ".cr2")

	preview := encodePNG(t)
	var tried []string
	stubExiftool(t, func(ctx context.Context, tag, path string) ([]byte, error) {
		tried = append(tried, tag)
		// Only the lower-fidelity PreviewImage tag has data.
		if tag == "PreviewImage" {
			return preview, nil
		}
		return nil, nil
	})

	p := NewPreviewExtractor(root)
	relPath, err := p.Extract(context.Background(), archivePath, fingerprint)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if len(tried) < 2 || tried[0] != "JpgFromRaw" || tried[1] != "PreviewImage" {
		t.Errorf("tag order = %v, want JpgFromRaw then PreviewImage", tried)
	}

	written, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		t.Fatalf("preview not written: %v", err)
	}
	if len(written) != len(preview) {
		t.Errorf("preview is %d bytes, want %d", len(written), len(preview))
	}
}

func TestPreviewExtractExhaustedChainIsNoResult(t *testing.T) {
	stubExiftool(t, func(ctx context.Context, tag, path string) ([]byte, error) {
		return nil, nil
	})

	p := NewPreviewExtractor(t.TempDir())
	_, err := p.Extract(context.Background(), "col1/ab/x.cr2", "abcd")
	if !errors.Is(err, ErrNoResult) {
		t.Errorf("error = %v, want ErrNoResult", err)
	}
}

func TestPreviewExtractIsIdempotent(t *testing.T) {
	root := t.TempDir()
	fingerprint := "dd44ee55ff66dd44ee55ff66dd44ee55ff66dd44ee55ff66dd44ee55ff66dd44"
	archivePath := archive.OriginalPath("col1", fingerprint, ".nef")

	calls := 0
	stubExiftool(t, func(ctx context.Context, tag, path string) ([]byte, error) {
		calls++
		return []byte("jpeg bytes"), nil
	})

	p := NewPreviewExtractor(root)
	if _, err := p.Extract(context.Background(), archivePath, fingerprint); err != nil {
		t.Fatal(err)
	}
	first := calls

	if _, err := p.Extract(context.Background(), archivePath, fingerprint); err != nil {
		t.Fatal(err)
	}
	if calls != first {
		t.Error("existing preview was re-extracted")
	}
}

func TestProxyGenerateTranscodes(t *testing.T) {
	root := t.TempDir()
	fingerprint := "0011223344550011223344550011223344550011223344550011223344550011"
	archivePath := archive.OriginalPath("col1", fingerprint, ".mov")

	full := filepath.Join(root, archivePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("fake video"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The fake source is unprobeable, which means a proxy is assumed
	// necessary. The transcode stub writes the temp output ffmpeg would.
	var gotArgs []string
	origTranscode := runFFmpegTranscode
	runFFmpegTranscode = func(ctx context.Context, args []string) error {
		gotArgs = args
		return os.WriteFile(args[len(args)-1], []byte("transcoded"), 0o644)
	}
	t.Cleanup(func() { runFFmpegTranscode = origTranscode })

	g := NewProxyGenerator(root)
	relPath, err := g.Generate(context.Background(), archivePath, fingerprint)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if !strings.HasSuffix(relPath, "_proxy.mp4") {
		t.Errorf("proxy path = %s", relPath)
	}
	if _, err := os.Stat(filepath.Join(root, relPath)); err != nil {
		t.Errorf("proxy missing at final path: %v", err)
	}

	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"libx264", "-crf 23", "+faststart"} {
		if !strings.Contains(joined, want) {
			t.Errorf("transcode args missing %q: %s", want, joined)
		}
	}
}

func TestProxyGenerateIsIdempotent(t *testing.T) {
	root := t.TempDir()
	fingerprint := "9988776655449988776655449988776655449988776655449988776655449988"
	archivePath := archive.OriginalPath("col1", fingerprint, ".mov")

	relPath := archive.DerivedPath(archive.DerivedProxies, fingerprint, "proxy", ".mp4")
	dest := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("existing proxy"), 0o644); err != nil {
		t.Fatal(err)
	}

	origTranscode := runFFmpegTranscode
	runFFmpegTranscode = func(ctx context.Context, args []string) error {
		return fmt.Errorf("transcode must not run for an existing proxy")
	}
	t.Cleanup(func() { runFFmpegTranscode = origTranscode })

	g := NewProxyGenerator(root)
	got, err := g.Generate(context.Background(), archivePath, fingerprint)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got != relPath {
		t.Errorf("path = %s, want %s", got, relPath)
	}
}

func TestProxyGenerateFailedTranscodeLeavesNothing(t *testing.T) {
	root := t.TempDir()
	fingerprint := "5566778899aa5566778899aa5566778899aa5566778899aa5566778899aa5566"
	archivePath := archive.OriginalPath("col1", fingerprint, ".mov")

	full := filepath.Join(root, archivePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("fake video"), 0o644); err != nil {
		t.Fatal(err)
	}

	origTranscode := runFFmpegTranscode
	runFFmpegTranscode = func(ctx context.Context, args []string) error {
		// Simulate a killed ffmpeg that left a partial file.
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		return errors.New("transcode aborted")
	}
	t.Cleanup(func() { runFFmpegTranscode = origTranscode })

	g := NewProxyGenerator(root)
	if _, err := g.Generate(context.Background(), archivePath, fingerprint); err == nil {
		t.Fatal("failed transcode should be an error")
	}

	relPath := archive.DerivedPath(archive.DerivedProxies, fingerprint, "proxy", ".mp4")
	if _, err := os.Stat(filepath.Join(root, relPath)); !os.IsNotExist(err) {
		t.Error("partial proxy left at final path")
	}
	if _, err := os.Stat(filepath.Join(root, relPath) + ".tmp.mp4"); !os.IsNotExist(err) {
		t.Error("temp transcode output not cleaned up")
	}
}
