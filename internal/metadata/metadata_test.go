package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"media-archive/internal/mediatypes"
)

const sampleProbeOutput = `{
	"streams": [
		{"codec_type": "video", "codec_name": "hevc", "width": 3840, "height": 2160},
		{"codec_type": "audio", "codec_name": "aac"}
	],
	"format": {"duration": "12.500000"}
}`

func stubFFprobe(t *testing.T, fn func(ctx context.Context, path string) ([]byte, error)) {
	t.Helper()
	orig := runFFprobe
	runFFprobe = fn
	t.Cleanup(func() { runFFprobe = orig })
}

func TestProbeVideoParsesStreams(t *testing.T) {
	stubFFprobe(t, func(ctx context.Context, path string) ([]byte, error) {
		return []byte(sampleProbeOutput), nil
	})

	meta, err := ProbeVideo(context.Background(), "clip.mov")
	if err != nil {
		t.Fatalf("ProbeVideo() error: %v", err)
	}
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.Codec != "hevc" {
		t.Errorf("codec = %s, want hevc", meta.Codec)
	}
	if meta.Width != 3840 || meta.Height != 2160 {
		t.Errorf("dimensions = %dx%d, want 3840x2160", meta.Width, meta.Height)
	}
	if meta.Audio != "aac" {
		t.Errorf("audio = %s, want aac", meta.Audio)
	}
	if meta.Duration != 12.5 {
		t.Errorf("duration = %v, want 12.5", meta.Duration)
	}
}

func TestProbeVideoFailureIsNotFatal(t *testing.T) {
	stubFFprobe(t, func(ctx context.Context, path string) ([]byte, error) {
		return nil, errors.New("ffprobe exited 1")
	})

	meta, err := ProbeVideo(context.Background(), "broken.mov")
	if err != nil {
		t.Fatalf("probe failure must not be an error, got %v", err)
	}
	if meta != nil {
		t.Errorf("meta = %+v, want nil", meta)
	}
}

func TestProbeVideoEmptyOutput(t *testing.T) {
	stubFFprobe(t, func(ctx context.Context, path string) ([]byte, error) {
		return []byte(`{"streams": [], "format": {}}`), nil
	})

	meta, err := ProbeVideo(context.Background(), "empty.mov")
	if err != nil {
		t.Fatal(err)
	}
	if meta != nil {
		t.Errorf("meta = %+v, want nil for a probe with no usable streams", meta)
	}
}

func TestNeedsProxy(t *testing.T) {
	tests := []struct {
		name string
		meta *VideoMeta
		path string
		want bool
	}{
		{"h264 in mp4", &VideoMeta{Codec: "h264"}, "a.mp4", false},
		{"vp9 in webm", &VideoMeta{Codec: "vp9"}, "a.webm", false},
		{"av1 in mp4", &VideoMeta{Codec: "av1"}, "a.MP4", false},
		{"hevc in mp4", &VideoMeta{Codec: "hevc"}, "a.mp4", true},
		{"h264 in mkv", &VideoMeta{Codec: "h264"}, "a.mkv", true},
		{"prores in mov", &VideoMeta{Codec: "prores"}, "a.mov", true},
		{"unprobed file", nil, "a.mp4", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsProxy(tt.meta, tt.path); got != tt.want {
				t.Errorf("NeedsProxy(%+v, %s) = %v, want %v", tt.meta, tt.path, got, tt.want)
			}
		})
	}
}

func TestExtractImageWithoutExif(t *testing.T) {
	// A plain file with no EXIF segment yields absence, not an error.
	path := filepath.Join(t.TempDir(), "plain.jpg")
	if err := os.WriteFile(path, []byte("not a real jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := ExtractImage(path)
	if err != nil {
		t.Fatalf("ExtractImage() error: %v", err)
	}
	if meta != nil {
		t.Errorf("meta = %+v, want nil", meta)
	}
}

func TestExtractImageUnreadable(t *testing.T) {
	if _, err := ExtractImage(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("unreadable file should be an error")
	}
}

func TestExtractDispatchesByKind(t *testing.T) {
	stubFFprobe(t, func(ctx context.Context, path string) ([]byte, error) {
		return []byte(sampleProbeOutput), nil
	})

	blob, err := Extract(context.Background(), "clip.mov", mediatypes.KindVideo)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if blob == nil {
		t.Fatal("expected a metadata blob for a probed video")
	}

	// Documents have no adapter; nil blob, nil error.
	blob, err = Extract(context.Background(), "doc.pdf", mediatypes.KindDocument)
	if err != nil {
		t.Fatal(err)
	}
	if blob != nil {
		t.Errorf("document blob = %v, want nil", *blob)
	}
}
