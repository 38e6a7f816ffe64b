package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"media-archive/internal/logging"
)

// VideoMeta holds the metadata probed from a video file.
type VideoMeta struct {
	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Codec    string  `json:"codec,omitempty"`
	Audio    string  `json:"audio,omitempty"`
}

// runFFprobe is swapped in tests.
var runFFprobe = func(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeVideo extracts duration, dimensions and codec from a video file
// by invoking ffprobe. A file ffprobe cannot parse returns (nil, nil):
// the pipeline proceeds without video metadata.
func ProbeVideo(ctx context.Context, path string) (*VideoMeta, error) {
	out, err := runFFprobe(ctx, path)
	if err != nil {
		logging.Debug("ffprobe failed for %s: %v", path, err)
		return nil, nil
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		logging.Debug("ffprobe output unparseable for %s: %v", path, err)
		return nil, nil
	}

	meta := &VideoMeta{}
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			if meta.Codec == "" {
				meta.Codec = s.CodecName
				meta.Width = s.Width
				meta.Height = s.Height
			}
		case "audio":
			if meta.Audio == "" {
				meta.Audio = s.CodecName
			}
		}
	}
	if probed.Format.Duration != "" {
		meta.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	}

	if *meta == (VideoMeta{}) {
		return nil, nil
	}
	return meta, nil
}

// compatibleCodecs and compatibleContainers describe what plays without
// a transcoded proxy.
var compatibleCodecs = map[string]bool{
	"h264": true,
	"vp8":  true,
	"vp9":  true,
	"av1":  true,
}

var compatibleContainers = map[string]bool{
	"mp4":  true,
	"webm": true,
	"ogg":  true,
}

// NeedsProxy reports whether a video with the given metadata and file
// extension needs a transcoded playback proxy.
func NeedsProxy(meta *VideoMeta, path string) bool {
	if meta == nil {
		// Nothing probed; assume a proxy is needed so the file stays
		// playable.
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return !compatibleCodecs[meta.Codec] || !compatibleContainers[ext]
}
