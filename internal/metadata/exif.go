package metadata

import (
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"media-archive/internal/logging"
)

// ImageMeta holds the metadata extracted from an image file.
type ImageMeta struct {
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	CaptureTime  *time.Time `json:"captureTime,omitempty"`
	CameraMake   string     `json:"cameraMake,omitempty"`
	CameraModel  string     `json:"cameraModel,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	ExposureTime string     `json:"exposureTime,omitempty"`
	FNumber      string     `json:"fNumber,omitempty"`
	ISO          string     `json:"iso,omitempty"`
}

// ExtractImage reads EXIF metadata from an image file. A file with no
// usable EXIF data returns (nil, nil): absence of metadata is a valid
// archive state, not a failure. Only an unreadable file is an error.
func ExtractImage(path string) (*ImageMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF segment, or a format goexif cannot parse.
		logging.Debug("No usable EXIF in %s: %v", path, err)
		return nil, nil
	}

	meta := &ImageMeta{}

	if tag, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Width = v
		}
	}
	if tag, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta.Height = v
		}
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil {
			meta.CameraMake = v
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil {
			meta.CameraModel = v
		}
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		meta.ExposureTime = tag.String()
	}
	if tag, err := x.Get(exif.FNumber); err == nil {
		meta.FNumber = tag.String()
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		meta.ISO = tag.String()
	}

	if dt, err := x.DateTime(); err == nil {
		meta.CaptureTime = &dt
	}

	if lat, long, err := x.LatLong(); err == nil {
		meta.Latitude = &lat
		meta.Longitude = &long
	}

	if *meta == (ImageMeta{}) {
		return nil, nil
	}
	return meta, nil
}
