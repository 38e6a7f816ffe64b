// Package metadata wraps the external metadata tools (EXIF reader,
// video prober) behind per-file, non-fatal adapters. A tool that finds
// nothing usable yields a null result, never a pipeline failure.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"media-archive/internal/mediatypes"
)

// Extract runs the adapter for the file's kind and returns the metadata
// as a JSON blob, or (nil, nil) when nothing usable was found.
func Extract(ctx context.Context, path string, kind mediatypes.Kind) (*string, error) {
	switch kind {
	case mediatypes.KindImage:
		meta, err := ExtractImage(path)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			return nil, nil
		}
		return encodeMeta(meta)
	case mediatypes.KindVideo:
		meta, err := ProbeVideo(ctx, path)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			return nil, nil
		}
		return encodeMeta(meta)
	case mediatypes.KindDocument, mediatypes.KindOther:
		// No metadata adapter for documents; absence is a valid state.
		return nil, nil
	default:
		return nil, fmt.Errorf("unhandled media kind %q", kind)
	}
}

func encodeMeta(v interface{}) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	s := string(b)
	return &s, nil
}
