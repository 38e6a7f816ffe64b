package jobqueue

import (
	"encoding/json"
	"fmt"

	"media-archive/internal/mediatypes"
)

// QueueName identifies one of the enrichment queues. The set is closed;
// adding a queue means adding a constant here and a handler at every
// dispatch site.
type QueueName string

const (
	// QueueMetadata extracts EXIF/probe metadata. Light, I/O-bound.
	QueueMetadata QueueName = "metadata"
	// QueueThumbnails renders the three thumbnail tiers. CPU-bound.
	QueueThumbnails QueueName = "thumbnails"
	// QueuePreview extracts embedded previews from RAW files.
	QueuePreview QueueName = "preview"
	// QueueProxy transcodes playback proxies. Heavy, CPU-bound.
	QueueProxy QueueName = "proxy"
	// QueueIntegrity appends newly placed files to the archive manifest.
	QueueIntegrity QueueName = "integrity"
)

// AllQueues lists every queue the pipeline uses.
var AllQueues = []QueueName{
	QueueMetadata,
	QueueThumbnails,
	QueuePreview,
	QueueProxy,
	QueueIntegrity,
}

// Valid reports whether q is a known queue.
func (q QueueName) Valid() bool {
	switch q {
	case QueueMetadata, QueueThumbnails, QueuePreview, QueueProxy, QueueIntegrity:
		return true
	}
	return false
}

// AssetPayload is the payload carried by every enrichment job: enough
// to locate the archived original and write results back to its asset
// record.
type AssetPayload struct {
	Fingerprint  string          `json:"fingerprint"`
	ArchivePath  string          `json:"archivePath"`
	Kind         mediatypes.Kind `json:"kind"`
	CollectionID string          `json:"collectionId"`
}

// Encode marshals the payload for storage in the job row.
func (p AssetPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload unmarshals a job payload.
func DecodePayload(payload string) (AssetPayload, error) {
	var p AssetPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return AssetPayload{}, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return p, nil
}
