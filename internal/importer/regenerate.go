package importer

import (
	"context"

	"media-archive/internal/database"
	"media-archive/internal/jobqueue"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
)

// RegenerateDerivedAssets re-enqueues enrichment jobs for every asset
// in a collection at batch priority, so routine imports are never
// starved behind a bulk regeneration. Generators short-circuit on
// outputs that already exist, so this is safe to run on a healthy
// collection.
func (im *Importer) RegenerateDerivedAssets(ctx context.Context, collectionID string) (int, error) {
	assets, err := im.db.ListAssetsByCollection(ctx, collectionID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, asset := range assets {
		payload := jobqueue.AssetPayload{
			Fingerprint:  asset.Fingerprint,
			ArchivePath:  asset.ArchivePath,
			Kind:         asset.Kind,
			CollectionID: asset.CollectionID,
		}

		var queues []jobqueue.QueueName
		switch asset.Kind {
		case mediatypes.KindImage:
			queues = []jobqueue.QueueName{jobqueue.QueueMetadata, jobqueue.QueueThumbnails}
			if mediatypes.IsRaw(asset.ArchivePath) {
				queues = append(queues, jobqueue.QueuePreview)
			}
		case mediatypes.KindVideo:
			queues = []jobqueue.QueueName{jobqueue.QueueMetadata, jobqueue.QueueThumbnails, jobqueue.QueueProxy}
		default:
			queues = []jobqueue.QueueName{jobqueue.QueueMetadata}
		}

		for _, q := range queues {
			if _, err := im.worker.Enqueue(ctx, q, payload, database.PriorityBatch); err != nil {
				logging.Error("Failed to enqueue %s regeneration for %s: %v", q, asset.Fingerprint, err)
				continue
			}
			enqueued++
		}
	}

	logging.Info("Regeneration for %s: %d jobs across %d assets", collectionID, enqueued, len(assets))
	return enqueued, nil
}
