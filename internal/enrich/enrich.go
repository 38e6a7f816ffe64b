package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-archive/internal/database"
	"media-archive/internal/integrity"
	"media-archive/internal/jobqueue"
	"media-archive/internal/logging"
	"media-archive/internal/media"
	"media-archive/internal/metadata"
	"media-archive/internal/metrics"
)

// Concurrency holds the per-queue worker ceilings.
type Concurrency struct {
	Metadata   int
	Thumbnails int
	Preview    int
	Proxy      int
	Integrity  int
}

// RegisterAll binds a handler to every queue. Call before the worker
// starts.
func RegisterAll(worker *jobqueue.Worker, db *database.Database, archiveRoot string, c Concurrency) error {
	e := &enricher{
		db:       db,
		root:     archiveRoot,
		thumbs:   media.NewThumbnailGenerator(archiveRoot),
		previews: media.NewPreviewExtractor(archiveRoot),
		proxies:  media.NewProxyGenerator(archiveRoot),
	}

	registrations := []struct {
		queue       jobqueue.QueueName
		concurrency int
		handler     jobqueue.Handler
	}{
		{jobqueue.QueueMetadata, c.Metadata, e.handleMetadata},
		{jobqueue.QueueThumbnails, c.Thumbnails, e.handleThumbnails},
		{jobqueue.QueuePreview, c.Preview, e.handlePreview},
		{jobqueue.QueueProxy, c.Proxy, e.handleProxy},
		{jobqueue.QueueIntegrity, c.Integrity, e.handleIntegrity},
	}
	for _, r := range registrations {
		if err := worker.RegisterQueue(r.queue, r.concurrency, r.handler); err != nil {
			return fmt.Errorf("failed to register %s queue: %w", r.queue, err)
		}
	}
	return nil
}

type enricher struct {
	db       *database.Database
	root     string
	thumbs   *media.ThumbnailGenerator
	previews *media.PreviewExtractor
	proxies  *media.ProxyGenerator
}

func decodeAsset(job *database.Job) (jobqueue.AssetPayload, error) {
	payload, err := jobqueue.DecodePayload(job.Payload)
	if err != nil {
		return jobqueue.AssetPayload{}, fmt.Errorf("bad job payload: %w", err)
	}
	return payload, nil
}

func (e *enricher) handleMetadata(ctx context.Context, job *database.Job, progress func(int)) error {
	payload, err := decodeAsset(job)
	if err != nil {
		return err
	}

	blob, err := metadata.Extract(ctx, filepath.Join(e.root, payload.ArchivePath), payload.Kind)
	if err != nil {
		return err
	}
	progress(50)

	if blob == nil {
		// Nothing usable; absence is a valid terminal state.
		logging.Debug("No metadata for %s", payload.Fingerprint)
		return nil
	}
	return e.db.SetAssetMetadata(ctx, payload.Fingerprint, blob)
}

func (e *enricher) handleThumbnails(ctx context.Context, job *database.Job, progress func(int)) error {
	payload, err := decodeAsset(job)
	if err != nil {
		return err
	}

	start := time.Now()
	set, err := e.thumbs.Generate(ctx, payload.ArchivePath, payload.Fingerprint, payload.Kind)
	metrics.DerivedAssetDuration.WithLabelValues("thumbnail").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, media.ErrNoResult) {
			metrics.DerivedAssetsTotal.WithLabelValues("thumbnail", "absent").Inc()
			return nil
		}
		metrics.DerivedAssetsTotal.WithLabelValues("thumbnail", "failed").Inc()
		return err
	}
	progress(80)

	metrics.DerivedAssetsTotal.WithLabelValues("thumbnail", "generated").Inc()
	return e.db.SetAssetThumbnails(ctx, payload.Fingerprint, &set.Small, &set.Medium, &set.Large)
}

func (e *enricher) handlePreview(ctx context.Context, job *database.Job, progress func(int)) error {
	payload, err := decodeAsset(job)
	if err != nil {
		return err
	}

	start := time.Now()
	relPath, err := e.previews.Extract(ctx, payload.ArchivePath, payload.Fingerprint)
	metrics.DerivedAssetDuration.WithLabelValues("preview").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, media.ErrNoResult) {
			metrics.DerivedAssetsTotal.WithLabelValues("preview", "absent").Inc()
			logging.Debug("No embedded preview in %s", payload.Fingerprint)
			return nil
		}
		metrics.DerivedAssetsTotal.WithLabelValues("preview", "failed").Inc()
		return err
	}
	progress(80)

	metrics.DerivedAssetsTotal.WithLabelValues("preview", "generated").Inc()
	return e.db.SetAssetPreview(ctx, payload.Fingerprint, &relPath)
}

func (e *enricher) handleProxy(ctx context.Context, job *database.Job, progress func(int)) error {
	payload, err := decodeAsset(job)
	if err != nil {
		return err
	}

	start := time.Now()
	relPath, err := e.proxies.Generate(ctx, payload.ArchivePath, payload.Fingerprint)
	metrics.DerivedAssetDuration.WithLabelValues("proxy").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, media.ErrNoResult) {
			metrics.DerivedAssetsTotal.WithLabelValues("proxy", "absent").Inc()
			logging.Debug("Proxy not needed for %s", payload.Fingerprint)
			return nil
		}
		metrics.DerivedAssetsTotal.WithLabelValues("proxy", "failed").Inc()
		return err
	}
	progress(90)

	metrics.DerivedAssetsTotal.WithLabelValues("proxy", "generated").Inc()
	return e.db.SetAssetProxy(ctx, payload.Fingerprint, &relPath)
}

// handleIntegrity appends the asset to its collection manifest. Serial
// by configuration: the manifest is rewritten whole on each append.
func (e *enricher) handleIntegrity(_ context.Context, job *database.Job, _ func(int)) error {
	payload, err := decodeAsset(job)
	if err != nil {
		return err
	}

	collectionRoot := filepath.Join(e.root, payload.CollectionID)
	relPath := strings.TrimPrefix(payload.ArchivePath, payload.CollectionID+"/")

	info, err := os.Stat(filepath.Join(e.root, payload.ArchivePath))
	if err != nil {
		return fmt.Errorf("archived file missing: %w", err)
	}

	metrics.IntegrityRunsTotal.WithLabelValues("append").Inc()
	return integrity.Record(collectionRoot, integrity.Entry{
		Fingerprint: payload.Fingerprint,
		Size:        info.Size(),
		RelPath:     relPath,
	})
}
