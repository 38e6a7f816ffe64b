package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"media-archive/internal/archive"
	"media-archive/internal/database"
	"media-archive/internal/hasher"
	"media-archive/internal/jobqueue"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"

	"github.com/google/uuid"
)

// DefaultChunkSize is the number of files placed per chunk when the
// caller does not override it.
const DefaultChunkSize = 32

// FileEntry names one file to import.
type FileEntry struct {
	Path        string `json:"path"`
	DisplayName string `json:"displayName,omitempty"`
}

// Options tune one import batch.
type Options struct {
	// DeleteOriginals removes each source file after its placement is
	// verified. Never before.
	DeleteOriginals bool
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
	// Progress, when non-nil, receives one event per finished chunk.
	// Events are dropped rather than block the import when the
	// consumer falls behind.
	Progress chan<- Progress
}

// Progress reports batch state after a chunk completes.
type Progress struct {
	BatchID    string `json:"batchId"`
	Attempted  int    `json:"attempted"`
	Total      int    `json:"total"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
	Errored    int    `json:"errored"`
}

// BatchSummary is the final accounting of one import batch. Imported,
// Duplicates and Errored always sum to Attempted; Errors names each
// errored file and why it failed.
type BatchSummary struct {
	BatchID    string               `json:"batchId"`
	Attempted  int                  `json:"attempted"`
	Imported   int                  `json:"imported"`
	Duplicates int                  `json:"duplicates"`
	Errored    int                  `json:"errored"`
	Errors     []database.FileError `json:"errors,omitempty"`
	Cancelled  bool                 `json:"cancelled"`
}

// Importer orchestrates import batches against one archive root.
type Importer struct {
	db          *database.Database
	worker      *jobqueue.Worker
	archiveRoot string
	chunkSize   int

	// afterBatch, when set, runs once after every batch that imported
	// at least one file. Used to trigger archive backups.
	afterBatch func(summary BatchSummary)

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an importer writing into the given archive root.
func New(db *database.Database, worker *jobqueue.Worker, archiveRoot string, chunkSize int) *Importer {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Importer{
		db:          db,
		worker:      worker,
		archiveRoot: archiveRoot,
		chunkSize:   chunkSize,
		running:     make(map[string]context.CancelFunc),
	}
}

// OnBatchFinished registers a hook run after each batch that imported
// files. Call before the first Import.
func (im *Importer) OnBatchFinished(fn func(summary BatchSummary)) {
	im.afterBatch = fn
}

// Import runs one batch to completion. Files are processed in chunks;
// cancellation via ctx or CancelImport takes effect between chunks, so
// a cancelled batch still has every attempted file fully settled.
func (im *Importer) Import(ctx context.Context, collectionID string, files []FileEntry, opts Options) (*BatchSummary, error) {
	batchID, err := im.createBatch(ctx, collectionID, files)
	if err != nil {
		return nil, err
	}
	return im.runBatch(ctx, batchID, collectionID, files, opts), nil
}

// StartImport creates the batch and runs it in the background,
// returning the batch id immediately. The running batch is detached
// from the caller's request; stop it via CancelImport.
func (im *Importer) StartImport(ctx context.Context, collectionID string, files []FileEntry, opts Options) (string, error) {
	batchID, err := im.createBatch(ctx, collectionID, files)
	if err != nil {
		return "", err
	}
	go im.runBatch(context.Background(), batchID, collectionID, files, opts)
	return batchID, nil
}

func (im *Importer) createBatch(ctx context.Context, collectionID string, files []FileEntry) (string, error) {
	if collectionID == "" {
		return "", fmt.Errorf("collection id is required")
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no files to import")
	}

	batch := &database.ImportBatch{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		Total:        len(files),
		StartedAt:    time.Now(),
	}
	if err := im.db.CreateBatch(ctx, batch); err != nil {
		return "", err
	}
	return batch.ID, nil
}

func (im *Importer) runBatch(ctx context.Context, batchID, collectionID string, files []FileEntry, opts Options) *BatchSummary {
	chunkSize := im.chunkSize
	if opts.ChunkSize > 0 {
		chunkSize = opts.ChunkSize
	}

	ctx, cancel := context.WithCancel(ctx)
	im.mu.Lock()
	im.running[batchID] = cancel
	im.mu.Unlock()
	defer func() {
		cancel()
		im.mu.Lock()
		delete(im.running, batchID)
		im.mu.Unlock()
	}()

	metrics.ImportBatchesTotal.Inc()
	metrics.ImportsInFlight.Inc()
	defer metrics.ImportsInFlight.Dec()

	placer := archive.NewPlacer(im.archiveRoot, opts.DeleteOriginals)
	summary := &BatchSummary{BatchID: batchID}

	logging.Info("Import batch %s started: %d files into %s (chunk size %d)",
		batchID, len(files), collectionID, chunkSize)

	for start := 0; start < len(files); start += chunkSize {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		end := start + chunkSize
		if end > len(files) {
			end = len(files)
		}

		chunkStart := time.Now()
		// A chunk always settles in full; cancellation is honored at
		// the chunk boundary above.
		im.processChunk(context.WithoutCancel(ctx), placer, collectionID, files[start:end], summary)
		metrics.ImportChunkDuration.Observe(time.Since(chunkStart).Seconds())

		if err := im.db.UpdateBatchCounts(ctx, batchID, summary.Imported, summary.Duplicates, summary.Errored, summary.Errors); err != nil {
			logging.Warn("Failed to persist batch %s counts: %v", batchID, err)
		}
		im.report(opts.Progress, batchID, len(files), summary)
	}

	summary.Attempted = summary.Imported + summary.Duplicates + summary.Errored

	// A cancelled batch counts only the files it actually attempted.
	total := len(files)
	if summary.Cancelled {
		total = summary.Attempted
	}

	// Final accounting must land even when the batch was cancelled, so
	// it does not ride the cancelled context.
	if err := im.db.FinishBatch(context.Background(), batchID, total, summary.Imported, summary.Duplicates, summary.Errored, summary.Cancelled, summary.Errors); err != nil {
		logging.Warn("Failed to finish batch %s: %v", batchID, err)
	}

	logging.Info("Import batch %s done: %d imported, %d duplicates, %d errored (cancelled=%v)",
		batchID, summary.Imported, summary.Duplicates, summary.Errored, summary.Cancelled)

	if im.afterBatch != nil && summary.Imported > 0 {
		im.afterBatch(*summary)
	}
	return summary
}

// CancelImport requests cancellation of a running batch. Returns false
// when no such batch is running.
func (im *Importer) CancelImport(batchID string) bool {
	im.mu.Lock()
	cancel, ok := im.running[batchID]
	im.mu.Unlock()

	if ok {
		logging.Info("Cancelling import batch %s", batchID)
		cancel()
	}
	return ok
}

// processChunk settles every file in the chunk. A panic anywhere in the
// chunk marks its unsettled files errored and lets the batch continue
// with the next chunk.
func (im *Importer) processChunk(ctx context.Context, placer *archive.Placer, collectionID string, chunk []FileEntry, summary *BatchSummary) {
	settled := 0
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Import chunk panicked: %v", rec)
			for i := settled; i < len(chunk); i++ {
				summary.Errored++
				summary.Errors = append(summary.Errors, database.FileError{
					Path:   chunk[i].Path,
					Reason: fmt.Sprintf("import chunk panicked: %v", rec),
				})
				metrics.ImportFilesTotal.WithLabelValues("errored").Inc()
			}
		}
	}()

	for _, entry := range chunk {
		outcome, err := im.importFile(ctx, placer, collectionID, entry)
		if err != nil {
			logging.Warn("Import of %s failed: %v", entry.Path, err)
			summary.Errored++
			summary.Errors = append(summary.Errors, database.FileError{Path: entry.Path, Reason: err.Error()})
			metrics.ImportFilesTotal.WithLabelValues("errored").Inc()
		} else if outcome == outcomeDuplicate {
			summary.Duplicates++
			metrics.ImportFilesTotal.WithLabelValues("duplicate").Inc()
		} else {
			summary.Imported++
			metrics.ImportFilesTotal.WithLabelValues("imported").Inc()
		}
		settled++
	}
}

type fileOutcome int

const (
	outcomeImported fileOutcome = iota
	outcomeDuplicate
)

// importFile settles a single file: fingerprint, duplicate check,
// placement, catalog row, then enrichment jobs. Any failure leaves the
// catalog untouched for this file.
func (im *Importer) importFile(ctx context.Context, placer *archive.Placer, collectionID string, entry FileEntry) (fileOutcome, error) {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return 0, fmt.Errorf("source not readable: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("source is a directory")
	}

	fingerprint, err := hasher.Hash(entry.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to fingerprint: %w", err)
	}

	existing, err := im.db.GetAssetByFingerprint(ctx, fingerprint)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		logging.Debug("Duplicate of %s: %s", existing.ArchivePath, entry.Path)
		return outcomeDuplicate, nil
	}

	archivePath, err := placer.Place(entry.Path, fingerprint, collectionID)
	if err != nil {
		return 0, err
	}

	displayName := entry.DisplayName
	if displayName == "" {
		displayName = filepath.Base(entry.Path)
	}
	asset := &database.MediaAsset{
		Fingerprint:  fingerprint,
		Kind:         mediatypes.KindForPath(entry.Path),
		ArchivePath:  archivePath,
		OriginalName: displayName,
		CollectionID: collectionID,
		Size:         info.Size(),
	}
	if err := im.db.InsertAsset(ctx, asset); err != nil {
		return 0, err
	}

	im.enqueueEnrichment(ctx, asset, entry.Path)
	return outcomeImported, nil
}

// enqueueEnrichment schedules the queue jobs applicable to the asset's
// kind. Enqueue failures degrade the asset, not the import: the file is
// safely archived either way and jobs can be re-run via regeneration.
func (im *Importer) enqueueEnrichment(ctx context.Context, asset *database.MediaAsset, sourcePath string) {
	payload := jobqueue.AssetPayload{
		Fingerprint:  asset.Fingerprint,
		ArchivePath:  asset.ArchivePath,
		Kind:         asset.Kind,
		CollectionID: asset.CollectionID,
	}

	queues := []jobqueue.QueueName{jobqueue.QueueMetadata, jobqueue.QueueIntegrity}
	switch asset.Kind {
	case mediatypes.KindImage:
		queues = append(queues, jobqueue.QueueThumbnails)
		if mediatypes.IsRaw(sourcePath) {
			queues = append(queues, jobqueue.QueuePreview)
		}
	case mediatypes.KindVideo:
		queues = append(queues, jobqueue.QueueThumbnails, jobqueue.QueueProxy)
	}

	for _, q := range queues {
		if _, err := im.worker.Enqueue(ctx, q, payload, database.PriorityNormal); err != nil {
			logging.Error("Failed to enqueue %s job for %s: %v", q, asset.Fingerprint, err)
		}
	}
}

func (im *Importer) report(ch chan<- Progress, batchID string, total int, summary *BatchSummary) {
	if ch == nil {
		return
	}
	p := Progress{
		BatchID:    batchID,
		Attempted:  summary.Imported + summary.Duplicates + summary.Errored,
		Total:      total,
		Imported:   summary.Imported,
		Duplicates: summary.Duplicates,
		Errored:    summary.Errored,
	}
	select {
	case ch <- p:
	default:
	}
}
