package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-archive/internal/database"
	"media-archive/internal/jobqueue"
)

func newTestImporter(t *testing.T, chunkSize int) (*Importer, *database.Database, string) {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// The worker is never started: enqueued jobs stay pending, which
	// lets tests assert exactly what the import scheduled.
	worker := jobqueue.NewWorker(db)
	root := t.TempDir()
	return New(db, worker, root, chunkSize), db, root
}

func writeSource(t *testing.T, dir, name, content string) FileEntry {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return FileEntry{Path: path}
}

func TestImportAccountsForEveryFile(t *testing.T) {
	im, db, _ := newTestImporter(t, 2)
	ctx := context.Background()
	src := t.TempDir()

	files := []FileEntry{
		writeSource(t, src, "a.jpg", "aaa"),
		writeSource(t, src, "b.jpg", "bbb"),
		writeSource(t, src, "c.png", "ccc"),
		{Path: filepath.Join(src, "missing.jpg")},
		writeSource(t, src, "d.mp4", "ddd"),
	}

	summary, err := im.Import(ctx, "vacation", files, Options{})
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}

	if summary.Imported != 4 {
		t.Errorf("imported = %d, want 4", summary.Imported)
	}
	if summary.Errored != 1 {
		t.Errorf("errored = %d, want 1", summary.Errored)
	}
	if summary.Imported+summary.Duplicates+summary.Errored != summary.Attempted {
		t.Errorf("outcome counts %d+%d+%d do not sum to attempted %d",
			summary.Imported, summary.Duplicates, summary.Errored, summary.Attempted)
	}

	// The errored file is named, with a readable reason.
	if len(summary.Errors) != 1 {
		t.Fatalf("summary errors = %v, want exactly 1", summary.Errors)
	}
	if summary.Errors[0].Path != files[3].Path {
		t.Errorf("error names %s, want %s", summary.Errors[0].Path, files[3].Path)
	}
	if summary.Errors[0].Reason == "" {
		t.Error("error reason is empty")
	}

	batch, err := db.GetBatch(ctx, summary.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if batch.FinishedAt == nil {
		t.Error("batch not finished")
	}
	if batch.Imported != 4 || batch.Errored != 1 {
		t.Errorf("persisted counts = %d/%d, want 4/1", batch.Imported, batch.Errored)
	}
	if len(batch.Errors) != 1 || batch.Errors[0].Path != files[3].Path {
		t.Errorf("persisted errors = %v, want the failing file named", batch.Errors)
	}
}

func TestImportPlacesFilesInShardedLayout(t *testing.T) {
	im, db, root := newTestImporter(t, 0)
	ctx := context.Background()
	src := t.TempDir()

	entry := writeSource(t, src, "photo.jpg", "photo bytes")
	summary, err := im.Import(ctx, "vacation", []FileEntry{entry}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Imported != 1 {
		t.Fatalf("imported = %d, want 1", summary.Imported)
	}

	assets, err := db.ListAssetsByCollection(ctx, "vacation")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 {
		t.Fatalf("got %d assets, want 1", len(assets))
	}
	a := assets[0]

	// vacation/<shard>/<fingerprint>.jpg, shard = first two hex chars.
	want := fmt.Sprintf("vacation/%s/%s.jpg", a.Fingerprint[:2], a.Fingerprint)
	if a.ArchivePath != want {
		t.Errorf("archive path = %s, want %s", a.ArchivePath, want)
	}
	if _, err := os.Stat(filepath.Join(root, a.ArchivePath)); err != nil {
		t.Errorf("archived file missing: %v", err)
	}
	if a.OriginalName != "photo.jpg" {
		t.Errorf("original name = %s", a.OriginalName)
	}
}

func TestImportDetectsDuplicates(t *testing.T) {
	im, _, _ := newTestImporter(t, 0)
	ctx := context.Background()
	src := t.TempDir()

	entry := writeSource(t, src, "a.jpg", "same bytes")
	if _, err := im.Import(ctx, "vacation", []FileEntry{entry}, Options{}); err != nil {
		t.Fatal(err)
	}

	// Identical content under a different name is still a duplicate.
	copied := writeSource(t, src, "renamed.jpg", "same bytes")
	summary, err := im.Import(ctx, "vacation", []FileEntry{copied}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Duplicates != 1 || summary.Imported != 0 {
		t.Errorf("summary = %+v, want 1 duplicate and 0 imported", summary)
	}
}

func TestImportDeleteOriginals(t *testing.T) {
	im, _, _ := newTestImporter(t, 0)
	src := t.TempDir()

	entry := writeSource(t, src, "a.jpg", "bytes")
	if _, err := im.Import(context.Background(), "vacation", []FileEntry{entry}, Options{DeleteOriginals: true}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(entry.Path); !os.IsNotExist(err) {
		t.Error("source file should have been removed after verified placement")
	}
}

func TestImportCancelledBatchSettlesAttemptedFiles(t *testing.T) {
	im, db, _ := newTestImporter(t, 2)
	src := t.TempDir()

	var files []FileEntry
	for i := 0; i < 6; i++ {
		files = append(files, writeSource(t, src, fmt.Sprintf("f%d.jpg", i), fmt.Sprintf("content %d", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := im.Import(ctx, "vacation", files, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !summary.Cancelled {
		t.Error("summary should be marked cancelled")
	}
	if summary.Attempted != summary.Imported+summary.Duplicates+summary.Errored {
		t.Error("cancelled batch left files unsettled")
	}

	// The persisted total shrinks to what was actually attempted.
	batch, err := db.GetBatch(context.Background(), summary.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if !batch.Cancelled {
		t.Error("batch not recorded as cancelled")
	}
	if batch.Total != summary.Attempted {
		t.Errorf("batch total = %d, want attempted %d", batch.Total, summary.Attempted)
	}
}

func TestImportEnqueuesEnrichmentByKind(t *testing.T) {
	im, db, _ := newTestImporter(t, 0)
	ctx := context.Background()
	src := t.TempDir()

	files := []FileEntry{
		writeSource(t, src, "a.jpg", "image bytes"),
		writeSource(t, src, "b.cr2", "raw bytes"),
		writeSource(t, src, "c.mp4", "video bytes"),
		writeSource(t, src, "d.pdf", "document bytes"),
	}
	if _, err := im.Import(ctx, "vacation", files, Options{}); err != nil {
		t.Fatal(err)
	}

	stats, err := db.JobQueueStats(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Every asset gets metadata and integrity. Thumbnails for the two
	// images and the video, a preview only for the RAW, a proxy only for
	// the video.
	wantPending := map[string]int{
		"metadata":   4,
		"integrity":  4,
		"thumbnails": 3,
		"preview":    1,
		"proxy":      1,
	}
	for queue, want := range wantPending {
		if got := stats[queue].Pending; got != want {
			t.Errorf("queue %s has %d pending jobs, want %d", queue, got, want)
		}
	}
}

func TestStartImportRunsInBackground(t *testing.T) {
	im, db, _ := newTestImporter(t, 0)
	ctx := context.Background()
	src := t.TempDir()

	entry := writeSource(t, src, "a.jpg", "bytes")
	batchID, err := im.StartImport(ctx, "vacation", []FileEntry{entry}, Options{})
	if err != nil {
		t.Fatalf("StartImport() error: %v", err)
	}
	if batchID == "" {
		t.Fatal("empty batch id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		batch, err := db.GetBatch(ctx, batchID)
		if err != nil {
			t.Fatal(err)
		}
		if batch.FinishedAt != nil {
			if batch.Imported != 1 {
				t.Errorf("imported = %d, want 1", batch.Imported)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("background import never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestImportValidation(t *testing.T) {
	im, _, _ := newTestImporter(t, 0)
	ctx := context.Background()
	src := t.TempDir()
	entry := writeSource(t, src, "a.jpg", "bytes")

	if _, err := im.Import(ctx, "", []FileEntry{entry}, Options{}); err == nil {
		t.Error("empty collection id should be rejected")
	}
	if _, err := im.Import(ctx, "vacation", nil, Options{}); err == nil {
		t.Error("empty file list should be rejected")
	}
}

func TestCancelImportUnknownBatch(t *testing.T) {
	im, _, _ := newTestImporter(t, 0)
	if im.CancelImport("no-such-batch") {
		t.Error("cancelling an unknown batch should report false")
	}
}

func TestImportReportsProgressPerChunk(t *testing.T) {
	im, _, _ := newTestImporter(t, 2)
	src := t.TempDir()

	var files []FileEntry
	for i := 0; i < 4; i++ {
		files = append(files, writeSource(t, src, fmt.Sprintf("f%d.jpg", i), fmt.Sprintf("content %d", i)))
	}

	progress := make(chan Progress, 16)
	if _, err := im.Import(context.Background(), "vacation", files, Options{Progress: progress}); err != nil {
		t.Fatal(err)
	}
	close(progress)

	var events []Progress
	for p := range progress {
		events = append(events, p)
	}
	if len(events) != 2 {
		t.Fatalf("got %d progress events, want 2 (one per chunk)", len(events))
	}
	last := events[len(events)-1]
	if last.Attempted != 4 || last.Imported != 4 {
		t.Errorf("final progress = %+v", last)
	}
}
