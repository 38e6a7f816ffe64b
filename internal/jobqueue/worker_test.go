package jobqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"media-archive/internal/database"
)

func newTestWorker(t *testing.T, opts ...WorkerOption) (*Worker, *database.Database) {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	base := []WorkerOption{
		WithPollInterval(10 * time.Millisecond),
		WithBackoffBase(0),
	}
	return NewWorker(db, append(base, opts...)...), db
}

func testPayload() AssetPayload {
	return AssetPayload{
		Fingerprint:  "ab12cd34",
		ArchivePath:  "col1/ab/ab12cd34.jpg",
		Kind:         "image",
		CollectionID: "col1",
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to settle")
	}
}

func TestWorkerRunsJobToCompletion(t *testing.T) {
	w, _ := newTestWorker(t)

	var ran atomic.Int32
	err := w.RegisterQueue(QueueMetadata, 1, func(ctx context.Context, job *database.Job, progress func(int)) error {
		ran.Add(1)
		progress(100)
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterQueue() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	h, err := w.Enqueue(ctx, QueueMetadata, testPayload(), database.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	waitDone(t, h)
	if h.Err() != nil {
		t.Errorf("job error = %v, want nil", h.Err())
	}
	if got := ran.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	const maxAttempts = 2
	w, db := newTestWorker(t, WithMaxAttempts(maxAttempts))

	var ran atomic.Int32
	if err := w.RegisterQueue(QueueThumbnails, 1, func(ctx context.Context, job *database.Job, progress func(int)) error {
		ran.Add(1)
		return errors.New("always broken")
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	h, err := w.Enqueue(ctx, QueueThumbnails, testPayload(), database.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}

	waitDone(t, h)
	if h.Err() == nil {
		t.Fatal("dead-lettered job should resolve with an error")
	}

	if got := ran.Load(); got != maxAttempts {
		t.Errorf("handler ran %d times, want exactly %d", got, maxAttempts)
	}

	job, err := db.GetJob(ctx, h.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != database.JobDeadLetter {
		t.Errorf("final state = %s, want dead_letter", job.State)
	}
}

func TestWorkerContainsHandlerPanic(t *testing.T) {
	w, db := newTestWorker(t, WithMaxAttempts(1))

	if err := w.RegisterQueue(QueuePreview, 1, func(ctx context.Context, job *database.Job, progress func(int)) error {
		panic("handler bug")
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	h, err := w.Enqueue(ctx, QueuePreview, testPayload(), database.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}

	// The panic must fail the job, not kill the worker.
	waitDone(t, h)
	if h.Err() == nil {
		t.Error("panicking handler should fail its job")
	}

	job, err := db.GetJob(ctx, h.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.LastError == nil {
		t.Fatal("panic message not recorded")
	}
}

func TestWorkerRespectsConcurrencyLimit(t *testing.T) {
	w, _ := newTestWorker(t)

	var inFlight, peak atomic.Int32
	if err := w.RegisterQueue(QueueMetadata, 2, func(ctx context.Context, job *database.Job, progress func(int)) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	var handles []*Handle
	for i := 0; i < 6; i++ {
		h, err := w.Enqueue(ctx, QueueMetadata, testPayload(), database.PriorityNormal)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		waitDone(t, h)
	}

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}

func TestStopDrainsInFlightJobs(t *testing.T) {
	w, db := newTestWorker(t)

	started := make(chan struct{})
	var finished atomic.Bool
	if err := w.RegisterQueue(QueueProxy, 1, func(ctx context.Context, job *database.Job, progress func(int)) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	h, err := w.Enqueue(ctx, QueueProxy, testPayload(), database.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}

	<-started
	w.Stop()

	if !finished.Load() {
		t.Error("Stop() returned before the in-flight handler finished")
	}

	job, err := db.GetJob(context.Background(), h.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != database.JobCompleted {
		t.Errorf("job state after drain = %s, want completed", job.State)
	}
}

func TestDispatchCancelDoesNotAbandonInFlightJobs(t *testing.T) {
	w, db := newTestWorker(t)

	started := make(chan struct{})
	release := make(chan struct{})
	if err := w.RegisterQueue(QueueProxy, 1, func(ctx context.Context, job *database.Job, progress func(int)) error {
		close(started)
		<-release
		// A handler must never see the dispatch context's cancellation.
		return ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	h, err := w.Enqueue(ctx, QueueProxy, testPayload(), database.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}

	<-started
	// Cancel mid-run, as a shutdown would. The job must still settle:
	// left in processing it would never be claimable again.
	cancel()
	close(release)
	w.Stop()

	job, err := db.GetJob(context.Background(), h.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != database.JobCompleted {
		t.Errorf("job state after dispatch cancel = %s, want completed", job.State)
	}
}

func TestRegisterQueueValidation(t *testing.T) {
	w, _ := newTestWorker(t)

	noop := func(ctx context.Context, job *database.Job, progress func(int)) error { return nil }

	if err := w.RegisterQueue("bogus", 1, noop); err == nil {
		t.Error("unknown queue name should be rejected")
	}
	if err := w.RegisterQueue(QueueMetadata, 0, noop); err == nil {
		t.Error("zero concurrency should be rejected")
	}
	if err := w.RegisterQueue(QueueMetadata, 1, nil); err == nil {
		t.Error("nil handler should be rejected")
	}
}

func TestEnqueueRejectsUnknownQueue(t *testing.T) {
	w, _ := newTestWorker(t)
	if _, err := w.Enqueue(context.Background(), "bogus", testPayload(), database.PriorityNormal); err == nil {
		t.Error("unknown queue should be rejected")
	}
}

func TestEventsAreEmitted(t *testing.T) {
	w, _ := newTestWorker(t)

	if err := w.RegisterQueue(QueueMetadata, 1, func(ctx context.Context, job *database.Job, progress func(int)) error {
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	h, err := w.Enqueue(ctx, QueueMetadata, testPayload(), database.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, h)

	seen := map[EventType]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[EventClaimed] || !seen[EventCompleted] {
		select {
		case ev := <-w.Events():
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := testPayload()
	encoded, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload() error: %v", err)
	}
	if decoded != p {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, p)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload("not json"); err == nil {
		t.Error("garbage payload should fail to decode")
	}
}
