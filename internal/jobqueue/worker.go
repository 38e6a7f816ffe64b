package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"media-archive/internal/database"
	"media-archive/internal/logging"
	"media-archive/internal/metrics"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBackoffBase  = 5 * time.Second
	defaultMaxAttempts  = 3

	// After this many consecutive claim failures the store itself is
	// considered broken and the worker halts.
	maxStoreFailures = 5
)

// Handler processes one claimed job. The progress callback may be
// called at any point to report completion percentage; it never blocks.
type Handler func(ctx context.Context, job *database.Job, progress func(percent int)) error

// Handle is returned by Enqueue. It carries the job id and a future the
// caller may wait on or ignore; failures are logged either way, so a
// dropped handle never swallows an error.
type Handle struct {
	JobID string

	done chan struct{}
	err  error
}

// Done returns a channel closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error, if any. Only valid after Done() is
// closed.
func (h *Handle) Err() error {
	return h.err
}

type queueRunner struct {
	name     QueueName
	handler  Handler
	limit    int
	inflight chan struct{} // semaphore, capacity == limit
}

// Worker polls the durable queues on a fixed interval and dispatches
// claimed jobs into bounded per-queue pools. Its lifetime is owned by
// the caller: construct it, register queues, Start, and Stop to drain.
type Worker struct {
	db           *database.Database
	pollInterval time.Duration
	backoffBase  time.Duration
	maxAttempts  int

	mu      sync.RWMutex
	runners map[QueueName]*queueRunner
	waiters map[string]*Handle
	started bool

	events chan Event
	fatal  chan error
	stop   chan struct{}
	wg     sync.WaitGroup
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the dispatch loop interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithBackoffBase sets the base delay for retry backoff. The delay
// doubles with each attempt.
func WithBackoffBase(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d >= 0 {
			w.backoffBase = d
		}
	}
}

// WithMaxAttempts sets the default attempt ceiling for enqueued jobs.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// NewWorker creates a worker bound to the given store.
func NewWorker(db *database.Database, opts ...WorkerOption) *Worker {
	w := &Worker{
		db:           db,
		pollInterval: defaultPollInterval,
		backoffBase:  defaultBackoffBase,
		maxAttempts:  defaultMaxAttempts,
		runners:      make(map[QueueName]*queueRunner),
		waiters:      make(map[string]*Handle),
		events:       make(chan Event, 256),
		fatal:        make(chan error, 1),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RegisterQueue binds a handler and a concurrency ceiling to a queue.
// Must be called before Start.
func (w *Worker) RegisterQueue(name QueueName, concurrency int, handler Handler) error {
	if !name.Valid() {
		return fmt.Errorf("unknown queue %q", name)
	}
	if concurrency < 1 {
		return fmt.Errorf("queue %s: concurrency must be at least 1", name)
	}
	if handler == nil {
		return fmt.Errorf("queue %s: handler is nil", name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("cannot register queues after Start")
	}
	w.runners[name] = &queueRunner{
		name:     name,
		handler:  handler,
		limit:    concurrency,
		inflight: make(chan struct{}, concurrency),
	}
	return nil
}

// Enqueue creates a job on the named queue and returns a handle the
// caller may await or drop.
func (w *Worker) Enqueue(ctx context.Context, queue QueueName, payload AssetPayload, priority int) (*Handle, error) {
	if !queue.Valid() {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}

	encoded, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	id, err := w.db.EnqueueJob(ctx, string(queue), encoded, priority, w.maxAttempts)
	if err != nil {
		return nil, err
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(queue)).Inc()

	h := &Handle{JobID: id, done: make(chan struct{})}
	w.mu.Lock()
	w.waiters[id] = h
	w.mu.Unlock()

	logging.Debug("Enqueued job %s on %s (fingerprint %s)", id, queue, payload.Fingerprint)
	return h, nil
}

// Events returns the lifecycle event channel. Events are dropped rather
// than block the dispatch loop when the consumer falls behind.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Fatal receives at most one error: a structural store failure that
// halted the worker.
func (w *Worker) Fatal() <-chan error {
	return w.fatal
}

// Start launches the dispatch loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
	logging.Info("Job worker started (poll interval %v, %d queues)", w.pollInterval, len(w.runners))
}

// Stop halts dispatching and waits for every in-flight handler to
// finish. Handlers are never killed mid-run.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	logging.Info("Job worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	storeFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.dispatchOnce(ctx); err != nil {
				storeFailures++
				logging.Error("Job store access failed (%d/%d): %v", storeFailures, maxStoreFailures, err)
				if storeFailures >= maxStoreFailures {
					select {
					case w.fatal <- fmt.Errorf("job store unavailable: %w", err):
					default:
					}
					return
				}
			} else {
				storeFailures = 0
			}
		}
	}
}

// dispatchOnce claims at most one job per queue with free capacity and
// dispatches each into that queue's pool. Returns an error only for
// store access failures; handler failures are contained per job.
func (w *Worker) dispatchOnce(ctx context.Context) error {
	w.mu.RLock()
	runners := make([]*queueRunner, 0, len(w.runners))
	for _, r := range w.runners {
		runners = append(runners, r)
	}
	w.mu.RUnlock()

	for _, r := range runners {
		select {
		case r.inflight <- struct{}{}:
			// Capacity available; try to claim.
		default:
			continue
		}

		job, err := w.db.ClaimNextJob(ctx, string(r.name))
		if err != nil {
			<-r.inflight
			return err
		}
		if job == nil {
			<-r.inflight
			continue
		}

		w.emit(Event{Type: EventClaimed, JobID: job.ID, Queue: r.name, Attempt: job.Attempts, Time: time.Now()})

		w.wg.Add(1)
		go w.runJob(ctx, r, job)
	}
	return nil
}

func (w *Worker) runJob(ctx context.Context, r *queueRunner, job *database.Job) {
	defer w.wg.Done()
	defer func() { <-r.inflight }()

	// The dispatch context only stops claiming. A claimed job always
	// runs to a settled state (Stop waits for it), so neither the
	// handler nor the completed/failed transition may ride a context
	// that dies with the dispatch loop.
	ctx = context.WithoutCancel(ctx)

	metrics.JobsInFlight.WithLabelValues(string(r.name)).Inc()
	defer metrics.JobsInFlight.WithLabelValues(string(r.name)).Dec()

	start := time.Now()
	err := w.invoke(ctx, r, job)
	metrics.JobDuration.WithLabelValues(string(r.name)).Observe(time.Since(start).Seconds())

	if err == nil {
		if cErr := w.db.CompleteJob(ctx, job.ID); cErr != nil {
			logging.Error("Failed to mark job %s completed: %v", job.ID, cErr)
		}
		metrics.JobsCompletedTotal.WithLabelValues(string(r.name), "completed").Inc()
		w.emit(Event{Type: EventCompleted, JobID: job.ID, Queue: r.name, Attempt: job.Attempts, Time: time.Now()})
		w.resolve(job.ID, nil)
		return
	}

	logging.Warn("Job %s on %s failed (attempt %d/%d): %v", job.ID, r.name, job.Attempts, job.MaxAttempts, err)

	backoff := w.backoffBase << (job.Attempts - 1)
	state, fErr := w.db.FailJob(ctx, job.ID, err.Error(), backoff)
	if fErr != nil {
		logging.Error("Failed to mark job %s failed: %v", job.ID, fErr)
		return
	}

	if state == database.JobDeadLetter {
		metrics.JobsCompletedTotal.WithLabelValues(string(r.name), "dead_letter").Inc()
		w.emit(Event{Type: EventDeadLettered, JobID: job.ID, Queue: r.name, Attempt: job.Attempts, Error: err.Error(), Time: time.Now()})
		w.resolve(job.ID, fmt.Errorf("job dead-lettered after %d attempts: %w", job.Attempts, err))
		return
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(r.name), "failed").Inc()
	w.emit(Event{Type: EventFailed, JobID: job.ID, Queue: r.name, Attempt: job.Attempts, Error: err.Error(), Time: time.Now()})
}

// invoke runs the handler with panic containment: a panicking handler
// fails its job instead of killing the worker.
func (w *Worker) invoke(ctx context.Context, r *queueRunner, job *database.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()

	progress := func(percent int) {
		w.emit(Event{Type: EventProgress, JobID: job.ID, Queue: r.name, Attempt: job.Attempts, Percent: percent, Time: time.Now()})
	}

	return r.handler(ctx, job, progress)
}

// resolve completes the handle of an in-process enqueuer, if any.
func (w *Worker) resolve(jobID string, err error) {
	w.mu.Lock()
	h, ok := w.waiters[jobID]
	if ok {
		delete(w.waiters, jobID)
	}
	w.mu.Unlock()

	if ok {
		h.err = err
		close(h.done)
	}
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		// Consumer is behind; dropping beats blocking the dispatcher.
	}
}
